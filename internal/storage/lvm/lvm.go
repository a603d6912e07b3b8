// Package lvm implements the local_lv disk driver: a non-replicated
// VM disk backed directly by an LVM logical volume, invoked through
// the real lvm2 CLI tools (§4.7 supplement). There is no Go LVM
// binding anywhere in the example pack, so this shells out exactly as
// the original implementation's System.runCommand did.
package lvm

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"

	"github.com/pkg/errors"
)

var volumeGroupPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// DiskName returns the logical volume name for a VM's disk, per the
// block-device naming rule: mcvirt_vm-<vm>-disk-<n>.
func DiskName(vmName string, diskID int) string {
	return fmt.Sprintf("mcvirt_vm-%s-disk-%d", vmName, diskID)
}

// DiskPath returns the full device path of a disk's logical volume.
func DiskPath(volumeGroup, vmName string, diskID int) string {
	return "/dev/" + volumeGroup + "/" + DiskName(vmName, diskID)
}

// Driver runs lvcreate/lvremove/lvchange/lvextend against one volume
// group on the local node.
type Driver struct {
	VolumeGroup string
	Runner      CommandRunner
}

// NewDriver validates volumeGroup and returns a Driver using the real
// os/exec-backed CommandRunner.
func NewDriver(volumeGroup string) (*Driver, error) {
	if !volumeGroupPattern.MatchString(volumeGroup) {
		return nil, errors.Errorf("invalid volume group name: %q", volumeGroup)
	}
	return &Driver{VolumeGroup: volumeGroup, Runner: ExecRunner{}}, nil
}

// CommandRunner abstracts process invocation so tests don't need a
// real lvm2 installation; ExecRunner is the only production
// implementation.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (output string, err error)
}

// ExecRunner shells out via os/exec, combining stdout and stderr into
// one output string for error messages, matching the original
// implementation's commands.getstatusoutput behaviour.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// Create runs `lvcreate <vg> --name=<lv> --size=<n>M`.
func (d *Driver) Create(ctx context.Context, vmName string, diskID, sizeMB int) error {
	name := DiskName(vmName, diskID)
	path := DiskPath(d.VolumeGroup, vmName, diskID)
	if _, err := os.Lstat(path); err == nil {
		return errors.Errorf("disk already exists: %s", path)
	}

	out, err := d.Runner.Run(ctx, "lvcreate", d.VolumeGroup,
		"--name="+name, fmt.Sprintf("--size=%dM", sizeMB))
	if err != nil {
		return commandError("lvcreate", out, err)
	}
	return nil
}

// Remove runs `lvremove -f <path>`.
func (d *Driver) Remove(ctx context.Context, vmName string, diskID int) error {
	path := DiskPath(d.VolumeGroup, vmName, diskID)
	out, err := d.Runner.Run(ctx, "lvremove", "-f", path)
	if err != nil {
		return commandError("lvremove", out, err)
	}
	return nil
}

// Activate runs `lvchange -ay <path>`, making the volume available
// before libvirt attaches it.
func (d *Driver) Activate(ctx context.Context, vmName string, diskID int) error {
	path := DiskPath(d.VolumeGroup, vmName, diskID)
	out, err := d.Runner.Run(ctx, "lvchange", "-ay", path)
	if err != nil {
		return commandError("lvchange", out, err)
	}
	return nil
}

// Extend runs `lvextend -L +<n>M <path>`. Callers must ensure the VM
// is stopped first (§4.6 editConfig invariants apply to the domain,
// not to this driver, which has no way to check VM state itself).
func (d *Driver) Extend(ctx context.Context, vmName string, diskID, increaseMB int) error {
	path := DiskPath(d.VolumeGroup, vmName, diskID)
	out, err := d.Runner.Run(ctx, "lvextend", fmt.Sprintf("-L+%dM", increaseMB), path)
	if err != nil {
		return commandError("lvextend", out, err)
	}
	return nil
}

// zeroBlocksMB is how much of the front of a freshly created volume
// Zero overwrites with dd before drbdadm create-md runs against it,
// matching the original's hard_drive.py zeroing the volume ahead of
// DRBD metadata initialisation so a stale prior filesystem signature
// can't confuse create-md's interactive "really create?" heuristics.
const zeroBlocksMB = 128

// Zero overwrites the start of the volume with zeroes via dd, the
// local_lv equivalent of the DRBD path's metadata-area zeroing step.
func (d *Driver) Zero(ctx context.Context, vmName string, diskID int) error {
	path := DiskPath(d.VolumeGroup, vmName, diskID)
	out, err := d.Runner.Run(ctx, "dd", "if=/dev/zero", "of="+path,
		"bs=1M", fmt.Sprintf("count=%d", zeroBlocksMB))
	if err != nil {
		return commandError("dd", out, err)
	}
	return nil
}

func commandError(command, output string, err error) error {
	return errors.Wrapf(err, "%s failed: %s", command, output)
}
