// Package drbd implements the replicated block device driver: resource
// identity allocation, the per-resource lifecycle state machine,
// global config/secret management, and the out-of-sync notification
// socket (§4.7). Every drbdadm invocation goes through a CommandRunner
// so the lifecycle can be tested without a real DRBD kernel module.
package drbd

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/pkg/errors"
)

// Well-known node/drbd.py constants: the smallest minor/port a newly
// allocated resource may take, and the drbdadm binary this driver
// shells out to.
const (
	InitialMinorID = 1
	InitialPort    = 7789

	drbdadmPath = "/sbin/drbdadm"
)

// ResourceName returns the stable DRBD resource name for a VM's disk.
// Uniqueness across the cluster follows from the (vm, id) invariant on
// Disk.ID, the same guarantee internal/storage/lvm's DiskName relies on.
func ResourceName(vmName string, diskID int) string {
	return fmt.Sprintf("mcvirt_vm-%s-disk-%d", vmName, diskID)
}

// ConfigPath returns the per-resource .res file path.
func ConfigPath(configDir, resourceName string) string {
	return configDir + "/" + resourceName + ".res"
}

// CommandRunner abstracts process invocation, identically to
// internal/storage/lvm's interface of the same name — there is no Go
// DRBD binding in the example pack either, so this shells out to the
// real drbdadm exactly as node/drbd.py's System.runCommand did.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (output string, err error)
}

// ExecRunner is the sole production CommandRunner.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}

// Driver runs drbdadm subcommands against one node's resources.
type Driver struct {
	ConfigDir string // /etc/drbd.d
	Runner    CommandRunner

	// Installed reports whether drbdadm is present. Defaults to
	// IsInstalled; tests substitute a fake so Enable's guard doesn't
	// depend on the real host having DRBD installed.
	Installed func() bool
}

// NewDriver returns a Driver using the real os/exec-backed ExecRunner.
func NewDriver(configDir string) *Driver {
	return &Driver{ConfigDir: configDir, Runner: ExecRunner{}, Installed: IsInstalled}
}

func (d *Driver) isInstalled() bool {
	if d.Installed == nil {
		return IsInstalled()
	}
	return d.Installed()
}

// GenerateConfig renders resourceName's .res file from rc and moves the
// resource's state from lv_ready to defined. It is idempotent: writing
// the same config twice produces the same file and the same state.
func (d *Driver) GenerateConfig(resourceName string, rc ResourceConfig) error {
	content, err := renderResourceConfig(rc)
	if err != nil {
		return err
	}
	path := ConfigPath(d.ConfigDir, resourceName)
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		return errors.Wrapf(err, "writing drbd resource config %s", path)
	}
	return nil
}

// GlobalConfigPath returns the path of the rendered global DRBD config.
func GlobalConfigPath(configDir string) string {
	return configDir + "/global_common.conf"
}

func writeGlobalConfig(configDir, content string) error {
	path := GlobalConfigPath(configDir)
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		return errors.Wrapf(err, "writing drbd global config %s", path)
	}
	return nil
}

// RemoveConfig deletes resourceName's .res file as part of the
// teardown path (removeDrbdConfig).
func (d *Driver) RemoveConfig(resourceName string) error {
	path := ConfigPath(d.ConfigDir, resourceName)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "removing drbd resource config %s", path)
	}
	return nil
}

// InitialiseMetaData runs `drbdadm create-md <resource>`, moving the
// resource from defined to metadata_ready.
func (d *Driver) InitialiseMetaData(ctx context.Context, resourceName string) error {
	return d.adm(ctx, "create-md", resourceName)
}

// Up runs `drbdadm up <resource>`, moving the resource to up.
func (d *Driver) Up(ctx context.Context, resourceName string) error {
	return d.adm(ctx, "up", resourceName)
}

// Down runs `drbdadm down <resource>`, part of the teardown path.
func (d *Driver) Down(ctx context.Context, resourceName string) error {
	return d.adm(ctx, "down", resourceName)
}

// Connect runs `drbdadm connect <resource>`, moving the resource to
// connected, from which it begins its initial full sync.
func (d *Driver) Connect(ctx context.Context, resourceName string) error {
	return d.adm(ctx, "connect", resourceName)
}

// Disconnect runs `drbdadm disconnect <resource>`, the first step of
// the teardown path.
func (d *Driver) Disconnect(ctx context.Context, resourceName string) error {
	return d.adm(ctx, "disconnect", resourceName)
}

// SetPrimary runs `drbdadm primary <resource>` (with --force for the
// initiating node's first-ever promotion, since the resource has no
// existing primary to sync from).
func (d *Driver) SetPrimary(ctx context.Context, resourceName string, force bool) error {
	if force {
		return d.adm(ctx, "primary", resourceName, "--force")
	}
	return d.adm(ctx, "primary", resourceName)
}

// SetSecondary runs `drbdadm secondary <resource>`.
func (d *Driver) SetSecondary(ctx context.Context, resourceName string) error {
	return d.adm(ctx, "secondary", resourceName)
}

// Adjust runs `drbdadm adjust <resource>`, reconciling the running
// kernel configuration with the on-disk .res file — used both for a
// single resource and, with resource="all", after rendering the global
// config (node/drbd.py's adjustDRBDConfig).
func (d *Driver) Adjust(ctx context.Context, resource string) error {
	return d.adm(ctx, "adjust", resource)
}

func (d *Driver) adm(ctx context.Context, args ...string) error {
	out, err := d.Runner.Run(ctx, drbdadmPath, args...)
	if err != nil {
		return errors.Wrapf(err, "drbdadm %v failed: %s", args, out)
	}
	return nil
}

// IsInstalled reports whether the drbdadm binary is present, matching
// node/drbd.py's DRBD.isInstalled.
func IsInstalled() bool {
	_, err := os.Stat(drbdadmPath)
	return err == nil
}
