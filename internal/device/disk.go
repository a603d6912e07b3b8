package device

import (
	"github.com/mcvirt/mcvirt/internal/config"
	"github.com/mcvirt/mcvirt/internal/mcerrors"
	"github.com/mcvirt/mcvirt/internal/vm"
)

// maxDisksPerVM bounds Disk.ID to 1..4 (§3's disk invariant): a 5th
// disk on any VM, or an id outside that range, is rejected.
const maxDisksPerVM = 4

// AttachDisk wires a storage-layer block device (an LVM logical
// volume or a DRBD resource's /dev/drbdN device) into vmName's domain
// XML at the target dev its disk id maps to, and records disk in the
// VM's config document. This is the local effect behind the
// addToVirtualMachine remote action — the storage driver creates the
// block device first; this package only attaches it.
func (m *Manager) AttachDisk(vmName string, disk config.Disk, devicePath string) error {
	doc, err := m.VM.ConfigStore(vmName).Read()
	if err != nil {
		return err
	}
	attached := false
	for _, existing := range doc.Disks {
		if existing.ID == disk.ID {
			attached = true
			break
		}
	}
	if !attached {
		if disk.ID < 1 || disk.ID > maxDisksPerVM {
			return mcerrors.NewDiskExists(vmName, disk.ID)
		}
		if len(doc.Disks) >= maxDisksPerVM {
			return mcerrors.NewDiskExists(vmName, disk.ID)
		}
	}

	if err := m.VM.EditConfig(vmName, func(spec *vm.DomainXML) error {
		for _, d := range spec.Devices.Disks {
			if d.Device == "disk" && d.Target.Dev == vm.DiskTargetDev(disk.ID) {
				return nil // already attached, idempotent per EditConfig's contract.
			}
		}
		spec.Devices.Disks = append(spec.Devices.Disks, vm.DiskXML{
			Type:   "block",
			Device: "disk",
			Driver: &vm.DriverXML{Name: "qemu", Type: "raw"},
			Source: &vm.SourceXML{Dev: devicePath},
			Target: vm.TargetXML{Dev: vm.DiskTargetDev(disk.ID), Bus: "virtio"},
		})
		return nil
	}); err != nil {
		return err
	}

	return m.VM.ConfigStore(vmName).Update(func(d *config.VMDocument) error {
		for _, existing := range d.Disks {
			if existing.ID == disk.ID {
				return nil
			}
		}
		d.Disks = append(d.Disks, disk)
		return nil
	}, "disk.attach")
}

// DetachDisk removes diskID's device from vmName's domain XML and its
// entry from the config document — the local effect behind
// removeFromVirtualMachine. It does not destroy the underlying block
// device; that is the storage driver's own remove call.
func (m *Manager) DetachDisk(vmName string, diskID int) error {
	targetDev := vm.DiskTargetDev(diskID)
	if err := m.VM.EditConfig(vmName, func(spec *vm.DomainXML) error {
		kept := spec.Devices.Disks[:0]
		for _, d := range spec.Devices.Disks {
			if d.Device == "disk" && d.Target.Dev == targetDev {
				continue
			}
			kept = append(kept, d)
		}
		spec.Devices.Disks = kept
		return nil
	}); err != nil {
		return err
	}

	return m.VM.ConfigStore(vmName).Update(func(d *config.VMDocument) error {
		kept := d.Disks[:0]
		for _, existing := range d.Disks {
			if existing.ID != diskID {
				kept = append(kept, existing)
			}
		}
		d.Disks = kept
		return nil
	}, "disk.detach")
}
