package device

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/mcvirt/mcvirt/internal/mcerrors"
	"github.com/mcvirt/mcvirt/internal/vm"
)

const isoTargetDev = "hdc"

// ListIsos returns every file in the ISO storage directory, mirroring
// iso.py's Iso.getIsos.
func (m *Manager) ListIsos() ([]string, error) {
	entries, err := os.ReadDir(m.IsoDir)
	if err != nil {
		return nil, errors.Wrapf(err, "reading iso directory %s", m.IsoDir)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// AddIso copies srcPath into the ISO storage directory under name,
// refusing to overwrite an existing ISO unless overwrite is set —
// iso.py's addIso plus its overwriteCheck collapsed into one call with
// an explicit flag instead of an interactive prompt.
func (m *Manager) AddIso(srcPath, name string, overwrite bool) error {
	dest := filepath.Join(m.IsoDir, name)
	if _, err := os.Stat(dest); err == nil && !overwrite {
		return mcerrors.NewIsoAlreadyExists(name)
	}

	in, err := os.Open(srcPath)
	if err != nil {
		return errors.Wrapf(err, "opening iso source %s", srcPath)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrapf(err, "creating iso destination %s", dest)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return errors.Wrapf(err, "copying iso to %s", dest)
	}
	return nil
}

// DeleteIso removes name from the ISO storage directory, refusing to
// remove an ISO currently attached to a VM on this node.
func (m *Manager) DeleteIso(name string) error {
	if owner, inUse := m.IsoInUse(name); inUse {
		return mcerrors.NewIsoInUse(name, owner)
	}
	path := filepath.Join(m.IsoDir, name)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return mcerrors.NewIsoMissing(name)
		}
		return errors.Wrapf(err, "removing iso %s", path)
	}
	return nil
}

// IsoInUse resolves the Open Question in spec.md §9 exactly as
// instructed: it returns the name of the VM whose disk drive config
// currently references this ISO's path, or ("", false) if none do.
func (m *Manager) IsoInUse(name string) (string, bool) {
	path := filepath.Join(m.IsoDir, name)

	vms, err := m.VM.GetAllVms()
	if err != nil {
		return "", false
	}
	for _, vmName := range vms {
		spec, err := m.VM.ReadDomainXML(vmName)
		if err != nil {
			continue
		}
		for _, disk := range spec.Devices.Disks {
			if disk.Device == "cdrom" && disk.Source != nil && disk.Source.File == path {
				return vmName, true
			}
		}
	}
	return "", false
}

// AttachISO attaches isoName as vmName's CD-ROM medium, replacing
// whatever was previously attached.
func (m *Manager) AttachISO(vmName, isoName string) error {
	path := filepath.Join(m.IsoDir, isoName)
	if _, err := os.Stat(path); err != nil {
		return mcerrors.NewIsoMissing(isoName)
	}

	return m.VM.EditConfig(vmName, func(spec *vm.DomainXML) error {
		for i := range spec.Devices.Disks {
			if spec.Devices.Disks[i].Device == "cdrom" {
				spec.Devices.Disks[i].Source = &vm.SourceXML{File: path}
				return nil
			}
		}
		spec.Devices.Disks = append(spec.Devices.Disks, vm.DiskXML{
			Type:     "file",
			Device:   "cdrom",
			Driver:   &vm.DriverXML{Name: "qemu", Type: "raw"},
			Source:   &vm.SourceXML{File: path},
			Target:   vm.TargetXML{Dev: isoTargetDev, Bus: "ide"},
			ReadOnly: &struct{}{},
		})
		return nil
	})
}

// DetachISO ejects whatever CD-ROM medium is attached to vmName,
// leaving the device present but empty (the standard libvirt eject
// pattern) rather than removing the device entirely.
func (m *Manager) DetachISO(vmName string) error {
	return m.VM.EditConfig(vmName, func(spec *vm.DomainXML) error {
		for i := range spec.Devices.Disks {
			if spec.Devices.Disks[i].Device == "cdrom" {
				spec.Devices.Disks[i].Source = nil
			}
		}
		return nil
	})
}

// CheckIsoPresentOnDestination implements the pre-migration check: the
// ISO currently attached to vmName must also exist on the destination
// node, per the destinationIsos list obtained via the dispatcher's
// isoGetIsos remote query.
func CheckIsoPresentOnDestination(currentIso string, destinationNode string, destinationIsos []string) error {
	if currentIso == "" {
		return nil
	}
	for _, name := range destinationIsos {
		if name == currentIso {
			return nil
		}
	}
	return mcerrors.NewIsoNotPresentOnDestination(currentIso, destinationNode)
}

// CurrentIso returns the filename of vmName's attached CD-ROM medium,
// or "" if none is attached — the input CheckIsoPresentOnDestination
// needs before a migration.
func (m *Manager) CurrentIso(vmName string) (string, error) {
	spec, err := m.VM.ReadDomainXML(vmName)
	if err != nil {
		return "", err
	}
	for _, disk := range spec.Devices.Disks {
		if disk.Device == "cdrom" && disk.Source != nil && disk.Source.File != "" {
			return filepath.Base(disk.Source.File), nil
		}
	}
	return "", nil
}
