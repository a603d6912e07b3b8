package device

import "github.com/mcvirt/mcvirt/internal/vm"

// SetBootOrder rewrites the domain's boot device order, e.g.
// {"hd", "cdrom", "network"}.
func (m *Manager) SetBootOrder(vmName string, devices []string) error {
	return m.VM.EditConfig(vmName, func(spec *vm.DomainXML) error {
		boot := make([]vm.BootXML, 0, len(devices))
		for _, dev := range devices {
			boot = append(boot, vm.BootXML{Dev: dev})
		}
		spec.OS.Boot = boot
		return nil
	})
}
