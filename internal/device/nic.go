package device

import (
	"crypto/rand"
	"fmt"

	"github.com/pkg/errors"

	"github.com/mcvirt/mcvirt/internal/config"
	"github.com/mcvirt/mcvirt/internal/vm"
)

// macOUI is the locally-administered OUI network_adapter.py's
// generateMacAddress hard-codes before appending three random octets.
const macOUI = "00:16:3e"

// GenerateMacAddress produces a random MAC within the OUI
// network_adapter.py reserves for generated adapters. crypto/rand is
// used for the same reason internal/storage/drbd's GenerateSecret
// uses it over math/rand: an unseeded math/rand sequence is
// predictable across process restarts.
func GenerateMacAddress() (string, error) {
	var octets [3]byte
	if _, err := rand.Read(octets[:]); err != nil {
		return "", errors.Wrap(err, "generating mac address")
	}
	return fmt.Sprintf("%s:%02x:%02x:%02x", macOUI, octets[0], octets[1], octets[2]), nil
}

// AddNIC attaches a new virtio network interface on the given network
// and records it in the VM's config document. The MAC is generated
// here rather than accepted from the caller, matching
// network_adapter.py's Factory.create.
func (m *Manager) AddNIC(vmName, network string) (string, error) {
	mac, err := GenerateMacAddress()
	if err != nil {
		return "", err
	}

	if err := m.VM.EditConfig(vmName, func(spec *vm.DomainXML) error {
		spec.Devices.Interfaces = append(spec.Devices.Interfaces, vm.InterfaceXML{
			Type:   "network",
			MAC:    &vm.MACXML{Address: mac},
			Source: &vm.NetSourceXML{Network: network},
			Model:  &vm.ModelXML{Type: "virtio"},
		})
		return nil
	}); err != nil {
		return "", err
	}

	if err := m.VM.ConfigStore(vmName).Update(func(d *config.VMDocument) error {
		if d.NetworkInterfaces == nil {
			d.NetworkInterfaces = map[string]string{}
		}
		d.NetworkInterfaces[mac] = network
		return nil
	}, "nic.add"); err != nil {
		_ = m.removeInterfaceXML(vmName, mac)
		return "", err
	}

	return mac, nil
}

// RemoveNIC detaches the network interface with the given MAC address.
func (m *Manager) RemoveNIC(vmName, mac string) error {
	if err := m.removeInterfaceXML(vmName, mac); err != nil {
		return err
	}
	return m.VM.ConfigStore(vmName).Update(func(d *config.VMDocument) error {
		delete(d.NetworkInterfaces, mac)
		return nil
	}, "nic.remove")
}

func (m *Manager) removeInterfaceXML(vmName, mac string) error {
	return m.VM.EditConfig(vmName, func(spec *vm.DomainXML) error {
		kept := spec.Devices.Interfaces[:0]
		found := false
		for _, iface := range spec.Devices.Interfaces {
			if iface.MAC != nil && iface.MAC.Address == mac {
				found = true
				continue
			}
			kept = append(kept, iface)
		}
		spec.Devices.Interfaces = kept
		if !found {
			return errors.Errorf("no network interface with mac %s attached to %s", mac, vmName)
		}
		return nil
	})
}
