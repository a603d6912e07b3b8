// Package network manages libvirt network (bridge) objects — the
// networkCreate/networkDelete/networkCheckExists/networkGetConfig
// dispatcher actions (§4.4). It is distinct from internal/device's NIC
// attach/detach, which wires a VM's interface to an already-existing
// network by name; this package owns the network object itself.
package network

import (
	"encoding/xml"

	golibvirt "github.com/digitalocean/go-libvirt"
	"github.com/pkg/errors"

	"github.com/mcvirt/mcvirt/internal/mcerrors"
)

// Connector is the slice of github.com/digitalocean/go-libvirt's RPC
// client this package needs, the Network-object counterpart of
// internal/vm.Connector's Domain* methods. *golibvirt.Libvirt
// satisfies it directly; tests substitute an in-memory fake.
type Connector interface {
	NetworkLookupByName(name string) (golibvirt.Network, error)
	NetworkDefineXML(xml string) (golibvirt.Network, error)
	NetworkUndefine(net golibvirt.Network) error
	NetworkCreate(net golibvirt.Network) error
	NetworkDestroy(net golibvirt.Network) error
	NetworkGetXMLDesc(net golibvirt.Network, flags uint32) (string, error)
}

// BridgeXML is the minimal libvirt network descriptor this package
// renders and parses: an isolated or NAT/route-forwarding bridge with
// an optional DHCP range, matching the bridge shapes a cluster's nodes
// need for VM NICs to reach (§4.8 supplement — node-level networks
// exist one level below internal/device's per-VM NIC attach).
type BridgeXML struct {
	XMLName xml.Name     `xml:"network"`
	Name    string       `xml:"name"`
	Bridge  *BridgeNameXML `xml:"bridge,omitempty"`
	Forward *ForwardXML  `xml:"forward,omitempty"`
	IP      *IPXML       `xml:"ip,omitempty"`
}

type BridgeNameXML struct {
	Name string `xml:"name,attr"`
}

type ForwardXML struct {
	Mode string `xml:"mode,attr"`
}

type IPXML struct {
	Address string    `xml:"address,attr"`
	Netmask string    `xml:"netmask,attr"`
	DHCP    *DHCPXML  `xml:"dhcp,omitempty"`
}

type DHCPXML struct {
	Range DHCPRangeXML `xml:"range"`
}

type DHCPRangeXML struct {
	Start string `xml:"start,attr"`
	End   string `xml:"end,attr"`
}

// Config is the caller-facing description of a network to create —
// the networkCreate action's argument shape.
type Config struct {
	Name          string
	BridgeName    string
	ForwardMode   string // "nat", "route", or "" for an isolated network
	Address       string
	Netmask       string
	DHCPRangeFrom string
	DHCPRangeTo   string
}

// Manager owns one node's libvirt connection for network objects.
type Manager struct {
	Libvirt Connector
}

// CheckExists reports whether a network with this name is already
// defined, backing networkCheckExists.
func (m *Manager) CheckExists(name string) (bool, error) {
	_, err := m.Libvirt.NetworkLookupByName(name)
	if err != nil {
		return false, nil
	}
	return true, nil
}

// Create defines and starts a bridge network from cfg, backing
// networkCreate. Returns NetworkExists if one by this name is already
// defined.
func (m *Manager) Create(cfg Config) error {
	if exists, err := m.CheckExists(cfg.Name); err != nil {
		return err
	} else if exists {
		return mcerrors.NewNetworkExists(cfg.Name)
	}

	doc := BridgeXML{
		Name:   cfg.Name,
		Bridge: &BridgeNameXML{Name: cfg.BridgeName},
	}
	if cfg.ForwardMode != "" {
		doc.Forward = &ForwardXML{Mode: cfg.ForwardMode}
	}
	if cfg.Address != "" {
		ip := &IPXML{Address: cfg.Address, Netmask: cfg.Netmask}
		if cfg.DHCPRangeFrom != "" {
			ip.DHCP = &DHCPXML{Range: DHCPRangeXML{Start: cfg.DHCPRangeFrom, End: cfg.DHCPRangeTo}}
		}
		doc.IP = ip
	}

	raw, err := xml.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "marshal network xml")
	}

	net, err := m.Libvirt.NetworkDefineXML(string(raw))
	if err != nil {
		return errors.Wrap(err, "define network")
	}
	if err := m.Libvirt.NetworkCreate(net); err != nil {
		return errors.Wrap(err, "start network")
	}
	return nil
}

// Delete stops and undefines a network, backing networkDelete.
// Returns NetworkMissing if it isn't defined.
func (m *Manager) Delete(name string) error {
	net, err := m.Libvirt.NetworkLookupByName(name)
	if err != nil {
		return mcerrors.NewNetworkMissing(name)
	}
	if err := m.Libvirt.NetworkDestroy(net); err != nil {
		return errors.Wrap(err, "destroy network")
	}
	if err := m.Libvirt.NetworkUndefine(net); err != nil {
		return errors.Wrap(err, "undefine network")
	}
	return nil
}

// GetConfig returns the raw defined XML for name, backing
// networkGetConfig.
func (m *Manager) GetConfig(name string) (string, error) {
	net, err := m.Libvirt.NetworkLookupByName(name)
	if err != nil {
		return "", mcerrors.NewNetworkMissing(name)
	}
	raw, err := m.Libvirt.NetworkGetXMLDesc(net, 0)
	if err != nil {
		return "", errors.Wrap(err, "get network xml")
	}
	return raw, nil
}
