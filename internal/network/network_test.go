package network

import (
	"encoding/xml"
	"testing"

	golibvirt "github.com/digitalocean/go-libvirt"
	"gotest.tools/v3/assert"

	"github.com/mcvirt/mcvirt/internal/mcerrors"
)

// fakeLibvirt is an in-memory Connector used by every test in this
// package instead of a real libvirtd connection, mirroring
// internal/vm's fakeLibvirt for domains.
type fakeLibvirt struct {
	networks map[string]string // name -> defined XML
	active   map[string]bool
}

func newFakeLibvirt() *fakeLibvirt {
	return &fakeLibvirt{networks: map[string]string{}, active: map[string]bool{}}
}

func (f *fakeLibvirt) NetworkLookupByName(name string) (golibvirt.Network, error) {
	if _, ok := f.networks[name]; !ok {
		return golibvirt.Network{}, assertNotFound(name)
	}
	return golibvirt.Network{Name: name}, nil
}

func (f *fakeLibvirt) NetworkDefineXML(raw string) (golibvirt.Network, error) {
	var doc BridgeXML
	if err := xml.Unmarshal([]byte(raw), &doc); err != nil {
		return golibvirt.Network{}, err
	}
	f.networks[doc.Name] = raw
	return golibvirt.Network{Name: doc.Name}, nil
}

func (f *fakeLibvirt) NetworkUndefine(net golibvirt.Network) error {
	delete(f.networks, net.Name)
	delete(f.active, net.Name)
	return nil
}

func (f *fakeLibvirt) NetworkCreate(net golibvirt.Network) error {
	f.active[net.Name] = true
	return nil
}

func (f *fakeLibvirt) NetworkDestroy(net golibvirt.Network) error {
	f.active[net.Name] = false
	return nil
}

func (f *fakeLibvirt) NetworkGetXMLDesc(net golibvirt.Network, flags uint32) (string, error) {
	raw, ok := f.networks[net.Name]
	if !ok {
		return "", assertNotFound(net.Name)
	}
	return raw, nil
}

type notFoundErr string

func (e notFoundErr) Error() string { return string(e) }

func assertNotFound(name string) error { return notFoundErr("network not found: " + name) }

func TestCreateDefinesAndStartsNetwork(t *testing.T) {
	lv := newFakeLibvirt()
	m := &Manager{Libvirt: lv}

	err := m.Create(Config{
		Name:          "mcvirt-bridge0",
		BridgeName:    "br0",
		ForwardMode:   "nat",
		Address:       "192.168.150.1",
		Netmask:       "255.255.255.0",
		DHCPRangeFrom: "192.168.150.2",
		DHCPRangeTo:   "192.168.150.254",
	})
	assert.NilError(t, err)

	assert.Assert(t, lv.active["mcvirt-bridge0"])
	raw := lv.networks["mcvirt-bridge0"]
	var doc BridgeXML
	assert.NilError(t, xml.Unmarshal([]byte(raw), &doc))
	assert.Equal(t, doc.Bridge.Name, "br0")
	assert.Equal(t, doc.Forward.Mode, "nat")
	assert.Equal(t, doc.IP.DHCP.Range.Start, "192.168.150.2")
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	m := &Manager{Libvirt: newFakeLibvirt()}
	cfg := Config{Name: "mcvirt-bridge0", BridgeName: "br0"}

	assert.NilError(t, m.Create(cfg))
	err := m.Create(cfg)
	assert.Assert(t, mcerrors.IsNetworkExists(err))
}

func TestCheckExists(t *testing.T) {
	m := &Manager{Libvirt: newFakeLibvirt()}
	exists, err := m.CheckExists("mcvirt-bridge0")
	assert.NilError(t, err)
	assert.Assert(t, !exists)

	assert.NilError(t, m.Create(Config{Name: "mcvirt-bridge0", BridgeName: "br0"}))
	exists, err = m.CheckExists("mcvirt-bridge0")
	assert.NilError(t, err)
	assert.Assert(t, exists)
}

func TestDeleteRejectsMissingNetwork(t *testing.T) {
	m := &Manager{Libvirt: newFakeLibvirt()}
	err := m.Delete("mcvirt-bridge0")
	assert.Assert(t, mcerrors.IsNetworkMissing(err))
}

func TestDeleteStopsAndUndefines(t *testing.T) {
	lv := newFakeLibvirt()
	m := &Manager{Libvirt: lv}
	assert.NilError(t, m.Create(Config{Name: "mcvirt-bridge0", BridgeName: "br0"}))

	assert.NilError(t, m.Delete("mcvirt-bridge0"))

	_, ok := lv.networks["mcvirt-bridge0"]
	assert.Assert(t, !ok)
}

func TestGetConfigReturnsDefinedXML(t *testing.T) {
	m := &Manager{Libvirt: newFakeLibvirt()}
	assert.NilError(t, m.Create(Config{Name: "mcvirt-bridge0", BridgeName: "br0"}))

	raw, err := m.GetConfig("mcvirt-bridge0")
	assert.NilError(t, err)
	assert.Assert(t, len(raw) > 0)
}

func TestGetConfigRejectsMissingNetwork(t *testing.T) {
	m := &Manager{Libvirt: newFakeLibvirt()}
	_, err := m.GetConfig("mcvirt-bridge0")
	assert.Assert(t, mcerrors.IsNetworkMissing(err))
}
