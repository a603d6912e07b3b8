// Package vm implements the VM Manager: per-node libvirt domain
// lifecycle plus the per-VM JSON configuration document, per §4.6.
// Mutating methods here are the local effect half of a Coordinator.Op;
// internal/cluster is responsible for fanning them out to peers.
package vm

import (
	"encoding/xml"
	"os"
	"path/filepath"
	"regexp"

	golibvirt "github.com/digitalocean/go-libvirt"
	units "github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mcvirt/mcvirt/internal/config"
	"github.com/mcvirt/mcvirt/internal/mcerrors"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// Connector is the slice of github.com/digitalocean/go-libvirt's RPC
// client this package needs. *golibvirt.Libvirt satisfies it directly;
// tests substitute an in-memory fake.
type Connector interface {
	DomainLookupByName(name string) (golibvirt.Domain, error)
	DomainDefineXML(xml string) (golibvirt.Domain, error)
	DomainUndefine(dom golibvirt.Domain) error
	DomainCreate(dom golibvirt.Domain) error
	DomainShutdown(dom golibvirt.Domain) error
	DomainDestroy(dom golibvirt.Domain) error
	DomainGetXMLDesc(dom golibvirt.Domain, flags uint32) (string, error)
	Domains() ([]golibvirt.Domain, error)
	DomainGetInfo(dom golibvirt.Domain) (state uint8, maxMem uint64, memory uint64, cpus uint16, cpuTime uint64, err error)
}

// State mirrors the original implementation's VMState enum surfaced by
// the getState remote action.
type State string

const (
	StateRunning      State = "running"
	StateStopped      State = "stopped"
	StateUnregistered State = "unregistered"
)

// libvirt's virDomainState values relevant here; the rest collapse to stopped.
const domainStateRunning = 1

// Info is the read-only snapshot returned by GetInfo: cpu, memory,
// disks, nics, current node. Memory/disk sizes are pre-formatted with
// docker/go-units so callers and logs get the same human-readable
// strings the original implementation's CLI printed.
type Info struct {
	State             State
	CPUCores          int
	MemoryHuman       string
	MemoryMB          int
	Disks             []config.Disk
	NetworkInterfaces map[string]string
	CurrentNode       string
}

// DiskRemover tears down the storage-layer block device behind one
// VMDocument disk entry — an LVM logical volume, or a DRBD resource's
// full teardown path (disconnect, down, remove config). Declared
// locally, the same structural-interface style internal/device's
// Editor uses, so tests substitute an in-memory fake instead of real
// lvm/drbd drivers.
type DiskRemover interface {
	RemoveDisk(vmName string, disk config.Disk) error
}

// Manager owns one node's libvirt connection and the per-VM config
// documents stored under StorageRoot.
type Manager struct {
	Hostname    string
	StorageRoot string // /var/lib/mcvirt/<hostname>
	Libvirt     Connector
	Log         *logrus.Logger

	// Disks tears down each disk's storage-layer device during Delete.
	// Nil skips storage teardown (used by tests that only care about
	// the domain/config-document half of Delete).
	Disks DiskRemover
}

func (m *Manager) vmDir(name string) string {
	return filepath.Join(m.StorageRoot, "vm", name)
}

func (m *Manager) vmConfigPath(name string) string {
	return filepath.Join(m.vmDir(name), "config.json")
}

func (m *Manager) vmStore(name string) *config.Store[*config.VMDocument] {
	return config.NewVMStore(m.vmConfigPath(name), m.Log)
}

// ConfigStore exposes the per-VM config document store so
// internal/device can update network_interfaces/disks fields
// alongside its own EditConfig-driven XML edits.
func (m *Manager) ConfigStore(name string) *config.Store[*config.VMDocument] {
	return m.vmStore(name)
}

// Create defines a new domain and writes its fresh per-VM config
// document (§4.6 create). It is the local effect of the cluster-wide
// vm.create operation; available_nodes/hostname come from the caller
// (the Coordinator op), not from this package.
func (m *Manager) Create(name string, cpuCores, memoryMB int, availableNodes []string) error {
	if !namePattern.MatchString(name) {
		return mcerrors.NewInvalidName(name)
	}
	if _, err := m.Libvirt.DomainLookupByName(name); err == nil {
		return mcerrors.NewVMExists(name)
	}

	domainXML, err := renderDomainXML(name, cpuCores, memoryMB)
	if err != nil {
		return err
	}

	vmDir := m.vmDir(name)
	if err := os.MkdirAll(vmDir, 0o750); err != nil {
		return errors.Wrapf(err, "creating vm storage directory for %s", name)
	}

	fresh := config.NewVMDocument(cpuCores, memoryMB, availableNodes, m.Hostname)
	store := m.vmStore(name)
	if err := store.Update(func(d *config.VMDocument) error {
		*d = *fresh
		return nil
	}, "create"); err != nil {
		os.RemoveAll(vmDir)
		return err
	}

	if _, err := m.Libvirt.DomainDefineXML(domainXML); err != nil {
		os.RemoveAll(vmDir)
		return errors.Wrapf(err, "defining domain %s", name)
	}

	if m.Log != nil {
		m.Log.WithFields(logrus.Fields{
			"vm":     name,
			"memory": units.HumanSize(float64(memoryMB) * 1024 * 1024),
			"cpu":    cpuCores,
		}).Info("vm created")
	}
	return nil
}

// Delete forbids deleting a running VM, tears down each of its disks
// through Disks, undefines the domain, and — if removeData — removes
// its storage directory (§4.6: "iterates disks (each disk calls its
// driver's delete); undefine the libvirt domain; if remove_data,
// recursively remove the VM storage directory").
func (m *Manager) Delete(name string, removeData bool) error {
	dom, err := m.Libvirt.DomainLookupByName(name)
	if err != nil {
		return mcerrors.NewVMMissing(name)
	}
	if running, err := m.isRunning(dom); err != nil {
		return err
	} else if running {
		return mcerrors.NewVMRunning(name)
	}

	if m.Disks != nil {
		doc, err := m.vmStore(name).Read()
		if err != nil {
			return err
		}
		for _, disk := range doc.Disks {
			if err := m.Disks.RemoveDisk(name, disk); err != nil {
				return errors.Wrapf(err, "removing disk %d for %s", disk.ID, name)
			}
		}
	}

	if err := m.Libvirt.DomainUndefine(dom); err != nil {
		return errors.Wrapf(err, "undefining domain %s", name)
	}

	if removeData {
		if err := os.RemoveAll(m.vmDir(name)); err != nil {
			return errors.Wrapf(err, "removing vm storage directory for %s", name)
		}
	}
	return nil
}

// Register defines the domain on the current node (if not already
// defined) and marks this node as the VM's current_node.
func (m *Manager) Register(name string) error {
	store := m.vmStore(name)
	doc, err := store.Read()
	if err != nil {
		return err
	}

	if _, err := m.Libvirt.DomainLookupByName(name); err != nil {
		domainXML, renderErr := renderDomainXML(name, doc.CPUCores, doc.MemoryMB)
		if renderErr != nil {
			return renderErr
		}
		if _, err := m.Libvirt.DomainDefineXML(domainXML); err != nil {
			return errors.Wrapf(err, "defining domain %s", name)
		}
	}

	return store.Update(func(d *config.VMDocument) error {
		d.CurrentNode = m.Hostname
		return nil
	}, "register")
}

// Unregister undefines the domain locally and clears current_node.
func (m *Manager) Unregister(name string) error {
	dom, err := m.Libvirt.DomainLookupByName(name)
	if err == nil {
		if err := m.Libvirt.DomainUndefine(dom); err != nil {
			return errors.Wrapf(err, "undefining domain %s", name)
		}
	}

	return m.vmStore(name).Update(func(d *config.VMDocument) error {
		d.CurrentNode = ""
		return nil
	}, "unregister")
}

// SetNode is the remote notification a migration fans out to peers
// with: it fixes current_node on a peer that isn't (and won't be) the
// new owner, without touching its local libvirt state.
func (m *Manager) SetNode(name, node string) error {
	return m.vmStore(name).Update(func(d *config.VMDocument) error {
		d.CurrentNode = node
		return nil
	}, "setNode")
}

// Start requires CHANGE_VM_POWER_STATE (enforced by the Coordinator's
// permission check, not here) and rejects an already-running VM. It
// does not fan out — §4.6 specifies start/stop as local-only.
func (m *Manager) Start(name string) error {
	dom, err := m.Libvirt.DomainLookupByName(name)
	if err != nil {
		return mcerrors.NewVMMissing(name)
	}
	if running, err := m.isRunning(dom); err != nil {
		return err
	} else if running {
		return mcerrors.NewVMRunning(name)
	}
	return m.Libvirt.DomainCreate(dom)
}

// Stop rejects an already-stopped VM. Local-only, same as Start.
func (m *Manager) Stop(name string) error {
	dom, err := m.Libvirt.DomainLookupByName(name)
	if err != nil {
		return mcerrors.NewVMMissing(name)
	}
	running, err := m.isRunning(dom)
	if err != nil {
		return err
	}
	if !running {
		return mcerrors.NewVMNotRunning(name)
	}
	if err := m.Libvirt.DomainShutdown(dom); err != nil {
		return m.Libvirt.DomainDestroy(dom)
	}
	return nil
}

// EditConfig reads the domain's inactive, secure XML, applies fn
// in-process, and redefines it. Every disk/NIC/ISO/boot-order/RAM/vCPU
// edit in internal/device and internal/storage goes through this
// primitive and must therefore be idempotent given the same target
// state, since a retried Coordinator op replays it unchanged.
func (m *Manager) EditConfig(name string, fn func(*DomainXML) error) error {
	spec, err := m.readDomainXML(name)
	if err != nil {
		return err
	}

	if err := fn(spec); err != nil {
		return err
	}

	out, err := xml.MarshalIndent(spec, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding domain xml")
	}
	if _, err := m.Libvirt.DomainDefineXML(string(out)); err != nil {
		return errors.Wrapf(err, "redefining domain %s", name)
	}
	return nil
}

// ReadDomainXML is EditConfig's read-only half: internal/device uses it
// for non-mutating checks (ISO in-use lookups) that must not trigger a
// redefine.
func (m *Manager) ReadDomainXML(name string) (*DomainXML, error) {
	return m.readDomainXML(name)
}

func (m *Manager) readDomainXML(name string) (*DomainXML, error) {
	dom, err := m.Libvirt.DomainLookupByName(name)
	if err != nil {
		return nil, mcerrors.NewVMMissing(name)
	}

	raw, err := m.Libvirt.DomainGetXMLDesc(dom, domainXMLInactive|domainXMLSecure)
	if err != nil {
		return nil, errors.Wrapf(err, "reading domain xml for %s", name)
	}

	var spec DomainXML
	if err := xml.Unmarshal([]byte(raw), &spec); err != nil {
		return nil, errors.Wrapf(err, "parsing domain xml for %s", name)
	}
	return &spec, nil
}

// GetState is a read-only, non-mutating remote action; it is never run
// through the Coordinator's fanout protocol.
func (m *Manager) GetState(name string) (State, error) {
	dom, err := m.Libvirt.DomainLookupByName(name)
	if err != nil {
		return StateUnregistered, nil
	}
	running, err := m.isRunning(dom)
	if err != nil {
		return "", err
	}
	if running {
		return StateRunning, nil
	}
	return StateStopped, nil
}

// GetInfo is likewise read-only and non-fanout.
func (m *Manager) GetInfo(name string) (Info, error) {
	state, err := m.GetState(name)
	if err != nil {
		return Info{}, err
	}

	doc, err := m.vmStore(name).Read()
	if err != nil {
		return Info{}, err
	}

	return Info{
		State:             state,
		CPUCores:          doc.CPUCores,
		MemoryMB:          doc.MemoryMB,
		MemoryHuman:       units.HumanSize(float64(doc.MemoryMB) * 1024 * 1024),
		Disks:             doc.Disks,
		NetworkInterfaces: doc.NetworkInterfaces,
		CurrentNode:       doc.CurrentNode,
	}, nil
}

// GetAllVms is a read-only, non-fanout listing of every domain known
// to this node's libvirt connection.
func (m *Manager) GetAllVms() ([]string, error) {
	domains, err := m.Libvirt.Domains()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(domains))
	for _, d := range domains {
		names = append(names, d.Name)
	}
	return names, nil
}

// UsedDRBDMinors returns every DRBD minor number already allocated to
// a disk on this node, across every VM's config document — the local
// contribution drbd.AllocateMinor unions with every peer's own set via
// the getUsedDrbdMinors remote action.
func (m *Manager) UsedDRBDMinors() ([]int, error) {
	return m.usedDRBDField(func(d config.Disk) int { return d.Minor })
}

// UsedDRBDPorts is UsedDRBDMinors' counterpart for allocated ports.
func (m *Manager) UsedDRBDPorts() ([]int, error) {
	return m.usedDRBDField(func(d config.Disk) int { return d.Port })
}

// LookupDRBDResource finds which local VM owns a DRBD resource by
// name, returning its config store and disk id. Satisfies
// drbd.VMStoreLookup — the real implementation cmd/mcvirtd and
// cmd/mcvirt-remote wire into the out-of-sync socket and the
// setSyncState remote action, in place of socket_test.go's
// single-VM stub.
func (m *Manager) LookupDRBDResource(resourceName string) (*config.Store[*config.VMDocument], int, error) {
	names, err := m.GetAllVms()
	if err != nil {
		return nil, 0, err
	}
	for _, name := range names {
		store := m.vmStore(name)
		doc, err := store.Read()
		if err != nil {
			return nil, 0, err
		}
		for _, disk := range doc.Disks {
			if disk.Type == config.DiskTypeDRBD && disk.ResourceName == resourceName {
				return store, disk.ID, nil
			}
		}
	}
	return nil, 0, mcerrors.NewDiskMissing(resourceName, 0)
}

func (m *Manager) usedDRBDField(field func(config.Disk) int) ([]int, error) {
	names, err := m.GetAllVms()
	if err != nil {
		return nil, err
	}

	var used []int
	for _, name := range names {
		doc, err := m.vmStore(name).Read()
		if err != nil {
			return nil, err
		}
		for _, disk := range doc.Disks {
			if disk.Type == config.DiskTypeDRBD {
				used = append(used, field(disk))
			}
		}
	}
	return used, nil
}

func (m *Manager) isRunning(dom golibvirt.Domain) (bool, error) {
	state, _, _, _, _, err := m.Libvirt.DomainGetInfo(dom)
	if err != nil {
		return false, errors.Wrapf(err, "getting domain info for %s", dom.Name)
	}
	return state == domainStateRunning, nil
}
