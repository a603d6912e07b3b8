// Package device implements the auxiliary device edits: ISO
// attach/detach, NIC create/delete, boot-order set, and RAM/CPU update
// (§4.8). Every mutation here is a pure libvirt XML edit through
// vm.Manager.EditConfig, plus the matching per-VM config document
// update, bound by the same Node Lock a Coordinator.Op acquires around
// its Local callback — this package never acquires the lock itself.
package device

import (
	"github.com/mcvirt/mcvirt/internal/config"
	"github.com/mcvirt/mcvirt/internal/vm"
)

// Editor is the slice of internal/vm.Manager this package depends on.
// Declared locally (rather than importing *vm.Manager directly into
// every function signature) so tests substitute an in-memory fake
// without a real libvirt connection, the same structural-interface
// style vm.Connector and lvm/drbd's CommandRunner use.
type Editor interface {
	EditConfig(name string, fn func(*vm.DomainXML) error) error
	ReadDomainXML(name string) (*vm.DomainXML, error)
	GetAllVms() ([]string, error)
	ConfigStore(name string) *config.Store[*config.VMDocument]
}

// Manager implements every auxiliary device operation against one
// node's VM Manager.
type Manager struct {
	VM     Editor
	IsoDir string // /var/lib/mcvirt/<hostname>/iso
}
