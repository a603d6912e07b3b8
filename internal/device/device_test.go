package device

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/mcvirt/mcvirt/internal/config"
	"github.com/mcvirt/mcvirt/internal/vm"
)

// fakeEditor is an in-memory Editor: domain XML lives in a map; the
// per-VM config document is a real config.Store backed by a temp-dir
// JSON file, so tests exercise the same read/update path production
// code does.
type fakeEditor struct {
	domains map[string]*vm.DomainXML
	stores  map[string]*config.Store[*config.VMDocument]
}

func newFakeEditor(t *testing.T, vmNames ...string) *fakeEditor {
	t.Helper()
	dir := t.TempDir()
	f := &fakeEditor{
		domains: map[string]*vm.DomainXML{},
		stores:  map[string]*config.Store[*config.VMDocument]{},
	}
	for _, name := range vmNames {
		f.domains[name] = &vm.DomainXML{Name: name}
		store := config.NewVMStore(filepath.Join(dir, name+".json"), nil)
		if err := store.Update(func(d *config.VMDocument) error {
			*d = *config.NewVMDocument(1, 512, []string{"node1"}, "node1")
			return nil
		}, "test.seed"); err != nil {
			t.Fatalf("seeding store for %s: %v", name, err)
		}
		f.stores[name] = store
	}
	return f
}

func (f *fakeEditor) EditConfig(name string, fn func(*vm.DomainXML) error) error {
	spec, ok := f.domains[name]
	if !ok {
		return fmt.Errorf("vm not found: %s", name)
	}
	return fn(spec)
}

func (f *fakeEditor) ReadDomainXML(name string) (*vm.DomainXML, error) {
	spec, ok := f.domains[name]
	if !ok {
		return nil, fmt.Errorf("vm not found: %s", name)
	}
	return spec, nil
}

func (f *fakeEditor) GetAllVms() ([]string, error) {
	names := make([]string, 0, len(f.domains))
	for name := range f.domains {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeEditor) ConfigStore(name string) *config.Store[*config.VMDocument] {
	return f.stores[name]
}
