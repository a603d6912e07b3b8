package device

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

func newTestManager(t *testing.T, vmNames ...string) (*Manager, *fakeEditor, string) {
	t.Helper()
	isoDir := t.TempDir()
	editor := newFakeEditor(t, vmNames...)
	return &Manager{VM: editor, IsoDir: isoDir}, editor, isoDir
}

func writeTestIso(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	assert.NilError(t, os.WriteFile(path, []byte("fake iso"), 0o644))
	return path
}

func TestListIsos(t *testing.T) {
	m, _, isoDir := newTestManager(t)
	writeTestIso(t, isoDir, "ubuntu.iso")
	writeTestIso(t, isoDir, "debian.iso")

	isos, err := m.ListIsos()
	assert.NilError(t, err)
	assert.Equal(t, len(isos), 2)
}

func TestAddIsoRefusesOverwriteWithoutFlag(t *testing.T) {
	m, _, isoDir := newTestManager(t)
	src := writeTestIso(t, t.TempDir(), "source.iso")
	writeTestIso(t, isoDir, "ubuntu.iso")

	err := m.AddIso(src, "ubuntu.iso", false)
	assert.Assert(t, err != nil)
}

func TestAddIsoCopiesFile(t *testing.T) {
	m, _, _ := newTestManager(t)
	src := writeTestIso(t, t.TempDir(), "source.iso")

	assert.NilError(t, m.AddIso(src, "ubuntu.iso", false))
	isos, err := m.ListIsos()
	assert.NilError(t, err)
	assert.Equal(t, len(isos), 1)
	assert.Equal(t, isos[0], "ubuntu.iso")
}

func TestAttachISOAddsCdromDisk(t *testing.T) {
	m, editor, isoDir := newTestManager(t, "web")
	writeTestIso(t, isoDir, "ubuntu.iso")

	assert.NilError(t, m.AttachISO("web", "ubuntu.iso"))

	spec := editor.domains["web"]
	assert.Equal(t, len(spec.Devices.Disks), 1)
	assert.Equal(t, spec.Devices.Disks[0].Device, "cdrom")
	assert.Equal(t, spec.Devices.Disks[0].Source.File, filepath.Join(isoDir, "ubuntu.iso"))
}

func TestAttachISOReplacesExistingMedium(t *testing.T) {
	m, editor, isoDir := newTestManager(t, "web")
	writeTestIso(t, isoDir, "ubuntu.iso")
	writeTestIso(t, isoDir, "debian.iso")

	assert.NilError(t, m.AttachISO("web", "ubuntu.iso"))
	assert.NilError(t, m.AttachISO("web", "debian.iso"))

	spec := editor.domains["web"]
	assert.Equal(t, len(spec.Devices.Disks), 1)
	assert.Equal(t, spec.Devices.Disks[0].Source.File, filepath.Join(isoDir, "debian.iso"))
}

func TestAttachISORejectsMissingFile(t *testing.T) {
	m, _, _ := newTestManager(t, "web")
	err := m.AttachISO("web", "missing.iso")
	assert.Assert(t, err != nil)
}

func TestDetachISOClearsSource(t *testing.T) {
	m, editor, isoDir := newTestManager(t, "web")
	writeTestIso(t, isoDir, "ubuntu.iso")
	assert.NilError(t, m.AttachISO("web", "ubuntu.iso"))

	assert.NilError(t, m.DetachISO("web"))

	spec := editor.domains["web"]
	assert.Equal(t, len(spec.Devices.Disks), 1)
	assert.Assert(t, spec.Devices.Disks[0].Source == nil)
}

func TestIsoInUseReturnsOwningVM(t *testing.T) {
	m, _, isoDir := newTestManager(t, "web", "db")
	writeTestIso(t, isoDir, "ubuntu.iso")
	assert.NilError(t, m.AttachISO("db", "ubuntu.iso"))

	owner, inUse := m.IsoInUse("ubuntu.iso")
	assert.Assert(t, inUse)
	assert.Equal(t, owner, "db")
}

func TestIsoInUseFalseWhenUnattached(t *testing.T) {
	m, _, isoDir := newTestManager(t, "web")
	writeTestIso(t, isoDir, "ubuntu.iso")

	_, inUse := m.IsoInUse("ubuntu.iso")
	assert.Assert(t, !inUse)
}

func TestDeleteIsoRefusesWhenInUse(t *testing.T) {
	m, _, isoDir := newTestManager(t, "web")
	writeTestIso(t, isoDir, "ubuntu.iso")
	assert.NilError(t, m.AttachISO("web", "ubuntu.iso"))

	err := m.DeleteIso("ubuntu.iso")
	assert.Assert(t, err != nil)
}

func TestDeleteIsoRemovesFile(t *testing.T) {
	m, _, isoDir := newTestManager(t)
	writeTestIso(t, isoDir, "ubuntu.iso")

	assert.NilError(t, m.DeleteIso("ubuntu.iso"))
	_, err := os.Stat(filepath.Join(isoDir, "ubuntu.iso"))
	assert.Assert(t, os.IsNotExist(err))
}

func TestCurrentIsoAndDestinationCheck(t *testing.T) {
	m, _, isoDir := newTestManager(t, "web")
	writeTestIso(t, isoDir, "ubuntu.iso")
	assert.NilError(t, m.AttachISO("web", "ubuntu.iso"))

	current, err := m.CurrentIso("web")
	assert.NilError(t, err)
	assert.Equal(t, current, "ubuntu.iso")

	assert.NilError(t, CheckIsoPresentOnDestination(current, "node2", []string{"ubuntu.iso", "debian.iso"}))

	err = CheckIsoPresentOnDestination(current, "node2", []string{"debian.iso"})
	assert.Assert(t, err != nil)
}

func TestCheckIsoPresentOnDestinationNoopWhenNoneAttached(t *testing.T) {
	assert.NilError(t, CheckIsoPresentOnDestination("", "node2", nil))
}
