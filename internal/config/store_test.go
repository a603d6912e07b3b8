package config

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

func tempClusterStore(t *testing.T) *Store[*ClusterDocument] {
	t.Helper()
	dir := t.TempDir()
	return NewClusterStore(filepath.Join(dir, "config.json"), nil)
}

func TestReadCreatesFreshDocumentAtCurrentVersion(t *testing.T) {
	store := tempClusterStore(t)

	doc, err := store.Read()
	assert.NilError(t, err)
	assert.Equal(t, doc.Version, CurrentClusterVersion)
	assert.Equal(t, len(doc.Nodes), 0)
}

func TestUpdateIsAtomicAndAppendsAudit(t *testing.T) {
	store := tempClusterStore(t)

	err := store.Update(func(d *ClusterDocument) error {
		d.Nodes["alpha"] = Node{Name: "alpha", IPAddress: "10.0.0.1"}
		return nil
	}, "added node alpha")
	assert.NilError(t, err)

	doc, err := store.Read()
	assert.NilError(t, err)
	assert.Equal(t, doc.Nodes["alpha"].IPAddress, "10.0.0.1")
	assert.Equal(t, len(doc.AuditLog), 1)
	assert.Equal(t, doc.AuditLog[0].Message, "added node alpha")
}

func TestUpdateErrorLeavesDocumentUnchanged(t *testing.T) {
	store := tempClusterStore(t)
	assert.NilError(t, store.Update(func(d *ClusterDocument) error {
		d.Nodes["alpha"] = Node{Name: "alpha"}
		return nil
	}, "add alpha"))

	err := store.Update(func(d *ClusterDocument) error {
		d.Nodes["beta"] = Node{Name: "beta"}
		return os.ErrInvalid
	}, "add beta")
	assert.ErrorIs(t, err, os.ErrInvalid)

	doc, err := store.Read()
	assert.NilError(t, err)
	_, hasBeta := doc.Nodes["beta"]
	assert.Assert(t, !hasBeta)
}

func TestAuditLogIsBounded(t *testing.T) {
	store := tempClusterStore(t)
	for i := 0; i < MaxAuditEntries+10; i++ {
		assert.NilError(t, store.Update(func(d *ClusterDocument) error { return nil }, "tick"))
	}
	doc, err := store.Read()
	assert.NilError(t, err)
	assert.Equal(t, len(doc.AuditLog), MaxAuditEntries)
}

func TestNoPartialWriteVisible(t *testing.T) {
	store := tempClusterStore(t)
	assert.NilError(t, store.Update(func(d *ClusterDocument) error {
		d.VMStorageVG = "vg_initial"
		return nil
	}, "set vg"))

	data, err := os.ReadFile(store.path)
	assert.NilError(t, err)
	assert.Assert(t, len(data) > 0)

	entries, err := os.ReadDir(filepath.Dir(store.path))
	assert.NilError(t, err)
	for _, e := range entries {
		assert.Assert(t, filepath.Ext(e.Name()) != ".tmp-config-", e.Name())
	}
}
