package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

func TestUpgradeMigratesVersion1Document(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	v1 := map[string]interface{}{
		"version":    1,
		"local_node": "alpha",
		"nodes":      map[string]interface{}{},
	}
	data, err := json.Marshal(v1)
	assert.NilError(t, err)
	assert.NilError(t, os.WriteFile(path, data, 0o644))

	store := NewClusterStore(path, nil)
	doc, err := store.Read()
	assert.NilError(t, err)
	assert.Equal(t, doc.Version, CurrentClusterVersion)
	assert.Equal(t, doc.VMStorageVG, "mcvirt_vg")
	assert.Equal(t, doc.DRBD.Protocol, "C")
}

func TestUpgradeIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	v1 := map[string]interface{}{"version": 1, "nodes": map[string]interface{}{}}
	data, _ := json.Marshal(v1)
	assert.NilError(t, os.WriteFile(path, data, 0o644))

	store := NewClusterStore(path, nil)
	assert.NilError(t, store.Upgrade())
	first, err := os.ReadFile(path)
	assert.NilError(t, err)

	assert.NilError(t, store.Upgrade())
	second, err := os.ReadFile(path)
	assert.NilError(t, err)

	assert.DeepEqual(t, first, second)
}

func TestFreshDocumentStartsAtCurrentVersionNoMigration(t *testing.T) {
	dir := t.TempDir()
	store := NewClusterStore(filepath.Join(dir, "config.json"), nil)
	doc, err := store.Read()
	assert.NilError(t, err)
	assert.Equal(t, doc.Version, CurrentClusterVersion)
}
