package drbd

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/mcvirt/mcvirt/internal/config"
)

func TestSocketMarksResourceOutOfSyncOnHookMessage(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "web.json")
	store := config.NewVMStore(storePath, nil)

	assert.NilError(t, store.Update(func(d *config.VMDocument) error {
		d.Disks = append(d.Disks, config.Disk{ID: 1, Type: config.DiskTypeDRBD, ResourceName: "mcvirt_vm-web-disk-1", SyncState: config.SyncStateInSync})
		return nil
	}, "seed"))

	lookup := func(resourceName string) (*config.Store[*config.VMDocument], int, error) {
		return store, 1, nil
	}

	socketPath := filepath.Join(dir, "mcvirt-drbd.sock")
	s := NewSocket(socketPath, lookup, nil)
	assert.NilError(t, s.Start())
	defer s.Stop()

	conn, err := net.Dial("unix", socketPath)
	assert.NilError(t, err)
	_, err = conn.Write([]byte("mcvirt_vm-web-disk-1"))
	assert.NilError(t, err)
	conn.Close()

	assert.Assert(t, waitUntil(t, 2*time.Second, func() bool {
		doc, err := store.Read()
		if err != nil {
			return false
		}
		return doc.Disks[0].SyncState == config.SyncStateOutOfSync
	}))
}

func TestSetSyncStateRemoteNotification(t *testing.T) {
	dir := t.TempDir()
	store := config.NewVMStore(filepath.Join(dir, "web.json"), nil)
	assert.NilError(t, store.Update(func(d *config.VMDocument) error {
		d.Disks = append(d.Disks, config.Disk{ID: 1, Type: config.DiskTypeDRBD, ResourceName: "mcvirt_vm-web-disk-1", SyncState: config.SyncStateOutOfSync})
		return nil
	}, "seed"))

	lookup := func(resourceName string) (*config.Store[*config.VMDocument], int, error) {
		return store, 1, nil
	}

	assert.NilError(t, SetSyncState(lookup, "mcvirt_vm-web-disk-1", config.SyncStateInSync))

	doc, err := store.Read()
	assert.NilError(t, err)
	assert.Equal(t, doc.Disks[0].SyncState, config.SyncStateInSync)
}

func TestSocketStopRemovesSocketFile(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "mcvirt-drbd.sock")

	s := NewSocket(socketPath, nil, nil)
	assert.NilError(t, s.Start())
	s.Stop()

	_, err := net.Dial("unix", socketPath)
	assert.Assert(t, err != nil)
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}
