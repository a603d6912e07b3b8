package cluster

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
	"gotest.tools/v3/assert"

	"github.com/mcvirt/mcvirt/internal/dispatcher"
	"github.com/mcvirt/mcvirt/internal/mcerrors"
	"github.com/mcvirt/mcvirt/internal/nodelock"
	"github.com/mcvirt/mcvirt/internal/transport"
)

// fakePeer is an in-process stand-in for a peer's worker process: it
// serves a dispatcher over a real (loopback) SSH server and tracks
// which actions it received, so tests can assert on fanout order and
// on obtainLock/releaseLock bracketing without a real remote host.
type fakePeer struct {
	addr string

	mu      sync.Mutex
	actions []string
	fail    map[string]error
}

func newFakePeer(t *testing.T) *fakePeer {
	fp := &fakePeer{fail: map[string]error{}}
	d := dispatcher.New(nil)
	d.Register(obtainLockAction, fp.record(obtainLockAction))
	d.Register(releaseLockAction, fp.record(releaseLockAction))
	d.Register("createLogicalVolume", fp.record("createLogicalVolume"))
	fp.addr = startFakeServer(t, d)
	return fp
}

func (fp *fakePeer) record(action string) dispatcher.Handler {
	return func(json.RawMessage) (interface{}, error) {
		fp.mu.Lock()
		fp.actions = append(fp.actions, action)
		err := fp.fail[action]
		fp.mu.Unlock()
		return nil, err
	}
}

func (fp *fakePeer) failOn(action string, err error) {
	fp.mu.Lock()
	fp.fail[action] = err
	fp.mu.Unlock()
}

func (fp *fakePeer) seen() []string {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	out := make([]string, len(fp.actions))
	copy(out, fp.actions)
	return out
}

func startFakeServer(t *testing.T, d *dispatcher.Dispatcher) string {
	t.Helper()
	return newSSHTestServer(t, d)
}

func newCoordinator(t *testing.T, peers ...transport.Peer) (*Coordinator, func()) {
	t.Helper()
	dir := t.TempDir()
	lock := nodelock.New(filepath.Join(dir, "lock"), nil)
	manager := transport.NewManager(transport.AuthConfig{Password: "unchecked"}, ssh.InsecureIgnoreHostKey(), nil)
	c := &Coordinator{
		Hostname: "alpha",
		Lock:     lock,
		Manager:  manager,
		Peers:    func() []transport.Peer { return peers },
	}
	return c, func() { manager.CloseAll() }
}

func TestCoordinatorRunHappyPathLocksAndFansOutInHostnameOrder(t *testing.T) {
	charlie := newFakePeer(t)
	bravo := newFakePeer(t)

	c, cleanup := newCoordinator(t,
		transport.Peer{Name: "charlie", Address: charlie.addr},
		transport.Peer{Name: "bravo", Address: bravo.addr},
	)
	defer cleanup()

	var localRan bool
	err := c.Run(Op{
		Name:         "hdd.create",
		LocalFirst:   true,
		Local:        func() error { localRan = true; return nil },
		RemoteAction: "createLogicalVolume",
		RemoteArgs:   map[string]string{"vm": "web"},
	})
	assert.NilError(t, err)
	assert.Assert(t, localRan)
	assert.Assert(t, !c.Lock.Held())

	assert.DeepEqual(t, bravo.seen(), []string{obtainLockAction, "createLogicalVolume", releaseLockAction})
	assert.DeepEqual(t, charlie.seen(), []string{obtainLockAction, "createLogicalVolume", releaseLockAction})
}

func TestCoordinatorIgnoreFailedNodesSkipsUnreachablePeer(t *testing.T) {
	reachable := newFakePeer(t)

	c, cleanup := newCoordinator(t,
		transport.Peer{Name: "bravo", Address: reachable.addr},
		transport.Peer{Name: "unreachable", Address: "127.0.0.1:1"},
	)
	defer cleanup()

	err := c.Run(Op{
		Name:              "node.notify",
		IgnoreFailedNodes: true,
		RemoteAction:      "createLogicalVolume",
		RemoteArgs:        struct{}{},
	})
	assert.NilError(t, err)
	assert.DeepEqual(t, reachable.seen(), []string{obtainLockAction, "createLogicalVolume", releaseLockAction})
}

func TestCoordinatorAbortsWhenPeerUnreachableAndNotIgnored(t *testing.T) {
	reachable := newFakePeer(t)

	c, cleanup := newCoordinator(t,
		transport.Peer{Name: "bravo", Address: reachable.addr},
		transport.Peer{Name: "unreachable", Address: "127.0.0.1:1"},
	)
	defer cleanup()

	var localRan bool
	err := c.Run(Op{
		Name:         "vm.create",
		LocalFirst:   true,
		Local:        func() error { localRan = true; return nil },
		RemoteAction: "createLogicalVolume",
	})
	assert.Assert(t, mcerrors.IsNodeUnreachable(err))
	assert.Assert(t, !localRan)
	// the reachable peer's lock must have been released again, not left held.
	assert.DeepEqual(t, reachable.seen(), []string{obtainLockAction, releaseLockAction})
}

func TestCoordinatorRollsBackLocalEffectAndReturnsClusterInconsistency(t *testing.T) {
	ok := newFakePeer(t)
	failing := newFakePeer(t)
	failing.failOn("createLogicalVolume", assertError("lvcreate: no space"))

	c, cleanup := newCoordinator(t,
		transport.Peer{Name: "bravo", Address: ok.addr},
		transport.Peer{Name: "charlie", Address: failing.addr},
	)
	defer cleanup()

	var localRan, rolledBack bool
	err := c.Run(Op{
		Name:          "hdd.create",
		LocalFirst:    true,
		Local:         func() error { localRan = true; return nil },
		RollbackLocal: func() error { rolledBack = true; return nil },
		RemoteAction:  "createLogicalVolume",
	})
	assert.Assert(t, mcerrors.IsClusterInconsistency(err))
	assert.Assert(t, localRan)
	assert.Assert(t, rolledBack)
	assert.Assert(t, !c.Lock.Held())
}

func TestCoordinatorPermissionDeniedNeverAcquiresLock(t *testing.T) {
	c, cleanup := newCoordinator(t)
	defer cleanup()
	c.Auth = denyAll{}

	err := c.Run(Op{Name: "vm.delete", Permission: "DELETE_VM"})
	assert.Assert(t, mcerrors.IsPermissionDenied(err))
	assert.Assert(t, !c.Lock.Held())
}

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

type assertError string

func (e assertError) Error() string { return string(e) }
