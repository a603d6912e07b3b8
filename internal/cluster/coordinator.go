// Package cluster implements the Cluster Coordinator: the 7-step
// mutating-operation protocol that fans a local effect out to every
// peer under a cluster-wide advisory lock, rolling back the local
// effect and surfacing a ClusterInconsistency on partial peer failure
// (§4.5).
package cluster

import (
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mcvirt/mcvirt/internal/config"
	"github.com/mcvirt/mcvirt/internal/device"
	"github.com/mcvirt/mcvirt/internal/mcerrors"
	"github.com/mcvirt/mcvirt/internal/nodelock"
	"github.com/mcvirt/mcvirt/internal/storage/drbd"
	"github.com/mcvirt/mcvirt/internal/storage/lvm"
	"github.com/mcvirt/mcvirt/internal/transport"
	"github.com/mcvirt/mcvirt/internal/vm"
)

const (
	obtainLockAction  = "obtainLock"
	releaseLockAction = "releaseLock"
)

// PermissionChecker is the thin Auth collaborator mutating operations
// delegate permission validation to (§4.5 step 1). A nil Coordinator.Auth
// allows everything, matching a single-operator deployment with no
// permission model configured yet.
type PermissionChecker interface {
	Allow(permission string) bool
}

// Op describes one mutating cluster operation: the local effect to
// run, its remote equivalent, and how to undo the local effect if the
// remote fanout doesn't fully succeed. Local/RemoteArgs are supplied by
// the caller (internal/vm, internal/storage/drbd, ...); Coordinator
// only sequences them per the protocol.
type Op struct {
	// Name identifies the operation in logs and in ClusterInconsistency.Step.
	Name string
	// Permission is checked against Coordinator.Auth before anything
	// else happens. Empty means no permission is required.
	Permission string
	// IgnoreFailedNodes lets unreachable peers drop out of the
	// operation (recorded, not fatal) instead of aborting it at the
	// lock-acquire step.
	IgnoreFailedNodes bool
	// LocalFirst selects the ordering rule (§4.5): true when local
	// state is the source of truth (VM existence, config authoring),
	// false when this is a pure peer notification (e.g. addHostKey).
	LocalFirst bool

	// Local executes the effect on this node. May be nil for
	// operations with no local-only component.
	Local func() error
	// RollbackLocal undoes Local's effect. Invoked only if the remote
	// fanout reports a peer failure. May be nil.
	RollbackLocal func() error

	// RemoteAction is the dispatcher action name invoked on every
	// peer. Empty means there is no remote fanout (e.g. start/stop,
	// which §4.6 specifies as local-only).
	RemoteAction string
	// RemoteArgs is marshalled identically for every peer.
	RemoteArgs interface{}
}

// Coordinator runs mutating Ops against the node's peer set.
type Coordinator struct {
	Hostname string
	Lock     *nodelock.Lock
	Manager  *transport.Manager
	Auth     PermissionChecker
	Log      *logrus.Logger

	// Peers returns the current known-nodes list (excluding the local
	// node). Indirected through a func so the coordinator always sees
	// a fresh view of the cluster config.
	Peers func() []transport.Peer

	// LockTimeout overrides nodelock.DefaultTimeout when non-zero.
	LockTimeout time.Duration

	// VM, Device, LVM, DRBD, and ClusterStore are the local collaborators
	// the per-verb Op builders in ops.go compose into Op.Local/
	// RollbackLocal. Run itself never touches them; only construct a
	// Coordinator with these set when it will actually call one of the
	// builder methods (coordinator_test.go exercises Run directly against
	// synthetic Ops and leaves them nil).
	VM           *vm.Manager
	Device       *device.Manager
	LVM          *lvm.Driver
	DRBD         *drbd.Driver
	ClusterStore *config.Store[*config.ClusterDocument]
}

// Run executes op's full 7-step protocol and returns the first
// terminal error, or a *mcerrors.Error of kind ClusterInconsistency if
// the local effect succeeded but one or more peers failed to apply it.
func (c *Coordinator) Run(op Op) error {
	if c.Auth != nil && op.Permission != "" && !c.Auth.Allow(op.Permission) {
		return mcerrors.NewPermissionDenied(op.Permission)
	}

	timeout := c.LockTimeout
	if timeout == 0 {
		timeout = nodelock.DefaultTimeout
	}
	if err := c.Lock.Acquire(timeout); err != nil {
		return err
	}
	defer c.Lock.Release()

	peers := sortedPeers(c.peerList())

	locked := make([]transport.Peer, 0, len(peers))
	var failedNodes map[string]bool

	for _, peer := range peers {
		if err := c.obtainPeerLock(peer); err != nil {
			if op.IgnoreFailedNodes {
				if failedNodes == nil {
					failedNodes = map[string]bool{}
				}
				failedNodes[peer.Name] = true
				c.logf(logrus.WarnLevel, peer, "ignoring unreachable peer for %s: %v", op.Name, err)
				continue
			}
			c.releasePeerLocks(locked)
			return err
		}
		locked = append(locked, peer)
	}

	remote := make([]transport.Peer, 0, len(locked))
	for _, peer := range locked {
		if !failedNodes[peer.Name] {
			remote = append(remote, peer)
		}
	}

	runLocal := func() error {
		if op.Local == nil {
			return nil
		}
		return op.Local()
	}
	runRemote := func() error {
		return c.fanout(remote, op)
	}

	var err error
	if op.LocalFirst {
		if err = runLocal(); err == nil {
			err = runRemote()
		}
	} else {
		if err = runRemote(); err == nil {
			err = runLocal()
		}
	}

	c.releasePeerLocks(locked)
	return err
}

func (c *Coordinator) peerList() []transport.Peer {
	if c.Peers == nil {
		return nil
	}
	return c.Peers()
}

func (c *Coordinator) obtainPeerLock(peer transport.Peer) error {
	ch, err := c.Manager.Get(peer)
	if err != nil {
		return err
	}
	_, err = ch.RunRemoteCommand(obtainLockAction, struct{}{})
	return err
}

// releasePeerLocks unlocks peers in reverse order (§4.5 step 7, §5
// ordering guarantees). Failures are logged, not returned: a crashed
// or unreachable peer here is the documented stale-lock operational
// hazard, not a fresh error for an operation that has already
// committed or already failed.
func (c *Coordinator) releasePeerLocks(peers []transport.Peer) {
	for i := len(peers) - 1; i >= 0; i-- {
		peer := peers[i]
		ch, err := c.Manager.Get(peer)
		if err != nil {
			c.logf(logrus.ErrorLevel, peer, "could not reach peer to release lock: %v", err)
			continue
		}
		if _, err := ch.RunRemoteCommand(releaseLockAction, struct{}{}); err != nil {
			c.logf(logrus.ErrorLevel, peer, "peer failed to release lock: %v", err)
		}
	}
}

// fanout replays op's remote action on every peer in peers (§4.5 step
// 5). On any peer failure it best-effort rolls back the local effect,
// aggregates every peer failure (and any rollback failure) with
// go-multierror, and returns one ClusterInconsistency naming the first
// failing peer and the operation.
func (c *Coordinator) fanout(peers []transport.Peer, op Op) error {
	if op.RemoteAction == "" {
		return nil
	}

	var failures *multierror.Error
	firstPeer := ""

	for _, peer := range peers {
		ch, err := c.Manager.Get(peer)
		if err == nil {
			_, err = ch.RunRemoteCommand(op.RemoteAction, op.RemoteArgs)
		}
		if err != nil {
			if firstPeer == "" {
				firstPeer = peer.Name
			}
			failures = multierror.Append(failures, errors.Wrapf(err, "peer %s", peer.Name))
		}
	}

	if failures == nil || len(failures.Errors) == 0 {
		return nil
	}

	if op.RollbackLocal != nil {
		if rbErr := op.RollbackLocal(); rbErr != nil {
			failures = multierror.Append(failures, errors.Wrap(rbErr, "local rollback"))
		}
	}

	return mcerrors.NewClusterInconsistency(firstPeer, op.Name, failures.ErrorOrNil())
}

func (c *Coordinator) logf(level logrus.Level, peer transport.Peer, format string, args ...interface{}) {
	if c.Log == nil {
		return
	}
	c.Log.WithField("peer", peer.Name).Logf(level, format, args...)
}

func sortedPeers(peers []transport.Peer) []transport.Peer {
	sorted := make([]transport.Peer, len(peers))
	copy(sorted, peers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return sorted
}
