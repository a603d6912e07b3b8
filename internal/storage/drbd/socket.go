package drbd

import (
	"net"
	"os"

	"github.com/moby/locker"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mcvirt/mcvirt/internal/config"
)

// DefaultSocketPath is the fixed Unix socket the out-of-band DRBD
// verify hook script connects to, per §6.
const DefaultSocketPath = "/var/run/lock/mcvirt/mcvirt-drbd.sock"

// VMStoreLookup resolves the per-VM config store owning a given DRBD
// resource name, so the socket server can mark that resource
// out-of-sync without needing a full VM manager dependency.
type VMStoreLookup func(resourceName string) (*config.Store[*config.VMDocument], int, error)

// Socket listens on a Unix domain socket for bare resource names sent
// by the out-of-sync verify hook, and marks the named resource's
// sync_state as out_of_sync in local config. It never fans out to
// peers — the spec's update_remote=false — since each node's own
// verify hook fires independently.
type Socket struct {
	Path    string
	Lookup  VMStoreLookup
	Log     *logrus.Logger
	locks   *locker.Locker
	ln      net.Listener
	closeCh chan struct{}
}

// NewSocket returns a Socket bound to path (DefaultSocketPath in
// production; tests use a temp-dir path so runs don't collide).
func NewSocket(path string, lookup VMStoreLookup, log *logrus.Logger) *Socket {
	return &Socket{Path: path, Lookup: lookup, Log: log, locks: locker.New(), closeCh: make(chan struct{})}
}

// Start removes any stale socket file, binds a fresh one, and begins
// accepting connections in a background goroutine. Stop tears both
// down.
func (s *Socket) Start() error {
	_ = os.Remove(s.Path)

	ln, err := net.Listen("unix", s.Path)
	if err != nil {
		return errors.Wrapf(err, "binding drbd socket %s", s.Path)
	}
	s.ln = ln

	go s.acceptLoop()
	return nil
}

// Stop closes the listener and removes the socket file, matching
// DRBDSocket.stop.
func (s *Socket) Stop() {
	close(s.closeCh)
	if s.ln != nil {
		s.ln.Close()
	}
	_ = os.Remove(s.Path)
}

// acceptLoop serves one connection at a time, per §5's single accept
// loop requirement.
func (s *Socket) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.closeCh:
				return
			default:
				if s.Log != nil {
					s.Log.WithError(err).Warn("drbd socket accept failed")
				}
				return
			}
		}
		s.handle(conn)
	}
}

func (s *Socket) handle(conn net.Conn) {
	defer conn.Close()

	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		return
	}
	resourceName := string(buf[:n])

	s.locks.Lock(resourceName)
	defer s.locks.Unlock(resourceName)

	if err := SetSyncState(s.Lookup, resourceName, config.SyncStateOutOfSync); err != nil && s.Log != nil {
		s.Log.WithError(err).WithField("resource", resourceName).Warn("failed to record out-of-sync hook")
	}
}

// SetSyncState records resourceName's sync state in its owning VM's
// config document. It backs both the socket's out-of-sync hook and the
// dispatcher's setSyncState remote action (§4.4) — the same update,
// reached from two different triggers (a local drbdadm verify hook vs.
// an explicit remote notification).
func SetSyncState(lookup VMStoreLookup, resourceName, state string) error {
	store, diskID, err := lookup(resourceName)
	if err != nil {
		return err
	}
	return store.Update(func(d *config.VMDocument) error {
		for i := range d.Disks {
			if d.Disks[i].ID == diskID && d.Disks[i].ResourceName == resourceName {
				d.Disks[i].SyncState = state
			}
		}
		return nil
	}, "drbd sync state: "+resourceName+" -> "+state)
}
