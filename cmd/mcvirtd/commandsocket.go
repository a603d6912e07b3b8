package main

import (
	"encoding/json"
	"net"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mcvirt/mcvirt/internal/cluster"
	"github.com/mcvirt/mcvirt/internal/config"
	"github.com/mcvirt/mcvirt/internal/dispatcher"
)

// DefaultCommandSocketPath is the Unix socket mcvirtd listens on for
// local administrative commands: the mechanism that actually drives a
// Coordinator.Run for a real cluster-wide mutation, since the CLI's
// own argument parsing and rendering stay out of scope.
const DefaultCommandSocketPath = "/var/run/lock/mcvirt/mcvirtd-command.sock"

func decode[T any](data json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}

// CommandSocket is the long-running daemon's local control plane: a
// Unix socket serving the same newline-delimited-JSON framing as the
// cross-node worker dispatcher, but with a table of Coordinator
// methods instead of bare per-node primitives, so a connecting client
// triggers the full lock/fanout/rollback protocol rather than a single
// node's local effect.
type CommandSocket struct {
	Path       string
	Dispatcher *dispatcher.Dispatcher
	Log        *logrus.Logger
	ln         net.Listener
	closeCh    chan struct{}
}

// NewCommandSocket builds the action table against coordinator and
// binds it to path (not yet listening; call Start).
func NewCommandSocket(path string, coordinator *cluster.Coordinator, log *logrus.Logger) *CommandSocket {
	d := dispatcher.New(log)
	registerCoordinatorActions(d, coordinator)
	return &CommandSocket{Path: path, Dispatcher: d, Log: log, closeCh: make(chan struct{})}
}

// Start removes any stale socket file, binds a fresh one, and begins
// accepting connections in a background goroutine, one dispatcher
// session per connection (mirrors drbd.Socket.Start).
func (s *CommandSocket) Start() error {
	_ = os.Remove(s.Path)

	ln, err := net.Listen("unix", s.Path)
	if err != nil {
		return errors.Wrapf(err, "binding command socket %s", s.Path)
	}
	s.ln = ln

	go s.acceptLoop()
	return nil
}

// Stop closes the listener and removes the socket file.
func (s *CommandSocket) Stop() {
	close(s.closeCh)
	if s.ln != nil {
		s.ln.Close()
	}
	_ = os.Remove(s.Path)
}

func (s *CommandSocket) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.closeCh:
				return
			default:
				if s.Log != nil {
					s.Log.WithError(err).Warn("command socket accept failed")
				}
				return
			}
		}
		go func() {
			defer conn.Close()
			if err := s.Dispatcher.Serve(conn, conn); err != nil && s.Log != nil {
				s.Log.WithError(err).Warn("command socket session ended with error")
			}
		}()
	}
}

type createVMArgs struct {
	Name           string   `json:"name"`
	CPUCores       int      `json:"cpu_cores"`
	MemoryMB       int      `json:"memory_mb"`
	AvailableNodes []string `json:"available_nodes"`
}

type vmNameArgs struct {
	Name string `json:"name"`
}

type deleteVMArgs struct {
	Name       string `json:"name"`
	RemoveData bool   `json:"remove_data"`
}

type attachDiskArgs struct {
	VMName string `json:"vm_name"`
	DiskID int    `json:"disk_id"`
	SizeMB int    `json:"size_mb"`
}

type detachDiskArgs struct {
	VMName string `json:"vm_name"`
	DiskID int    `json:"disk_id"`
}

type enableDRBDArgs struct {
	ResourceCount int    `json:"resource_count"`
	Secret        string `json:"secret"`
}

type addNodeArgs struct {
	Node config.Node `json:"node"`
}

type removeNodeArgs struct {
	Name string `json:"name"`
}

// registerCoordinatorActions binds every public cluster-wide mutation
// named in §2 to a Coordinator.Run call — the production counterpart
// to coordinator_test.go's synthetic Ops.
func registerCoordinatorActions(d *dispatcher.Dispatcher, c *cluster.Coordinator) {
	d.Register("createVM", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[createVMArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, c.CreateVM(args.Name, args.CPUCores, args.MemoryMB, args.AvailableNodes)
	})

	d.Register("deleteVM", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[deleteVMArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, c.DeleteVM(args.Name, args.RemoveData)
	})

	d.Register("registerVM", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[vmNameArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, c.RegisterVM(args.Name)
	})

	d.Register("unregisterVM", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[vmNameArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, c.UnregisterVM(args.Name)
	})

	d.Register("attachDisk", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[attachDiskArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, c.AttachDisk(args.VMName, args.DiskID, args.SizeMB)
	})

	d.Register("detachDisk", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[detachDiskArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, c.DetachDisk(args.VMName, args.DiskID)
	})

	d.Register("enableDRBD", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[enableDRBDArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, c.EnableDRBD(args.ResourceCount, args.Secret)
	})

	d.Register("addNode", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[addNodeArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, c.AddNode(args.Node)
	})

	d.Register("removeNode", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[removeNodeArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, c.RemoveNode(args.Name)
	})
}
