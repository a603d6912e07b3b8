// Package wiring assembles the component graph shared by cmd/mcvirtd
// and cmd/mcvirt-remote: both processes need the same per-node
// managers (libvirt, LVM, DRBD, device edits, networks) and the same
// cluster config store, differing only in which parts of the graph
// they drive (mcvirtd runs the DRBD out-of-sync socket and owns the
// Coordinator; mcvirt-remote only serves the dispatcher table).
package wiring

import (
	"context"
	"net"
	"path/filepath"
	"time"

	golibvirt "github.com/digitalocean/go-libvirt"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mcvirt/mcvirt/internal/auth"
	"github.com/mcvirt/mcvirt/internal/cluster"
	"github.com/mcvirt/mcvirt/internal/config"
	"github.com/mcvirt/mcvirt/internal/device"
	"github.com/mcvirt/mcvirt/internal/network"
	"github.com/mcvirt/mcvirt/internal/nodelock"
	"github.com/mcvirt/mcvirt/internal/storage/drbd"
	"github.com/mcvirt/mcvirt/internal/storage/lvm"
	"github.com/mcvirt/mcvirt/internal/transport"
	"github.com/mcvirt/mcvirt/internal/vm"
)

// DefaultLibvirtSocket is the node-local libvirt RPC socket, per §4.6's
// "dialed over the node's local qemu:///system Unix socket".
const DefaultLibvirtSocket = "/var/run/libvirt/libvirt-sock"

// Config is the set of paths and identities a node needs to boot
// either cmd/ entrypoint — populated from the daemon's own cobra/pflag
// flags (§2), not from any per-VM or cluster document.
type Config struct {
	Hostname      string
	StorageRoot   string // /var/lib/mcvirt/<hostname>
	LibvirtSocket string // defaults to DefaultLibvirtSocket
	NodeLockPath  string // defaults to /var/run/lock/mcvirt/lock
	DRBDConfigDir string // defaults to /etc/drbd.d
	DRBDSocketPath string // defaults to drbd.DefaultSocketPath
	KnownHostsPath string // defaults to <StorageRoot>/known_hosts
	SSHPrivateKeyPath string // defaults to <StorageRoot>/id_rsa
}

func (c *Config) setDefaults() {
	if c.LibvirtSocket == "" {
		c.LibvirtSocket = DefaultLibvirtSocket
	}
	if c.NodeLockPath == "" {
		c.NodeLockPath = "/var/run/lock/mcvirt/lock"
	}
	if c.DRBDConfigDir == "" {
		c.DRBDConfigDir = "/etc/drbd.d"
	}
	if c.DRBDSocketPath == "" {
		c.DRBDSocketPath = drbd.DefaultSocketPath
	}
	if c.KnownHostsPath == "" {
		c.KnownHostsPath = filepath.Join(c.StorageRoot, "known_hosts")
	}
	if c.SSHPrivateKeyPath == "" {
		c.SSHPrivateKeyPath = filepath.Join(c.StorageRoot, "id_rsa")
	}
}

// Components is the fully-wired component graph one node needs.
type Components struct {
	Log            *logrus.Logger
	Hostname       string
	StorageRoot    string
	KnownHostsPath string
	ClusterStore   *config.Store[*config.ClusterDocument]
	Lock         *nodelock.Lock
	Libvirt      *golibvirt.Libvirt
	VM           *vm.Manager
	LVM          *lvm.Driver
	DRBD         *drbd.Driver
	Device       *device.Manager
	Network      *network.Manager
	Auth         *auth.Checker
	Transport    *transport.Manager
	Coordinator  *cluster.Coordinator
	Socket       *drbd.Socket
}

// Build dials libvirt, opens the cluster config store, and constructs
// every per-node manager against it. The DRBD socket is constructed
// but not started — only cmd/mcvirtd runs it.
func Build(cfg Config, log *logrus.Logger) (*Components, error) {
	cfg.setDefaults()

	libvirtConn, err := dialLibvirt(cfg.LibvirtSocket)
	if err != nil {
		return nil, errors.Wrap(err, "connect to libvirt")
	}

	clusterStore := config.NewClusterStore(filepath.Join(cfg.StorageRoot, "cluster.json"), log)
	doc, err := clusterStore.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read cluster config")
	}

	lvmDriver, err := lvm.NewDriver(doc.VMStorageVG)
	if err != nil {
		return nil, err
	}
	drbdDriver := drbd.NewDriver(cfg.DRBDConfigDir)

	vmManager := &vm.Manager{
		Hostname:    cfg.Hostname,
		StorageRoot: cfg.StorageRoot,
		Libvirt:     libvirtConn,
		Log:         log,
		Disks:       &diskRemover{lvm: lvmDriver, drbd: drbdDriver},
	}

	hostKeyCallback, err := transport.DefaultHostKeyCallback(cfg.KnownHostsPath)
	if err != nil {
		return nil, errors.Wrap(err, "load known_hosts")
	}
	transportManager := transport.NewManager(transport.AuthConfig{
		PrivateKeyPath: cfg.SSHPrivateKeyPath,
	}, hostKeyCallback, log)

	lock := nodelock.New(cfg.NodeLockPath, log)
	authChecker := auth.AllowAll()
	deviceManager := &device.Manager{VM: vmManager, IsoDir: filepath.Join(cfg.StorageRoot, "iso")}

	coordinator := &cluster.Coordinator{
		Hostname:     cfg.Hostname,
		Lock:         lock,
		Manager:      transportManager,
		Auth:         authChecker,
		Log:          log,
		VM:           vmManager,
		Device:       deviceManager,
		LVM:          lvmDriver,
		DRBD:         drbdDriver,
		ClusterStore: clusterStore,
		Peers: func() []transport.Peer {
			return peersFromCluster(doc, cfg.Hostname)
		},
	}

	socket := drbd.NewSocket(cfg.DRBDSocketPath, vmManager.LookupDRBDResource, log)

	return &Components{
		Log:            log,
		Hostname:       cfg.Hostname,
		StorageRoot:    cfg.StorageRoot,
		KnownHostsPath: cfg.KnownHostsPath,
		ClusterStore:   clusterStore,
		Lock:           lock,
		Libvirt:        libvirtConn,
		VM:             vmManager,
		LVM:            lvmDriver,
		DRBD:           drbdDriver,
		Device:         deviceManager,
		Network:        &network.Manager{Libvirt: libvirtConn},
		Auth:           authChecker,
		Transport:      transportManager,
		Coordinator:    coordinator,
		Socket:         socket,
	}, nil
}

// diskRemover bridges vm.Manager's storage-agnostic DiskRemover
// interface to the real lvm/drbd drivers, so internal/vm never imports
// internal/storage/lvm or internal/storage/drbd directly (§4.6 delete:
// "each disk calls its driver's delete").
type diskRemover struct {
	lvm  *lvm.Driver
	drbd *drbd.Driver
}

func (r *diskRemover) RemoveDisk(vmName string, disk config.Disk) error {
	ctx := context.Background()
	switch disk.Type {
	case config.DiskTypeLocalLV:
		return r.lvm.Remove(ctx, vmName, disk.ID)
	case config.DiskTypeDRBD:
		if err := r.drbd.Disconnect(ctx, disk.ResourceName); err != nil {
			return err
		}
		if err := r.drbd.Down(ctx, disk.ResourceName); err != nil {
			return err
		}
		return r.drbd.RemoveConfig(disk.ResourceName)
	default:
		return nil
	}
}

func peersFromCluster(doc *config.ClusterDocument, localHostname string) []transport.Peer {
	peers := make([]transport.Peer, 0, len(doc.Nodes))
	for name, node := range doc.Nodes {
		if name == localHostname {
			continue
		}
		peers = append(peers, transport.Peer{Name: name, Address: node.IPAddress})
	}
	return peers
}

func dialLibvirt(socketPath string) (*golibvirt.Libvirt, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, err
	}
	l := golibvirt.New(conn)
	if err := l.Connect(); err != nil {
		conn.Close()
		return nil, err
	}
	return l, nil
}
