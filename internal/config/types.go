// Package config implements the file-backed JSON configuration store
// used for both the per-node cluster configuration and each VM's
// per-node configuration document, per the Config Store component.
package config

// CurrentClusterVersion is the compiled-in version new cluster config
// documents are created at and that Upgrade migrates existing
// documents towards.
const CurrentClusterVersion = 2

// CurrentVMVersion is the equivalent compiled-in version for per-VM
// configuration documents.
const CurrentVMVersion = 1

// Node is a cluster member, identified by a stable hostname.
type Node struct {
	Name      string `json:"name"`
	IPAddress string `json:"ip_address"`
	PublicKey string `json:"public_key"`
}

// DRBDGlobalConfig is present (with Enabled true) only after
// drbd.enable has succeeded on every node.
type DRBDGlobalConfig struct {
	Enabled  bool   `json:"enabled"`
	Secret   string `json:"secret"`
	SyncRate string `json:"sync_rate"`
	Protocol string `json:"protocol"`
}

// DefaultDRBDGlobalConfig mirrors the original implementation's
// defaults (node/drbd.py DRBD.getDefaultConfig).
func DefaultDRBDGlobalConfig() DRBDGlobalConfig {
	return DRBDGlobalConfig{
		Enabled:  false,
		Secret:   "",
		SyncRate: "10M",
		Protocol: "C",
	}
}

// AuditEntry is one line of the bounded audit trail kept alongside the
// config document (SPEC_FULL.md §4.1 supplement).
type AuditEntry struct {
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

// MaxAuditEntries bounds the ring kept in each document.
const MaxAuditEntries = 200

// ClusterDocument is the on-disk shape of the global cluster config:
// {version, cluster: {cluster_ip, nodes: {...}}, vm_storage_vg, drbd: {...}}.
type ClusterDocument struct {
	Version     int               `json:"version"`
	LocalNode   string            `json:"local_node"`
	ClusterIP   string            `json:"cluster_ip"`
	Nodes       map[string]Node   `json:"nodes"`
	VMStorageVG string            `json:"vm_storage_vg"`
	DRBD        DRBDGlobalConfig  `json:"drbd"`
	AuditLog    []AuditEntry      `json:"audit_log,omitempty"`
}

func (d *ClusterDocument) versionField() *int { return &d.Version }

func (d *ClusterDocument) audit() *[]AuditEntry { return &d.AuditLog }

// NewClusterDocument returns a fresh document at CurrentClusterVersion.
func NewClusterDocument(localNode, clusterIP, vmStorageVG string) *ClusterDocument {
	return &ClusterDocument{
		Version:     CurrentClusterVersion,
		LocalNode:   localNode,
		ClusterIP:   clusterIP,
		Nodes:       map[string]Node{},
		VMStorageVG: vmStorageVG,
		DRBD:        DefaultDRBDGlobalConfig(),
	}
}

// Disk describes one of a VM's up to four disks.
type Disk struct {
	ID     int    `json:"id"`
	Type   string `json:"type"` // "local_lv" or "drbd"
	SizeMB int    `json:"size_mb"`

	// drbd-only fields.
	ResourceName string `json:"resource_name,omitempty"`
	Minor        int    `json:"minor,omitempty"`
	Port         int    `json:"port,omitempty"`
	SyncState    string `json:"sync_state,omitempty"` // "in_sync" | "out_of_sync"
	State        string `json:"state,omitempty"`      // drbd resource lifecycle state
}

const (
	DiskTypeLocalLV = "local_lv"
	DiskTypeDRBD    = "drbd"
)

const (
	SyncStateInSync    = "in_sync"
	SyncStateOutOfSync = "out_of_sync"
)

// DRBD resource lifecycle states (internal/storage/drbd), per the
// state machine: absent -> lv_ready -> defined -> metadata_ready -> up
// -> connected -> syncing -> in_sync, with a teardown path reachable
// from any state.
const (
	DRBDStateAbsent        = "absent"
	DRBDStateLVReady       = "lv_ready"
	DRBDStateDefined       = "defined"
	DRBDStateMetadataReady = "metadata_ready"
	DRBDStateUp            = "up"
	DRBDStateConnected     = "connected"
	DRBDStateSyncing       = "syncing"
	DRBDStateInSync        = "in_sync"
)

// LockState mirrors the per-VM lock_state attribute from the data
// model: unlocked or locked.
type LockState string

const (
	LockStateUnlocked LockState = "unlocked"
	LockStateLocked   LockState = "locked"
)

// VMDocument is the per-VM JSON config:
// {disks:[], network_interfaces:{}, available_nodes, node, lock_state}.
type VMDocument struct {
	Version int `json:"version"`

	CPUCores  int `json:"cpu_cores"`
	MemoryMB  int `json:"memory_mb"`

	Disks              []Disk            `json:"disks"`
	NetworkInterfaces  map[string]string `json:"network_interfaces"` // mac -> network name
	AvailableNodes     []string          `json:"available_nodes"`
	CurrentNode        string            `json:"node"` // "" means unregistered
	LockState          LockState         `json:"lock_state"`
	AuditLog           []AuditEntry      `json:"audit_log,omitempty"`
}

func (d *VMDocument) versionField() *int { return &d.Version }

func (d *VMDocument) audit() *[]AuditEntry { return &d.AuditLog }

// NewVMDocument returns a fresh per-VM document, matching
// VirtualMachine.create's freshly-written config in the VM Manager
// component.
func NewVMDocument(cpuCores, memoryMB int, availableNodes []string, hostname string) *VMDocument {
	return &VMDocument{
		Version:           CurrentVMVersion,
		CPUCores:          cpuCores,
		MemoryMB:          memoryMB,
		Disks:             []Disk{},
		NetworkInterfaces: map[string]string{},
		AvailableNodes:    availableNodes,
		CurrentNode:       hostname,
		LockState:         LockStateUnlocked,
	}
}

// IsRegistered reports whether the VM is currently registered on any
// node (data model invariant ii: current_node ∈ available_nodes ∪ {null}).
func (d *VMDocument) IsRegistered() bool { return d.CurrentNode != "" }
