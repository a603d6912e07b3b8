package cluster

import (
	"context"

	"github.com/mcvirt/mcvirt/internal/config"
	"github.com/mcvirt/mcvirt/internal/storage/drbd"
	"github.com/mcvirt/mcvirt/internal/storage/lvm"
)

// wire argument shapes mirror cmd/mcvirt-remote/actions.go's decode
// targets field-for-field; the two processes agree on the wire, not on
// a shared Go type, since a peer's worker is a separate binary.

type createVMArgs struct {
	Name           string   `json:"name"`
	CPUCores       int      `json:"cpu_cores"`
	MemoryMB       int      `json:"memory_mb"`
	AvailableNodes []string `json:"available_nodes"`
}

type deleteVMArgs struct {
	Name       string `json:"name"`
	RemoveData bool   `json:"remove_data"`
}

type attachDiskArgs struct {
	VMName     string      `json:"vm_name"`
	Disk       config.Disk `json:"disk"`
	DevicePath string      `json:"device_path"`
}

type detachDiskArgs struct {
	VMName string `json:"vm_name"`
	DiskID int    `json:"disk_id"`
}

type drbdEnableArgs struct {
	ResourceCount int    `json:"resource_count"`
	Secret        string `json:"secret"`
	Initiating    bool   `json:"initiating"`
}

type addNodeArgs struct {
	Node config.Node `json:"node"`
}

type removeNodeArgs struct {
	Name string `json:"name"`
}

// CreateVM runs the create-VM operation: defines the domain and writes
// its config document locally first, then replays "create" on every
// peer (§4.6 create is LocalFirst since the fresh config document is
// the source of truth the peers adopt). Rollback deletes what Local
// just created.
func (c *Coordinator) CreateVM(name string, cpuCores, memoryMB int, availableNodes []string) error {
	return c.Run(Op{
		Name:       "vm.create",
		Permission: "CREATE_VM",
		LocalFirst: true,
		Local: func() error {
			return c.VM.Create(name, cpuCores, memoryMB, availableNodes)
		},
		RollbackLocal: func() error {
			return c.VM.Delete(name, true)
		},
		RemoteAction: "create",
		RemoteArgs: createVMArgs{
			Name: name, CPUCores: cpuCores, MemoryMB: memoryMB, AvailableNodes: availableNodes,
		},
	})
}

// DeleteVM runs the delete-VM operation (§4.6 delete): local state
// (whether the VM is running, what disks it has) governs whether the
// operation can proceed at all, so this is LocalFirst too. There is no
// meaningful rollback for a successful delete; a peer fanout failure
// surfaces as ClusterInconsistency instead of trying to recreate what
// was just torn down.
func (c *Coordinator) DeleteVM(name string, removeData bool) error {
	return c.Run(Op{
		Name:       "vm.delete",
		Permission: "MODIFY_VM",
		LocalFirst: true,
		Local: func() error {
			return c.VM.Delete(name, removeData)
		},
		RemoteAction: "delete",
		RemoteArgs:   deleteVMArgs{Name: name, RemoveData: removeData},
	})
}

// RegisterVM runs the register operation: this node claims a VM that
// isn't currently registered anywhere, then notifies peers so their
// own current_node bookkeeping agrees.
func (c *Coordinator) RegisterVM(name string) error {
	return c.Run(Op{
		Name:       "vm.register",
		Permission: "MODIFY_VM",
		LocalFirst: true,
		Local: func() error {
			return c.VM.Register(name)
		},
		RollbackLocal: func() error {
			return c.VM.Unregister(name)
		},
		RemoteAction: "setNode",
		RemoteArgs:   setNodeArgs{Name: name, Node: c.Hostname},
	})
}

type setNodeArgs struct {
	Name string `json:"name"`
	Node string `json:"node"`
}

// UnregisterVM runs the unregister operation: this node releases its
// claim on a VM. Peers are not notified — §4.6 documents unregister as
// local-only, the mirror image of Start/Stop.
func (c *Coordinator) UnregisterVM(name string) error {
	return c.Run(Op{
		Name:       "vm.unregister",
		Permission: "MODIFY_VM",
		LocalFirst: true,
		Local: func() error {
			return c.VM.Unregister(name)
		},
	})
}

// AttachDisk runs the add-disk operation for a local_lv disk: it
// creates the logical volume, activates it, attaches it to the domain
// XML, and records the config entry, then replays "addToVirtualMachine"
// on every peer so their config documents grow the same disk entry
// (the peers' LVs are created separately, out of band, by the LVM
// enable/extend flow that precedes this call — a peer only needs the
// config bookkeeping, since the volume itself is only ever attached on
// the VM's current node). Rollback removes the LV this node just
// created.
func (c *Coordinator) AttachDisk(vmName string, diskID, sizeMB int) error {
	disk := config.Disk{ID: diskID, Type: config.DiskTypeLocalLV, SizeMB: sizeMB}
	devicePath := lvm.DiskPath(c.LVM.VolumeGroup, vmName, diskID)

	return c.Run(Op{
		Name:       "disk.attach",
		Permission: "MODIFY_VM",
		LocalFirst: true,
		Local: func() error {
			ctx := context.Background()
			if err := c.LVM.Create(ctx, vmName, diskID, sizeMB); err != nil {
				return err
			}
			if err := c.LVM.Activate(ctx, vmName, diskID); err != nil {
				return err
			}
			return c.Device.AttachDisk(vmName, disk, devicePath)
		},
		RollbackLocal: func() error {
			return c.LVM.Remove(context.Background(), vmName, diskID)
		},
		RemoteAction: "addToVirtualMachine",
		RemoteArgs:   attachDiskArgs{VMName: vmName, Disk: disk, DevicePath: devicePath},
	})
}

// DetachDisk runs the remove-disk operation: detaches the device from
// the domain XML and config document, then the LV itself, then
// notifies peers of the config change.
func (c *Coordinator) DetachDisk(vmName string, diskID int) error {
	return c.Run(Op{
		Name:       "disk.detach",
		Permission: "MODIFY_VM",
		LocalFirst: true,
		Local: func() error {
			if err := c.Device.DetachDisk(vmName, diskID); err != nil {
				return err
			}
			return c.LVM.Remove(context.Background(), vmName, diskID)
		},
		RemoteAction: "removeFromVirtualMachine",
		RemoteArgs:   detachDiskArgs{VMName: vmName, DiskID: diskID},
	})
}

// EnableDRBD runs the cluster-wide DRBD-enable operation (§4.7
// supplement): it is a pure peer notification with no ordering
// preference over local state, so RemoteFirst (LocalFirst: false)
// matches the original implementation's "tell every node, including
// self" broadcast shape. There is nothing to roll back: enabling DRBD
// is idempotent per node and a partial fanout failure just leaves the
// cluster's DRBD secret out of sync, surfaced as ClusterInconsistency.
func (c *Coordinator) EnableDRBD(resourceCount int, secret string) error {
	return c.Run(Op{
		Name:       "drbd.enable",
		Permission: "MANAGE_DRBD",
		LocalFirst: false,
		Local: func() error {
			return drbd.Enable(c.ClusterStore, c.DRBD, resourceCount, secret, true)
		},
		RemoteAction: "drbdEnable",
		RemoteArgs:   drbdEnableArgs{ResourceCount: resourceCount, Secret: secret, Initiating: false},
	})
}

// AddNode runs the add-node operation: every existing peer records the
// new node in its cluster document. The new node itself is bootstrapped
// separately (out of this Coordinator's fanout, since it is not yet a
// member to lock); this call only propagates membership to the nodes
// that already are.
func (c *Coordinator) AddNode(node config.Node) error {
	return c.Run(Op{
		Name:       "cluster.addNode",
		Permission: "MANAGE_CLUSTER",
		LocalFirst: true,
		Local: func() error {
			return AddNode(c.ClusterStore, node)
		},
		RollbackLocal: func() error {
			return RemoveNode(c.ClusterStore, node.Name)
		},
		RemoteAction: "addNodeRemote",
		RemoteArgs:   addNodeArgs{Node: node},
	})
}

// RemoveNode runs the remove-node operation, the mirror image of AddNode.
func (c *Coordinator) RemoveNode(name string) error {
	return c.Run(Op{
		Name:       "cluster.removeNode",
		Permission: "MANAGE_CLUSTER",
		LocalFirst: true,
		Local: func() error {
			return RemoveNode(c.ClusterStore, name)
		},
		RemoteAction: "removeNodeConfiguration",
		RemoteArgs:   removeNodeArgs{Name: name},
	})
}
