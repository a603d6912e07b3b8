package main

import (
	"context"
	"encoding/json"

	"golang.org/x/crypto/ssh"

	"github.com/mcvirt/mcvirt/internal/cluster"
	"github.com/mcvirt/mcvirt/internal/config"
	"github.com/mcvirt/mcvirt/internal/dispatcher"
	"github.com/mcvirt/mcvirt/internal/network"
	"github.com/mcvirt/mcvirt/internal/nodelock"
	"github.com/mcvirt/mcvirt/internal/storage/drbd"
	"github.com/mcvirt/mcvirt/internal/wiring"
)

// decode unmarshals a handler's raw arguments into T, matching the
// Python branch table's per-command kwarg unpacking (§4.4) but with
// the shape enforced by the type system instead of dict lookups.
func decode[T any](data json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}

// registerActions builds the full remote action table against comps —
// the union named in §4.4, minus the two sentinels Dispatcher.Serve
// already handles itself.
func registerActions(d *dispatcher.Dispatcher, comps *wiring.Components) {
	registerClusterActions(d, comps)
	registerVMActions(d, comps)
	registerStorageActions(d, comps)
	registerNodeActions(d, comps)
	registerLockActions(d, comps)
}

// --- cluster-notification actions -----------------------------------

type addNodeArgs struct {
	Node config.Node `json:"node"`
}

type addHostKeyArgs struct {
	Hostname  string `json:"hostname"`
	PublicKey string `json:"public_key"` // authorized_keys format
}

type removeNodeArgs struct {
	Name string `json:"name"`
}

func registerClusterActions(d *dispatcher.Dispatcher, comps *wiring.Components) {
	d.Register("addNodeRemote", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[addNodeArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, cluster.AddNode(comps.ClusterStore, args.Node)
	})

	d.Register("addHostKey", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[addHostKeyArgs](raw)
		if err != nil {
			return nil, err
		}
		key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(args.PublicKey))
		if err != nil {
			return nil, err
		}
		return nil, cluster.AddHostKey(comps.KnownHostsPath, args.Hostname, key)
	})

	d.Register("removeNodeConfiguration", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[removeNodeArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, cluster.RemoveNode(comps.ClusterStore, args.Name)
	})
}

// --- VM actions -------------------------------------------------------

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

type setNodeArgs struct {
	Name string `json:"name"`
	Node string `json:"node"`
}

func registerVMActions(d *dispatcher.Dispatcher, comps *wiring.Components) {
	d.Register("create", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[createVMArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, comps.VM.Create(args.Name, args.CPUCores, args.MemoryMB, args.AvailableNodes)
	})

	d.Register("delete", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[deleteVMArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, comps.VM.Delete(args.Name, args.RemoveData)
	})

	d.Register("register", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[vmNameArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, comps.VM.Register(args.Name)
	})

	d.Register("unregister", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[vmNameArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, comps.VM.Unregister(args.Name)
	})

	d.Register("start", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[vmNameArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, comps.VM.Start(args.Name)
	})

	d.Register("stop", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[vmNameArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, comps.VM.Stop(args.Name)
	})

	d.Register("setNode", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[setNodeArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, comps.VM.SetNode(args.Name, args.Node)
	})

	d.Register("getState", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[vmNameArgs](raw)
		if err != nil {
			return nil, err
		}
		return comps.VM.GetState(args.Name)
	})

	d.Register("getInfo", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[vmNameArgs](raw)
		if err != nil {
			return nil, err
		}
		return comps.VM.GetInfo(args.Name)
	})

	d.Register("getAllVms", func(raw json.RawMessage) (interface{}, error) {
		return comps.VM.GetAllVms()
	})
}

// --- hard-drive / DRBD actions -----------------------------------------

type diskArgs struct {
	VMName string `json:"vm_name"`
	DiskID int    `json:"disk_id"`
}

type createDiskArgs struct {
	VMName string `json:"vm_name"`
	DiskID int    `json:"disk_id"`
	SizeMB int    `json:"size_mb"`
}

type resourceNameArgs struct {
	ResourceName string `json:"resource_name"`
}

type generateDrbdConfigArgs struct {
	ResourceName string             `json:"resource_name"`
	Config       drbd.ResourceConfig `json:"config"`
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

type setSyncStateArgs struct {
	ResourceName string `json:"resource_name"`
	State        string `json:"state"`
}

func registerStorageActions(d *dispatcher.Dispatcher, comps *wiring.Components) {
	ctx := context.Background()

	d.Register("createLogicalVolume", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[createDiskArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, comps.LVM.Create(ctx, args.VMName, args.DiskID, args.SizeMB)
	})

	d.Register("removeLogicalVolume", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[diskArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, comps.LVM.Remove(ctx, args.VMName, args.DiskID)
	})

	d.Register("activateLogicalVolume", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[diskArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, comps.LVM.Activate(ctx, args.VMName, args.DiskID)
	})

	d.Register("zeroLogicalVolume", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[diskArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, comps.LVM.Zero(ctx, args.VMName, args.DiskID)
	})

	d.Register("generateDrbdConfig", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[generateDrbdConfigArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, comps.DRBD.GenerateConfig(args.ResourceName, args.Config)
	})

	d.Register("removeDrbdConfig", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[resourceNameArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, comps.DRBD.RemoveConfig(args.ResourceName)
	})

	d.Register("initialiseMetaData", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[resourceNameArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, comps.DRBD.InitialiseMetaData(ctx, args.ResourceName)
	})

	d.Register("addToVirtualMachine", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[attachDiskArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, comps.Device.AttachDisk(args.VMName, args.Disk, args.DevicePath)
	})

	d.Register("removeFromVirtualMachine", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[detachDiskArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, comps.Device.DetachDisk(args.VMName, args.DiskID)
	})

	d.Register("drbdUp", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[resourceNameArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, comps.DRBD.Up(ctx, args.ResourceName)
	})

	d.Register("drbdDown", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[resourceNameArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, comps.DRBD.Down(ctx, args.ResourceName)
	})

	d.Register("drbdConnect", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[resourceNameArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, comps.DRBD.Connect(ctx, args.ResourceName)
	})

	d.Register("drbdDisconnect", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[resourceNameArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, comps.DRBD.Disconnect(ctx, args.ResourceName)
	})

	d.Register("drbdSetSecondary", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[resourceNameArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, comps.DRBD.SetSecondary(ctx, args.ResourceName)
	})

	d.Register("setSyncState", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[setSyncStateArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, drbd.SetSyncState(comps.VM.LookupDRBDResource, args.ResourceName, args.State)
	})
}

// --- node-level actions -------------------------------------------------

type networkNameArgs struct {
	Name string `json:"name"`
}

type drbdEnableArgs struct {
	ResourceCount int    `json:"resource_count"`
	Secret        string `json:"secret"`
	Initiating    bool   `json:"initiating"`
}

func registerNodeActions(d *dispatcher.Dispatcher, comps *wiring.Components) {
	d.Register("networkCreate", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[network.Config](raw)
		if err != nil {
			return nil, err
		}
		return nil, comps.Network.Create(args)
	})

	d.Register("networkDelete", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[networkNameArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, comps.Network.Delete(args.Name)
	})

	d.Register("networkCheckExists", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[networkNameArgs](raw)
		if err != nil {
			return nil, err
		}
		return comps.Network.CheckExists(args.Name)
	})

	d.Register("networkGetConfig", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[networkNameArgs](raw)
		if err != nil {
			return nil, err
		}
		return comps.Network.GetConfig(args.Name)
	})

	d.Register("drbdEnable", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode[drbdEnableArgs](raw)
		if err != nil {
			return nil, err
		}
		return nil, drbd.Enable(comps.ClusterStore, comps.DRBD, args.ResourceCount, args.Secret, args.Initiating)
	})

	d.Register("getUsedDrbdMinors", func(raw json.RawMessage) (interface{}, error) {
		return comps.VM.UsedDRBDMinors()
	})

	d.Register("getUsedDrbdPorts", func(raw json.RawMessage) (interface{}, error) {
		return comps.VM.UsedDRBDPorts()
	})

	d.Register("isoGetIsos", func(raw json.RawMessage) (interface{}, error) {
		return comps.Device.ListIsos()
	})
}

// --- lock actions ---------------------------------------------------------

func registerLockActions(d *dispatcher.Dispatcher, comps *wiring.Components) {
	d.Register("obtainLock", func(raw json.RawMessage) (interface{}, error) {
		return nil, comps.Lock.Acquire(nodelock.DefaultTimeout)
	})

	d.Register("releaseLock", func(raw json.RawMessage) (interface{}, error) {
		return nil, comps.Lock.Release()
	})
}
