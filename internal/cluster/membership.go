package cluster

import (
	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"

	"github.com/mcvirt/mcvirt/internal/config"
	"github.com/mcvirt/mcvirt/internal/transport"
)

// AddNode records a new peer in the cluster document — the local
// effect behind the add-node handshake's cluster-notification fanout
// (addNodeRemote, §4.4), run on every existing node once the new
// node's host key has already been captured and saved.
func AddNode(store *config.Store[*config.ClusterDocument], node config.Node) error {
	return store.Update(func(d *config.ClusterDocument) error {
		if _, ok := d.Nodes[node.Name]; ok {
			return errors.Errorf("node already present: %s", node.Name)
		}
		d.Nodes[node.Name] = node
		return nil
	}, "cluster.addNode: "+node.Name)
}

// RemoveNode deletes a peer from the cluster document, backing the
// removeNodeConfiguration remote action.
func RemoveNode(store *config.Store[*config.ClusterDocument], name string) error {
	return store.Update(func(d *config.ClusterDocument) error {
		if _, ok := d.Nodes[name]; !ok {
			return errors.Errorf("node not present: %s", name)
		}
		delete(d.Nodes, name)
		return nil
	}, "cluster.removeNode: "+name)
}

// AddHostKey persists a peer's SSH host key into the known_hosts file
// at path, backing the addHostKey remote action — the one-shot
// save_hostkey capture (transport.SaveHostkeyCallback) already
// accepted the key during the handshake; this records it for every
// future connection's transport.DefaultHostKeyCallback check.
func AddHostKey(path, hostname string, key ssh.PublicKey) error {
	return transport.AppendKnownHost(path, hostname, key)
}
