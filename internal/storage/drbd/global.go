package drbd

import (
	"context"
	"crypto/rand"

	"github.com/pkg/errors"

	"github.com/mcvirt/mcvirt/internal/config"
	"github.com/mcvirt/mcvirt/internal/mcerrors"
)

const secretAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
const secretLength = 16

// GenerateSecret returns a fresh 16-character alphanumeric shared
// secret, the Go equivalent of node/drbd.py's generateSecret (which
// used Python's non-cryptographic random module; crypto/rand is used
// here since Go's math/rand requires an explicit, easy-to-forget seed
// for unpredictability and there is no reason to prefer the weaker
// generator).
func GenerateSecret() (string, error) {
	buf := make([]byte, secretLength)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "generating drbd secret")
	}
	out := make([]byte, secretLength)
	for i, b := range buf {
		out[i] = secretAlphabet[int(b)%len(secretAlphabet)]
	}
	return string(out), nil
}

// GlobalStore is the slice of config.Store[*config.ClusterDocument]
// Enable needs: reading and atomically updating the cluster-wide DRBD
// config block.
type GlobalStore interface {
	Read() (*config.ClusterDocument, error)
	Update(fn func(*config.ClusterDocument) error, auditMessage string) error
}

// Enable brings up the local node's DRBD config: writes secret into
// the cluster config, renders global_common.conf, and (if at least one
// resource already exists) runs `drbdadm adjust all`. initiating is
// true only on the node the user ran `drbd enable` against directly;
// peers receiving the fanned-out node-drbd-enable action call Enable
// with initiating=false so they never regenerate their own secret.
//
// Re-enabling an already-enabled node fails with DRBDAlreadyEnabled,
// except on the peer-initialisation branch (initiating=false), which
// must be able to re-apply the same secret idempotently.
func Enable(store GlobalStore, driver *Driver, resourceCount int, secret string, initiating bool) error {
	if !driver.isInstalled() {
		return mcerrors.NewDRBDNotInstalled()
	}

	doc, err := store.Read()
	if err != nil {
		return err
	}
	if doc.DRBD.Enabled && initiating {
		return mcerrors.NewDRBDAlreadyEnabled()
	}

	if secret == "" {
		secret, err = GenerateSecret()
		if err != nil {
			return err
		}
	}

	if err := store.Update(func(d *config.ClusterDocument) error {
		d.DRBD.Enabled = true
		d.DRBD.Secret = secret
		return nil
	}, "Enabled DRBD"); err != nil {
		return err
	}

	doc, err = store.Read()
	if err != nil {
		return err
	}
	content, err := RenderGlobalConfig(doc.DRBD)
	if err != nil {
		return err
	}
	if err := writeGlobalConfig(driver.ConfigDir, content); err != nil {
		return err
	}

	if resourceCount > 0 {
		if err := driver.Adjust(context.Background(), "all"); err != nil {
			return err
		}
	}
	return nil
}
