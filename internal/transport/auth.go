package transport

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
)

// loadPrivateKey parses an unencrypted private key file for
// public-key authentication — the steady-state auth method for
// peer-to-peer channels.
func loadPrivateKey(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading private key %s", path)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing private key %s", path)
	}
	return signer, nil
}
