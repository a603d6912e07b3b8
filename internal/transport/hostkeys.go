package transport

import (
	"net"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultHostKeyCallback loads path (the known-hosts file) and returns
// a callback that only accepts keys already present in it — the
// default host-key policy for steady-state channels.
func DefaultHostKeyCallback(path string) (ssh.HostKeyCallback, error) {
	return knownhosts.New(path)
}

// SaveHostkeyCallback returns a host-key callback that accepts any key
// on first contact and records it in captured, used only by the
// one-shot add-node handshake (§4.3): "a one-shot save_hostkey mode
// auto-accepts and persists the host key." The caller passes the
// captured key to AppendKnownHost once the handshake completes.
func SaveHostkeyCallback(captured *ssh.PublicKey) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		*captured = key
		return nil
	}
}

// AppendKnownHost persists key for hostname into the known-hosts file
// at path, creating it if necessary. Called after a successful
// save-hostkey handshake.
func AppendKnownHost(path, hostname string, key ssh.PublicKey) error {
	line := knownhosts.Line([]string{hostname}, key)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.WriteString(line + "\n")
	return err
}
