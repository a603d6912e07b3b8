package cluster

import (
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"testing"

	"golang.org/x/crypto/ssh"
	"gotest.tools/v3/assert"

	"github.com/mcvirt/mcvirt/internal/dispatcher"
)

// newSSHTestServer stands up a real golang.org/x/crypto/ssh server on
// loopback, serving d over every session's stdin/stdout, so
// Coordinator's peer fanout can be exercised against a real transport
// without a live remote host — the same harness internal/transport's
// own tests use.
func newSSHTestServer(t *testing.T, d *dispatcher.Dispatcher) string {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	assert.NilError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	assert.NilError(t, err)

	config := &ssh.ServerConfig{NoClientAuth: true}
	config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go serveSSHConn(conn, config, d)
		}
	}()

	return listener.Addr().String()
}

func serveSSHConn(conn net.Conn, config *ssh.ServerConfig, d *dispatcher.Dispatcher) {
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go func() {
			for req := range requests {
				if req.Type == "exec" {
					req.Reply(true, nil)
					d.Serve(channel, channel)
					channel.Close()
				} else {
					req.Reply(false, nil)
				}
			}
		}()
	}
}
