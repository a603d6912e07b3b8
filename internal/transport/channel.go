// Package transport implements the Remote Channel: one persistent
// authenticated connection per peer carrying a request/response stream
// to that peer's remote worker process, per §4.3. The concurrency
// contract is strictly request/response, one in flight per channel —
// the caller blocks until a full response line is read.
package transport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/mcvirt/mcvirt/internal/mcerrors"
	"github.com/mcvirt/mcvirt/internal/wireproto"
)

// RemoteCommand is the path to the remote worker binary, launched once
// per incoming SSH session (Remote.REMOTE_MCVIRT_COMMAND in the
// original implementation).
const RemoteCommand = "/usr/lib/mcvirt/mcvirt-remote"

// ConnectTimeout bounds the initial TCP+SSH handshake, per §5.
const ConnectTimeout = 10 * time.Second

// Peer identifies the node a Channel talks to.
type Peer struct {
	Name    string
	Address string // host or host:port; default port 22 applied by Dial
}

// AuthConfig selects password or public-key authentication for one
// Dial call. Steady-state operation uses key-based auth exclusively;
// password auth exists only for the one-shot add-node handshake (§9
// Open Question, resolved).
type AuthConfig struct {
	Password       string
	PrivateKeyPath string
}

// Channel is one persistent connection to a peer's remote worker.
type Channel struct {
	peer Peer
	log  *logrus.Logger

	initialiseNode bool

	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	stderr  *strings.Builder

	mu   sync.Mutex
	dead bool
}

// Dial opens a new authenticated SSH connection to peer, launches the
// remote worker, and (unless initialiseNode is false, used by the
// save-hostkey handshake) performs the checkStatus handshake described
// in §4.3.
func Dial(peer Peer, auth AuthConfig, hostKeyCallback ssh.HostKeyCallback, initialiseNode bool, log *logrus.Logger) (*Channel, error) {
	config := &ssh.ClientConfig{
		User:            "mcvirt",
		Timeout:         ConnectTimeout,
		HostKeyCallback: hostKeyCallback,
	}

	if auth.Password != "" {
		config.Auth = []ssh.AuthMethod{ssh.Password(auth.Password)}
	} else {
		signer, err := loadPrivateKey(auth.PrivateKeyPath)
		if err != nil {
			return nil, mcerrors.NewNodeAuthFailed(peer.Name, err)
		}
		config.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	}

	address := peer.Address
	if !strings.Contains(address, ":") {
		address = net.JoinHostPort(address, "22")
	}

	client, err := ssh.Dial("tcp", address, config)
	if err != nil {
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, mcerrors.NewNodeAuthFailed(peer.Name, err)
		}
		return nil, mcerrors.NewNodeUnreachable(peer.Name, err)
	}

	ch := &Channel{
		peer:           peer,
		log:            log,
		initialiseNode: initialiseNode,
		client:         client,
		stderr:         &strings.Builder{},
	}

	if !initialiseNode {
		return ch, nil
	}

	if err := ch.startWorker(); err != nil {
		client.Close()
		return nil, err
	}

	reply, err := ch.checkStatus()
	if err != nil {
		ch.Close()
		return nil, err
	}
	if !wireproto.IsReady(reply) {
		ch.Close()
		return nil, mcerrors.NewRemoteLocked(peer.Name)
	}
	return ch, nil
}

func (c *Channel) startWorker() error {
	session, err := c.client.NewSession()
	if err != nil {
		return mcerrors.NewNodeUnreachable(c.peer.Name, err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return err
	}
	session.Stderr(writerFunc(func(p []byte) (int, error) {
		c.stderr.Write(p)
		return len(p), nil
	}))

	if err := session.Start(RemoteCommand); err != nil {
		return mcerrors.NewNodeUnreachable(c.peer.Name, err)
	}

	c.session = session
	c.stdin = stdin
	c.stdout = bufio.NewReader(stdout)
	return nil
}

func (c *Channel) checkStatus() ([]string, error) {
	raw, err := c.RunRemoteCommand(wireproto.CheckStatusAction, struct{}{})
	if err != nil {
		return nil, err
	}
	var reply []string
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, mcerrors.NewRemoteCommandFailed(wireproto.CheckStatusAction, -1, c.stderr.String())
	}
	return reply, nil
}

// RunRemoteCommand sends one request and blocks for its response line,
// per the one-in-flight request/response contract.
func (c *Channel) RunRemoteCommand(action string, arguments interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dead {
		return nil, mcerrors.NewNodeUnreachable(c.peer.Name, errors.New("channel closed"))
	}

	data, err := wireproto.EncodeRequest(action, arguments)
	if err != nil {
		return nil, err
	}

	if _, err := fmt.Fprintf(c.stdin, "%s\n", data); err != nil {
		c.markDead()
		return nil, mcerrors.NewNodeUnreachable(c.peer.Name, err)
	}

	line, err := c.stdout.ReadString('\n')
	if err != nil {
		exitErr := waitExitStatus(c.session)
		c.markDead()
		return nil, mcerrors.NewRemoteCommandFailed(action, exitErr, c.stderr.String())
	}

	var resp wireproto.Response
	if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &resp); err != nil {
		exitErr := waitExitStatus(c.session)
		c.markDead()
		return nil, mcerrors.NewRemoteCommandFailed(action, exitErr, c.stderr.String())
	}

	if !resp.OK {
		wireErr, decodeErr := mcerrors.UnmarshalFromWire(resp.Error)
		if decodeErr != nil {
			return nil, decodeErr
		}
		return nil, wireErr
	}
	return resp.Result, nil
}

// Close sends the close sentinel (if the worker was initialised) and
// tears down the SSH session and connection. It is always safe to call
// more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dead {
		return nil
	}

	if c.initialiseNode && c.stdin != nil {
		data, _ := wireproto.EncodeRequest(wireproto.CloseAction, struct{}{})
		fmt.Fprintf(c.stdin, "%s\n", data)
	}

	c.dead = true
	if c.session != nil {
		c.session.Close()
	}
	if c.client != nil {
		c.client.Close()
	}
	return nil
}

// Alive reports whether this channel is still usable.
func (c *Channel) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.dead
}

func (c *Channel) markDead() {
	c.dead = true
	if c.session != nil {
		c.session.Close()
	}
	if c.client != nil {
		c.client.Close()
	}
}

func waitExitStatus(session *ssh.Session) int {
	if session == nil {
		return -1
	}
	if err := session.Wait(); err != nil {
		if exitErr, ok := err.(*ssh.ExitError); ok {
			return exitErr.ExitStatus()
		}
		return -1
	}
	return 0
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
