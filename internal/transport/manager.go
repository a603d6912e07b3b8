package transport

import (
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"resenje.org/singleflight"

	"github.com/mcvirt/mcvirt/internal/mcerrors"
)

// Manager caches one Channel per peer and de-duplicates concurrent
// connection attempts to the same peer — the Coordinator's own fanout
// and the DRBD socket listener's sync-state notifications can both
// want a channel to the same peer at once.
type Manager struct {
	auth            AuthConfig
	hostKeyCallback ssh.HostKeyCallback
	log             *logrus.Logger

	group singleflight.Group[string, *Channel]

	mu       sync.Mutex
	channels map[string]*Channel
}

// NewManager constructs a Manager. hostKeyCallback is normally
// DefaultHostKeyCallback's result; auth carries the steady-state
// key-based credentials.
func NewManager(auth AuthConfig, hostKeyCallback ssh.HostKeyCallback, log *logrus.Logger) *Manager {
	return &Manager{
		auth:            auth,
		hostKeyCallback: hostKeyCallback,
		log:             log,
		channels:        map[string]*Channel{},
	}
}

// Get returns the cached channel to peer, dialing a fresh one if none
// exists or the cached one has died. Concurrent callers for the same
// peer share a single dial via singleflight.
func (m *Manager) Get(peer Peer) (*Channel, error) {
	m.mu.Lock()
	if ch, ok := m.channels[peer.Name]; ok && ch.Alive() {
		m.mu.Unlock()
		return ch, nil
	}
	m.mu.Unlock()

	ch, err, _ := m.group.Do(peer.Name, func() (*Channel, error) {
		m.mu.Lock()
		if cached, ok := m.channels[peer.Name]; ok && cached.Alive() {
			m.mu.Unlock()
			return cached, nil
		}
		m.mu.Unlock()

		dialed, err := Dial(peer, m.auth, m.hostKeyCallback, true, m.log)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		m.channels[peer.Name] = dialed
		m.mu.Unlock()
		return dialed, nil
	})
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, mcerrors.NewNodeUnreachable(peer.Name, nil)
	}
	return ch, nil
}

// Forget closes and evicts the cached channel for peer, if any.
func (m *Manager) Forget(peerName string) {
	m.mu.Lock()
	ch, ok := m.channels[peerName]
	delete(m.channels, peerName)
	m.mu.Unlock()

	if ok {
		ch.Close()
	}
}

// CloseAll tears down every cached channel, in the reverse order they
// were dialed is not tracked here — callers that need deterministic
// teardown order (the Coordinator's unlock fanout) operate on
// individual channels via Get/Forget instead.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	channels := make([]*Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		channels = append(channels, ch)
	}
	m.channels = map[string]*Channel{}
	m.mu.Unlock()

	for _, ch := range channels {
		ch.Close()
	}
}
