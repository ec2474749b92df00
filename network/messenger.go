package network

import (
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/duskmere/paxokv/config"
	"github.com/duskmere/paxokv/netauth"
	"github.com/duskmere/paxokv/paxosproto"
)

// Handler is invoked for each message the Messenger receives, on its own
// goroutine so a slow handler never blocks delivery of the next message.
type Handler func(msg paxosproto.Message)

// Messenger is the fixed-roster transport every replica and client uses.
// It knows the address of every server and client pid up front (the
// roster never changes membership at runtime), dials peers lazily on
// first send, accepts inbound connections from any roster member, and can
// simulate link failure and artificial delay for testing partition and
// timeout behavior.
type Messenger struct {
	self   paxosproto.Sender
	roster config.Roster
	delay  time.Duration
	tls    *tls.Config
	secret string
	handle Handler

	mu          sync.Mutex
	serverLinks map[int]Stream
	clientLinks map[int]Stream
	failedSrv   map[int]bool
	failedCli   map[int]bool

	listener net.Listener
	stopped  bool
	stopCh   chan struct{}
}

// NewMessenger constructs a Messenger for self, using cfg's roster, TLS
// and cluster-secret settings. Call Listen to begin accepting connections
// before any peer can reach this node.
func NewMessenger(self paxosproto.Sender, cfg *config.Config, handle Handler) *Messenger {
	var tlsCfg *tls.Config
	if cfg.TLS != nil {
		if c, err := config.LoadTLSConfig(cfg.TLS); err == nil {
			tlsCfg = c
		} else {
			log.Printf("[network] tls disabled: %v", err)
		}
	}
	return &Messenger{
		self:        self,
		roster:      cfg.Roster,
		delay:       cfg.SendDelay,
		tls:         tlsCfg,
		secret:      cfg.ClusterSecret,
		handle:      handle,
		serverLinks: make(map[int]Stream),
		clientLinks: make(map[int]Stream),
		failedSrv:   make(map[int]bool),
		failedCli:   make(map[int]bool),
		stopCh:      make(chan struct{}),
	}
}

func (m *Messenger) listenAddr() string {
	if m.self.Role == paxosproto.RoleServer {
		return m.roster.ServerAddrs[m.self.Pid]
	}
	return m.roster.ClientAddrs[m.self.Pid]
}

// Listen starts accepting inbound connections from other roster members.
// It may be called again after Disconnect or Quit to resume accepting,
// simulating a crashed process coming back up.
func (m *Messenger) Listen() error {
	addr := m.listenAddr()
	var ln net.Listener
	var err error
	if m.tls != nil {
		ln, err = tls.Listen("tcp", addr, m.tls)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("network: listen %s: %w", addr, err)
	}

	m.mu.Lock()
	m.listener = ln
	m.stopCh = make(chan struct{})
	m.stopped = false
	stopCh := m.stopCh
	m.mu.Unlock()

	go m.acceptLoop(ln, stopCh)
	return nil
}

func (m *Messenger) acceptLoop(ln net.Listener, stopCh chan struct{}) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stopCh:
				return
			default:
				log.Printf("[network] accept error: %v", err)
				time.Sleep(50 * time.Millisecond)
				continue
			}
		}
		stream := newTCPStream(conn)
		go m.acceptHandshake(stream)
	}
}

// acceptHandshake gates a freshly accepted connection behind a handshake
// check when a cluster secret is configured: the first frame must be a
// HANDSHAKE carrying a token sealed with that secret, or the connection is
// dropped before any real message is ever dispatched. With no secret
// configured, any peer is accepted as before.
func (m *Messenger) acceptHandshake(stream Stream) {
	if m.secret == "" {
		m.readLoop(stream)
		return
	}
	msg, err := stream.Receive()
	if err != nil {
		stream.Close()
		return
	}
	if msg.Kind != paxosproto.KindHandshake || !m.VerifyPeerToken(msg.Token) {
		log.Printf("[network] rejecting connection from pid %d: failed cluster handshake", msg.Sender.Pid)
		stream.Close()
		return
	}
	m.readLoop(stream)
}

// readLoop dispatches every message received on stream to the handler on
// its own goroutine, mirroring the one-goroutine-per-message model so a
// handler that blocks (e.g. waiting on a quorum mutex) never stalls
// delivery of unrelated messages from the same peer.
func (m *Messenger) readLoop(stream Stream) {
	for {
		msg, err := stream.Receive()
		if err != nil {
			return
		}
		if msg.Kind == paxosproto.KindQuit {
			stream.Close()
			return
		}
		go m.dispatch(msg)
	}
}

func (m *Messenger) dispatch(msg paxosproto.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[network] handler panic for %s from pid %d: %v", msg.Kind, msg.Sender.Pid, r)
		}
	}()
	m.handle(msg)
}

// streamTo returns (and lazily creates) the outbound stream to the given
// peer, or an error if the link has been administratively failed.
func (m *Messenger) streamTo(pid int, role paxosproto.Role) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	links := m.serverLinks
	failed := m.failedSrv
	addrs := m.roster.ServerAddrs
	if role == paxosproto.RoleClient {
		links = m.clientLinks
		failed = m.failedCli
		addrs = m.roster.ClientAddrs
	}
	if failed[pid] {
		return nil, fmt.Errorf("network: link to %s pid %d is administratively down", role, pid)
	}
	if s, ok := links[pid]; ok {
		return s, nil
	}
	s, err := dial(addrs[pid], m.tls)
	if err != nil {
		return nil, err
	}
	if m.secret != "" {
		if err := m.sendHandshake(s); err != nil {
			s.Close()
			return nil, err
		}
	}
	links[pid] = s
	return s, nil
}

// sendHandshake proves membership in the cluster to a newly dialed peer by
// sealing a token with the configured cluster secret and sending it as the
// first frame on the stream, ahead of any real traffic.
func (m *Messenger) sendHandshake(s Stream) error {
	token, err := netauth.NewToken(m.secret)
	if err != nil {
		return fmt.Errorf("network: handshake token: %w", err)
	}
	hs := paxosproto.Message{Kind: paxosproto.KindHandshake, Sender: m.self, Token: token}
	if err := s.Send(hs); err != nil {
		return fmt.Errorf("network: send handshake: %w", err)
	}
	return nil
}

// Send delivers msg to the given peer after the configured artificial
// delay, unless the link has been failed with FailLink. The cluster
// handshake (when a secret is configured) has already run as part of
// dialing the link in streamTo, before the first call to Send ever reaches
// the wire.
func (m *Messenger) Send(pid int, role paxosproto.Role, msg paxosproto.Message) error {
	stream, err := m.streamTo(pid, role)
	if err != nil {
		return err
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if err := stream.Send(msg); err != nil {
		m.forget(pid, role)
		return err
	}
	return nil
}

func (m *Messenger) forget(pid int, role paxosproto.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if role == paxosproto.RoleServer {
		delete(m.serverLinks, pid)
	} else {
		delete(m.clientLinks, pid)
	}
}

// Broadcast sends msg to every server pid except self (when self is a
// server), best-effort: a failed peer link is logged and skipped. Sends
// fan out concurrently so the artificial per-message delay is paid once,
// not once per recipient.
func (m *Messenger) Broadcast(msg paxosproto.Message) {
	var wg sync.WaitGroup
	for pid := 0; pid < m.roster.NumServers(); pid++ {
		if m.self.Role == paxosproto.RoleServer && pid == m.self.Pid {
			continue
		}
		pid := pid
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Send(pid, paxosproto.RoleServer, msg); err != nil {
				log.Printf("[network] broadcast to server %d: %v", pid, err)
			}
		}()
	}
	wg.Wait()
}

// BroadcastAll sends msg to every server (except self) and every client,
// used for the decide phase where both peer replicas and the requesting
// client's leader-hint state need the same message.
func (m *Messenger) BroadcastAll(msg paxosproto.Message) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.Broadcast(msg)
	}()
	for pid := 0; pid < m.roster.NumClients(); pid++ {
		pid := pid
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Send(pid, paxosproto.RoleClient, msg); err != nil {
				log.Printf("[network] broadcast to client %d: %v", pid, err)
			}
		}()
	}
	wg.Wait()
}

// ConnectAll eagerly dials every peer this node is expected to talk to:
// servers dial every other server and every client; clients dial every
// server (clients never dial each other). Unreachable peers are logged
// and skipped — Send will retry the dial lazily later.
func (m *Messenger) ConnectAll() {
	for pid := 0; pid < m.roster.NumServers(); pid++ {
		if m.self.Role == paxosproto.RoleServer && pid == m.self.Pid {
			continue
		}
		if _, err := m.streamTo(pid, paxosproto.RoleServer); err != nil {
			log.Printf("[network] connect to server %d: %v", pid, err)
		}
	}
	if m.self.Role == paxosproto.RoleServer {
		for pid := 0; pid < m.roster.NumClients(); pid++ {
			if _, err := m.streamTo(pid, paxosproto.RoleClient); err != nil {
				log.Printf("[network] connect to client %d: %v", pid, err)
			}
		}
	}
}

// FailLink administratively severs this node's outbound link to the given
// peer; existing handler goroutines for already-received messages are
// unaffected, only future sends are blocked.
func (m *Messenger) FailLink(pid int, role paxosproto.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if role == paxosproto.RoleServer {
		m.failedSrv[pid] = true
		delete(m.serverLinks, pid)
	} else {
		m.failedCli[pid] = true
		delete(m.clientLinks, pid)
	}
}

// FixLink reverses FailLink, allowing the link to be redialed on next Send.
func (m *Messenger) FixLink(pid int, role paxosproto.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if role == paxosproto.RoleServer {
		delete(m.failedSrv, pid)
	} else {
		delete(m.failedCli, pid)
	}
}

// Quit sends a QUIT message to every server and client peer and then
// disconnects, used for an orderly shutdown.
func (m *Messenger) Quit() {
	quit := paxosproto.Message{Kind: paxosproto.KindQuit, Sender: m.self}
	for pid := 0; pid < m.roster.NumServers(); pid++ {
		_ = m.Send(pid, paxosproto.RoleServer, quit)
	}
	for pid := 0; pid < m.roster.NumClients(); pid++ {
		_ = m.Send(pid, paxosproto.RoleClient, quit)
	}
	m.Disconnect()
}

// Disconnect stops accepting new connections and drops every outbound
// link without notifying peers, simulating an abrupt process failure
// (the REPL's failProcess command). Listen can be called again afterward
// to simulate the process coming back up (fixProcess).
func (m *Messenger) Disconnect() {
	m.mu.Lock()
	if !m.stopped {
		m.stopped = true
		close(m.stopCh)
	}
	ln := m.listener
	m.listener = nil
	for pid, s := range m.serverLinks {
		s.Close()
		delete(m.serverLinks, pid)
	}
	for pid, s := range m.clientLinks {
		s.Close()
		delete(m.clientLinks, pid)
	}
	m.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
}

// VerifyPeerToken reports whether token proves membership in this node's
// cluster, used by acceptHandshake to gate inbound connections when a
// secret is configured; it passes any token when none is.
func (m *Messenger) VerifyPeerToken(token []byte) bool {
	if m.secret == "" {
		return true
	}
	return netauth.VerifyToken(m.secret, token)
}
