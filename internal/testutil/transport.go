// Package testutil provides in-memory implementations of the replica and
// client Transport interfaces for use in tests across the module. Never
// import this in production code.
package testutil

import (
	"fmt"
	"sync"

	"github.com/duskmere/paxokv/paxosproto"
)

// Network is a shared in-memory switchboard for a fixed set of server and
// client pids. Each Link obtained via ServerLink/ClientLink delivers messages
// synchronously to the named peer's handler, skipping real sockets and the
// artificial SendDelay entirely so Paxos and retry logic can be exercised
// deterministically.
type Network struct {
	mu        sync.Mutex
	servers   map[int]paxosproto.Role // never populated; handlers live in serverFns/clientFns
	serverFns map[int]func(paxosproto.Message)
	clientFns map[int]func(paxosproto.Message)
	downSrv   map[int]bool // globally partitioned server pids
	downCli   map[int]bool
}

// NewNetwork constructs an empty switchboard.
func NewNetwork() *Network {
	return &Network{
		serverFns: make(map[int]func(paxosproto.Message)),
		clientFns: make(map[int]func(paxosproto.Message)),
		downSrv:   make(map[int]bool),
		downCli:   make(map[int]bool),
	}
}

// RegisterServer installs the handler a server pid will receive messages
// through. Replicas call HandleMessage from this closure.
func (n *Network) RegisterServer(pid int, handle func(paxosproto.Message)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.serverFns[pid] = handle
}

// RegisterClient installs the handler a client pid will receive messages
// through.
func (n *Network) RegisterClient(pid int, handle func(paxosproto.Message)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.clientFns[pid] = handle
}

// Partition marks pid (of the given role) globally unreachable: every Send
// or Broadcast targeting it fails or is silently dropped, modeling a
// network partition rather than one-sided FailLink.
func (n *Network) Partition(pid int, role paxosproto.Role) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if role == paxosproto.RoleServer {
		n.downSrv[pid] = true
	} else {
		n.downCli[pid] = true
	}
}

// Heal reverses Partition.
func (n *Network) Heal(pid int, role paxosproto.Role) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if role == paxosproto.RoleServer {
		delete(n.downSrv, pid)
	} else {
		delete(n.downCli, pid)
	}
}

func (n *Network) deliver(pid int, role paxosproto.Role, msg paxosproto.Message) error {
	n.mu.Lock()
	if role == paxosproto.RoleServer && n.downSrv[pid] {
		n.mu.Unlock()
		return fmt.Errorf("testutil: server %d is partitioned", pid)
	}
	if role == paxosproto.RoleClient && n.downCli[pid] {
		n.mu.Unlock()
		return fmt.Errorf("testutil: client %d is partitioned", pid)
	}
	var handle func(paxosproto.Message)
	if role == paxosproto.RoleServer {
		handle = n.serverFns[pid]
	} else {
		handle = n.clientFns[pid]
	}
	n.mu.Unlock()
	if handle == nil {
		return fmt.Errorf("testutil: no handler registered for %s pid %d", role, pid)
	}
	handle(msg)
	return nil
}

func (n *Network) numServers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.serverFns)
}

func (n *Network) numClients() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.clientFns)
}

// Link is a per-node Transport bound to one pid on a shared Network. It
// satisfies both replica.Transport and client.Transport.
type Link struct {
	net  *Network
	self paxosproto.Sender
}

// ServerLink returns the Transport a replica with the given pid should use.
func (n *Network) ServerLink(pid int) *Link {
	return &Link{net: n, self: paxosproto.Sender{Pid: pid, Role: paxosproto.RoleServer}}
}

// ClientLink returns the Transport a client with the given pid should use.
func (n *Network) ClientLink(pid int) *Link {
	return &Link{net: n, self: paxosproto.Sender{Pid: pid, Role: paxosproto.RoleClient}}
}

// Send delivers msg to the given peer, synchronously invoking its
// registered handler on the caller's own goroutine.
func (l *Link) Send(pid int, role paxosproto.Role, msg paxosproto.Message) error {
	if msg.Sender == (paxosproto.Sender{}) {
		msg.Sender = l.self
	}
	return l.net.deliver(pid, role, msg)
}

// Broadcast sends msg to every server pid except self when self is a
// server, best-effort like the real Messenger.
func (l *Link) Broadcast(msg paxosproto.Message) {
	for pid := 0; pid < l.net.numServers(); pid++ {
		if l.self.Role == paxosproto.RoleServer && pid == l.self.Pid {
			continue
		}
		_ = l.Send(pid, paxosproto.RoleServer, msg)
	}
}

// BroadcastAll sends msg to every server (per Broadcast) and every client.
func (l *Link) BroadcastAll(msg paxosproto.Message) {
	l.Broadcast(msg)
	for pid := 0; pid < l.net.numClients(); pid++ {
		_ = l.Send(pid, paxosproto.RoleClient, msg)
	}
}
