// Package client implements the request/response side of the protocol: a
// client sends an Operation to its currently-hinted leader, waits for a
// matching response, and resends with a random new leader hint if the
// deadline passes before one arrives.
package client

import (
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/duskmere/paxokv/chain"
	"github.com/duskmere/paxokv/config"
	"github.com/duskmere/paxokv/paxosproto"
)

// Transport is the outbound messaging surface a Client needs. The
// production implementation is *network.Messenger; tests substitute an
// in-memory fake so retry/dedup logic can run with a short WaitTime
// instead of a real network round trip.
type Transport interface {
	Send(pid int, role paxosproto.Role, msg paxosproto.Message) error
}

// Client tracks in-flight requests and the current best guess at which
// server is the Paxos leader.
type Client struct {
	pid      int
	numSrv   int
	waitTime time.Duration
	msn      Transport

	mu       sync.Mutex
	leaderID int
	inflight map[string]chan string // (op,key) -> channel the waiter blocks on
}

// New constructs a Client for pid, starting with a hint that server 0 is
// the leader (every node starts there until a Decide message says
// otherwise).
func New(pid int, cfg *config.Config, msn Transport) *Client {
	return &Client{
		pid:      pid,
		numSrv:   cfg.Roster.NumServers(),
		waitTime: cfg.WaitTime,
		msn:      msn,
		leaderID: 0,
		inflight: make(map[string]chan string),
	}
}

func inflightKey(op chain.Operation) string {
	return string(op.Op) + ":" + op.Key
}

// HandleMessage is the transport-layer entry point for messages addressed
// to this client: CLIENT_RESPONSE fulfills a waiting Request call, DECIDE
// updates the leader hint, TEST is logged.
func (c *Client) HandleMessage(msg paxosproto.Message) {
	switch msg.Kind {
	case paxosproto.KindClientResponse:
		c.fulfill(msg)
	case paxosproto.KindDecide:
		c.mu.Lock()
		c.leaderID = msg.Ballot.Pid
		c.mu.Unlock()
	case paxosproto.KindTest:
		log.Printf("[client %d] test message: %s", c.pid, msg.Value)
	}
}

func (c *Client) fulfill(msg paxosproto.Message) {
	key := inflightKey(msg.Op)
	c.mu.Lock()
	ch, ok := c.inflight[key]
	if ok {
		delete(c.inflight, key)
	}
	c.mu.Unlock()
	if ok {
		ch <- msg.Value
	}
}

// Request sends op to the hinted leader and blocks until a matching
// response arrives, resending with a freshly randomized leader hint every
// WaitTime if none has. A second call for the same (Op, Key) while one is
// already outstanding attaches to the original in-flight wait instead of
// issuing a duplicate request.
func (c *Client) Request(op chain.Operation) string {
	key := inflightKey(op)

	c.mu.Lock()
	ch, already := c.inflight[key]
	if !already {
		ch = make(chan string, 1)
		c.inflight[key] = ch
	}
	leader := c.leaderID
	c.mu.Unlock()

	// fulfill sends the response once; every waiter puts it back after
	// reading it so the other waiters on the same channel receive it too.
	if already {
		value := <-ch
		ch <- value
		return value
	}

	c.send(op, leader, false)
	log.Printf("[client %d] sent request to server %d, waiting %s", c.pid, leader, c.waitTime)

	timer := time.NewTimer(c.waitTime)
	defer timer.Stop()
	for {
		select {
		case value := <-ch:
			ch <- value
			return value
		case <-timer.C:
			newLeader := rand.Intn(c.numSrv)
			c.mu.Lock()
			c.leaderID = newLeader
			c.mu.Unlock()
			log.Printf("[client %d] request timed out, resending to server %d with leader hint", c.pid, newLeader)
			c.send(op, newLeader, true)
			timer.Reset(c.waitTime)
		}
	}
}

func (c *Client) send(op chain.Operation, pid int, forceLeader bool) {
	msg := paxosproto.Message{
		Kind:        paxosproto.KindClientRequest,
		Sender:      paxosproto.Sender{Pid: c.pid, Role: paxosproto.RoleClient},
		Op:          op,
		ForceLeader: forceLeader,
	}
	if err := c.msn.Send(pid, paxosproto.RoleServer, msg); err != nil {
		log.Printf("[client %d] send request to %d: %v", c.pid, pid, err)
	}
}

// LeaderID returns the client's current best guess at the leader's pid.
func (c *Client) LeaderID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leaderID
}

func (c *Client) String() string {
	return fmt.Sprintf("client[pid=%d leader=%d]", c.pid, c.LeaderID())
}
