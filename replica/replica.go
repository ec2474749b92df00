// Package replica implements the Multi-Paxos acceptor/proposer/learner
// logic that drives one replica's blockchain and dictionary to agreement
// with its peers.
package replica

import (
	"fmt"
	"log"
	"sync"

	"github.com/duskmere/paxokv/chain"
	"github.com/duskmere/paxokv/config"
	"github.com/duskmere/paxokv/dict"
	"github.com/duskmere/paxokv/events"
	"github.com/duskmere/paxokv/paxosproto"
)

// noLeader is the sentinel leaderID before any ballot has been seen.
const noLeader = -1

// Transport is the outbound messaging surface a Replica needs. The
// production implementation is *network.Messenger; tests substitute an
// in-memory fake to exercise Paxos logic without real sockets or delay.
type Transport interface {
	Send(pid int, role paxosproto.Role, msg paxosproto.Message) error
	Broadcast(msg paxosproto.Message)
	BroadcastAll(msg paxosproto.Message)
}

// Replica is one server-role node: it owns a Blockchain (the durable
// log), a Dictionary (the read projection over it), and the Paxos
// acceptor/proposer state needed to extend the log one slot at a time.
type Replica struct {
	pid     int
	quorum  int
	numSrv  int
	chain   *chain.Blockchain
	dict    *dict.Dictionary
	emitter *events.Emitter
	msn     Transport

	mu sync.Mutex // guards everything below

	// Acceptor state.
	ballot    paxosproto.Ballot
	acceptNum paxosproto.Ballot
	acceptVal *chain.Block
	leaderID  int

	// Proposer state.
	value              *chain.Block
	promiseResponses   int
	promiseRoundDone   bool
	acceptResponses    int
	acceptRoundDone    bool
	bestAcceptedBallot paxosproto.Ballot
	bestAcceptedSeen   bool
	queue              []paxosproto.Message // pending CLIENT_REQUEST messages
}

// New constructs a Replica for pid, backed by bc and d, communicating
// through msn and announcing decisions on emitter.
func New(pid int, cfg *config.Config, bc *chain.Blockchain, d *dict.Dictionary, emitter *events.Emitter, msn Transport) *Replica {
	r := &Replica{
		pid:      pid,
		quorum:   cfg.Roster.Quorum(),
		numSrv:   cfg.Roster.NumServers(),
		chain:    bc,
		dict:     d,
		emitter:  emitter,
		msn:      msn,
		ballot:   paxosproto.Zero(bc.Depth()),
		leaderID: noLeader,
	}
	r.updateDictionary()
	return r
}

// Pid returns this replica's process id.
func (r *Replica) Pid() int { return r.pid }

// LeaderID returns the currently known leader, or noLeader if none.
func (r *Replica) LeaderID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaderID
}

// Depth returns the current length of the backing blockchain.
func (r *Replica) Depth() int { return r.chain.Depth() }

// Dictionary exposes the read projection for REPL queries.
func (r *Replica) Dictionary() *dict.Dictionary { return r.dict }

// Blockchain exposes the backing log for REPL queries.
func (r *Replica) Blockchain() *chain.Blockchain { return r.chain }

func (r *Replica) updateDictionary() {
	r.dict.Update(r.chain.Snapshot(), r.chain.Depth())
}

// tentative installs b as the log's current (possibly superseding)
// tentative tail.
func (r *Replica) tentative(b *chain.Block) {
	cp := *b
	cp.Tentative = true
	depth := r.chain.Depth()
	if depth > 0 && r.chain.IsTentative(depth-1) {
		if err := r.chain.Update(depth-1, &cp); err != nil {
			log.Printf("[replica %d] tentative update: %v", r.pid, err)
		}
		return
	}
	if err := r.chain.Append(&cp); err != nil {
		log.Printf("[replica %d] tentative append: %v", r.pid, err)
	}
}

// decide finalizes b at its slot, updates the dictionary, and announces
// the decision to subscribers (the history index).
func (r *Replica) decide(b *chain.Block) {
	cp := *b
	cp.Tentative = false
	depth := r.chain.Depth()
	if depth > 0 && r.chain.IsTentative(depth-1) {
		if err := r.chain.Update(depth-1, &cp); err != nil {
			log.Printf("[replica %d] decide update: %v", r.pid, err)
		}
	} else {
		if err := r.chain.Append(&cp); err != nil {
			log.Printf("[replica %d] decide append: %v", r.pid, err)
		}
	}
	r.updateDictionary()
	r.emitter.Emit(events.Event{
		Type:  events.EventOperationDecided,
		Depth: r.chain.Depth() - 1,
		Data: map[string]any{
			"operation": cp.Operation,
		},
	})
}

// fulfill answers the client that issued req, using the now-decided
// dictionary state for a GET or a plain acknowledgement for a PUT.
func (r *Replica) fulfill(req paxosproto.Message) {
	var message string
	if req.Op.Op == chain.OpGet {
		message = r.dict.Get(req.Op.Key)
	} else {
		message = "It will be done, my lord."
	}
	resp := paxosproto.Message{
		Kind:   paxosproto.KindClientResponse,
		Sender: paxosproto.Sender{Pid: r.pid, Role: paxosproto.RoleServer},
		Op:     req.Op,
		Value:  message,
	}
	if err := r.msn.Send(req.Sender.Pid, paxosproto.RoleClient, resp); err != nil {
		log.Printf("[replica %d] fulfill response to client %d: %v", r.pid, req.Sender.Pid, err)
	}
}

// majorityResponded reports whether responses peer acknowledgements (not
// counting self) reach the configured quorum.
func (r *Replica) majorityResponded(responses int) bool {
	return responses >= r.quorum
}

func (r *Replica) sender() paxosproto.Sender {
	return paxosproto.Sender{Pid: r.pid, Role: paxosproto.RoleServer}
}

func (r *Replica) String() string {
	return fmt.Sprintf("replica[pid=%d depth=%d leader=%d]", r.pid, r.chain.Depth(), r.leaderID)
}
