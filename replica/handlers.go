package replica

import (
	"log"

	"github.com/duskmere/paxokv/events"
	"github.com/duskmere/paxokv/paxosproto"
)

// HandleMessage is the single entry point the transport layer calls for
// every message addressed to this replica. It is safe to call
// concurrently from multiple goroutines (one per inbound message); all
// shared state is protected by r.mu, held only long enough to decide what
// (if anything) to send back, never across the network call itself.
func (r *Replica) HandleMessage(msg paxosproto.Message) {
	switch msg.Kind {
	case paxosproto.KindClientRequest:
		r.handleClientRequest(msg)
	case paxosproto.KindPrepareRequest:
		r.handlePrepareRequest(msg)
	case paxosproto.KindPromise:
		r.handlePromise(msg)
	case paxosproto.KindAcceptRequest:
		r.handleAcceptRequest(msg)
	case paxosproto.KindAccept:
		r.handleAccept(msg)
	case paxosproto.KindDecide:
		r.decide(msg.Block)
	case paxosproto.KindRecoveryData:
		r.handleRecoveryData(msg)
	case paxosproto.KindTest:
		log.Printf("[replica %d] test message: %s", r.pid, msg.Value)
	}
}

func (r *Replica) handleClientRequest(msg paxosproto.Message) {
	r.mu.Lock()
	var outMsg *paxosproto.Message
	forwardTo := noLeader
	switch {
	case r.leaderID == r.pid:
		if r.enqueue(msg) {
			m := r.beginAcceptRound(msg.Op)
			outMsg = &m
		}
	case r.leaderID == noLeader || msg.ForceLeader:
		r.enqueue(msg)
		m := r.beginPrepareRound(msg.Op)
		outMsg = &m
	default:
		forwardTo = r.leaderID
	}
	r.mu.Unlock()

	if outMsg != nil {
		r.msn.Broadcast(*outMsg)
	}
	if forwardTo != noLeader {
		if err := r.msn.Send(forwardTo, paxosproto.RoleServer, msg); err != nil {
			log.Printf("[replica %d] forward client request to leader %d: %v", r.pid, forwardTo, err)
		}
	}
}

func (r *Replica) handlePrepareRequest(msg paxosproto.Message) {
	r.mu.Lock()
	var promise *paxosproto.Message
	if msg.Ballot.GreaterEqual(r.ballot) {
		r.leaderID = msg.Ballot.Pid
		r.ballot = msg.Ballot
		pm := paxosproto.Message{
			Kind:           paxosproto.KindPromise,
			Sender:         r.sender(),
			Ballot:         msg.Ballot,
			Accepted:       r.acceptVal != nil,
			AcceptedBallot: r.acceptNum,
			AcceptedBlock:  r.acceptVal,
			Depth:          r.chain.Depth(),
		}
		promise = &pm
	}
	recovery := r.recoveryMessages(msg.Depth)
	r.mu.Unlock()

	if promise != nil {
		if err := r.msn.Send(msg.Sender.Pid, paxosproto.RoleServer, *promise); err != nil {
			log.Printf("[replica %d] promise to %d: %v", r.pid, msg.Sender.Pid, err)
		}
	}
	r.sendRecovery(msg.Sender.Pid, recovery)
}

func (r *Replica) handlePromise(msg paxosproto.Message) {
	r.mu.Lock()
	var acceptReq *paxosproto.Message
	r.promiseResponses++
	if msg.Accepted && (!r.bestAcceptedSeen || r.bestAcceptedBallot.Less(msg.AcceptedBallot)) {
		r.bestAcceptedBallot = msg.AcceptedBallot
		r.bestAcceptedSeen = true
		r.value = msg.AcceptedBlock
	}
	if !r.promiseRoundDone && r.majorityResponded(r.promiseResponses) {
		r.promiseRoundDone = true
		r.leaderID = r.pid
		ar := paxosproto.Message{
			Kind:   paxosproto.KindAcceptRequest,
			Sender: r.sender(),
			Ballot: r.ballot,
			Block:  r.value,
			Depth:  r.chain.Depth(),
		}
		acceptReq = &ar
	}
	recovery := r.recoveryMessages(msg.Depth)
	r.mu.Unlock()

	if acceptReq != nil {
		r.msn.Broadcast(*acceptReq)
	}
	r.sendRecovery(msg.Sender.Pid, recovery)
}

func (r *Replica) handleAcceptRequest(msg paxosproto.Message) {
	r.mu.Lock()
	var accept *paxosproto.Message
	if msg.Ballot.GreaterEqual(r.ballot) {
		r.acceptNum = msg.Ballot
		r.acceptVal = msg.Block
		r.tentative(msg.Block)
		am := paxosproto.Message{
			Kind:   paxosproto.KindAccept,
			Sender: r.sender(),
			Ballot: msg.Ballot,
			Block:  msg.Block,
			Depth:  r.chain.Depth(),
		}
		accept = &am
	}
	recovery := r.recoveryMessages(msg.Depth)
	r.mu.Unlock()

	if accept != nil {
		if err := r.msn.Send(msg.Ballot.Pid, paxosproto.RoleServer, *accept); err != nil {
			log.Printf("[replica %d] accept to %d: %v", r.pid, msg.Ballot.Pid, err)
		}
	}
	r.sendRecovery(msg.Sender.Pid, recovery)
}

func (r *Replica) handleAccept(msg paxosproto.Message) {
	r.mu.Lock()
	var decideMsg *paxosproto.Message
	var toFulfill *paxosproto.Message
	var nextAccept *paxosproto.Message
	r.acceptResponses++
	if !r.acceptRoundDone && r.majorityResponded(r.acceptResponses) {
		r.acceptRoundDone = true
		dm := paxosproto.Message{
			Kind:   paxosproto.KindDecide,
			Sender: r.sender(),
			Ballot: r.ballot,
			Block:  r.value,
		}
		decideMsg = &dm
		r.decide(r.value)
		if r.queueLen() > 0 {
			fulfilled := r.dequeue()
			toFulfill = &fulfilled
		}
		if r.queueLen() > 0 {
			m := r.beginAcceptRound(r.peekFront().Op)
			nextAccept = &m
		}
	}
	recovery := r.recoveryMessages(msg.Depth)
	r.mu.Unlock()

	if decideMsg != nil {
		r.msn.BroadcastAll(*decideMsg)
	}
	if toFulfill != nil {
		r.fulfill(*toFulfill)
	}
	if nextAccept != nil {
		r.msn.Broadcast(*nextAccept)
	}
	r.sendRecovery(msg.Sender.Pid, recovery)
}

func (r *Replica) handleRecoveryData(msg paxosproto.Message) {
	if len(msg.RecoveryBlocks) == 0 {
		return
	}
	b := *msg.RecoveryBlocks[0]
	b.Tentative = false

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.chain.Depth() != msg.Depth-1 {
		return
	}
	if err := r.chain.Append(&b); err != nil {
		log.Printf("[replica %d] recovery append at depth %d: %v", r.pid, r.chain.Depth(), err)
		return
	}
	r.updateDictionary()
	r.emitter.Emit(events.Event{
		Type:  events.EventRecoveryApplied,
		Depth: r.chain.Depth() - 1,
		Data:  map[string]any{"operation": b.Operation},
	})
	if r.leaderID == r.pid && r.value != nil {
		r.value = r.chain.GenerateNext(r.value.Operation)
	}
}

func (r *Replica) sendRecovery(peerPid int, msgs []paxosproto.Message) {
	for _, m := range msgs {
		if err := r.msn.Send(peerPid, paxosproto.RoleServer, m); err != nil {
			log.Printf("[replica %d] recovery data to %d: %v", r.pid, peerPid, err)
		}
	}
}
