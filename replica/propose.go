package replica

import (
	"github.com/duskmere/paxokv/chain"
	"github.com/duskmere/paxokv/paxosproto"
)

// beginPrepareRound advances the ballot, mines the candidate block for op,
// resets round-tracking state, and returns the PREPARE_REQUEST to
// broadcast. Callers must hold r.mu and send the returned message only
// after releasing it.
func (r *Replica) beginPrepareRound(op chain.Operation) paxosproto.Message {
	r.promiseResponses = 0
	r.promiseRoundDone = false
	r.acceptResponses = 0
	r.acceptRoundDone = false
	r.bestAcceptedSeen = false
	r.ballot = paxosproto.Ballot{Depth: r.chain.Depth(), Num: r.ballot.Num + 1, Pid: r.pid}
	r.value = r.chain.GenerateNext(op)

	return paxosproto.Message{
		Kind:   paxosproto.KindPrepareRequest,
		Sender: r.sender(),
		Ballot: r.ballot,
		Depth:  r.chain.Depth(),
	}
}

// beginAcceptRound is beginPrepareRound's phase-2 analogue, used when this
// replica is already the recognized leader and can skip phase 1 entirely.
// Callers must hold r.mu.
func (r *Replica) beginAcceptRound(op chain.Operation) paxosproto.Message {
	r.promiseResponses = 0
	r.promiseRoundDone = false
	r.acceptResponses = 0
	r.acceptRoundDone = false
	r.bestAcceptedSeen = false
	r.ballot = paxosproto.Ballot{Depth: r.chain.Depth(), Num: r.ballot.Num + 1, Pid: r.pid}
	r.value = r.chain.GenerateNext(op)

	return paxosproto.Message{
		Kind:   paxosproto.KindAcceptRequest,
		Sender: r.sender(),
		Ballot: r.ballot,
		Block:  r.value,
		Depth:  r.chain.Depth(),
	}
}

// recoveryMessages returns the RECOVERY_DATA messages needed to bring a
// peer whose last reported Depth was senderDepth up to date, or nil if it
// is at most one block behind. Callers must hold r.mu only long enough to read the
// chain snapshot; the chain itself is independently synchronized.
func (r *Replica) recoveryMessages(senderDepth int) []paxosproto.Message {
	depth := r.chain.Depth()
	if senderDepth >= depth-1 {
		return nil
	}
	msgs := make([]paxosproto.Message, 0, depth-senderDepth)
	for i := senderDepth; i < depth; i++ {
		b := r.chain.At(i)
		if b == nil {
			continue
		}
		msgs = append(msgs, paxosproto.Message{
			Kind:           paxosproto.KindRecoveryData,
			Sender:         r.sender(),
			Depth:          i + 1,
			RecoveryBlocks: []*chain.Block{b},
		})
	}
	return msgs
}
