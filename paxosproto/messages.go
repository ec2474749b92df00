package paxosproto

import "github.com/duskmere/paxokv/chain"

// Kind identifies a message's payload type, since every message travels
// over the wire as one envelope type and is dispatched on this tag.
type Kind string

const (
	KindPrepareRequest Kind = "PREPARE_REQUEST"
	KindPromise        Kind = "PROMISE"
	KindAcceptRequest  Kind = "ACCEPT_REQUEST"
	KindAccept         Kind = "ACCEPT"
	KindDecide         Kind = "DECIDE"
	KindClientRequest  Kind = "CLIENT_REQUEST"
	KindClientResponse Kind = "CLIENT_RESPONSE"
	KindRecoveryData   Kind = "RECOVERY_DATA"
	KindQuit           Kind = "QUIT"
	KindTest           Kind = "TEST"
	KindHandshake      Kind = "HANDSHAKE"
)

// Role identifies whether a message's sender is a server (replica) or a
// client.
type Role string

const (
	RoleServer Role = "Server"
	RoleClient Role = "Client"
)

// Sender identifies the originator of a message for routing replies and
// for the "which peer do I owe a response" bookkeeping in the replica and
// client packages.
type Sender struct {
	Pid  int  `json:"pid"`
	Role Role `json:"role"`
}

// Message is the single envelope type exchanged between every pair of
// nodes in the cluster. Exactly one of the typed fields is populated,
// selected by Kind; this mirrors the single polymorphic message class the
// reference implementation dispatches on a string tag, adapted to a
// discriminated struct so the Go compiler can still check field access.
type Message struct {
	Kind   Kind   `json:"kind"`
	Sender Sender `json:"sender"`

	// PREPARE_REQUEST / PROMISE / ACCEPT_REQUEST / ACCEPT / DECIDE
	Ballot Ballot      `json:"ballot,omitempty"`
	Block  *chain.Block `json:"block,omitempty"`
	Depth  int         `json:"depth,omitempty"`

	// PROMISE: the ballot/value this acceptor last accepted, if any; it may
	// be from an earlier depth than Depth (AcceptedBallot.Depth tells which).
	// (AcceptedBallot.Num == 0 with no prior accept is
	// indistinguishable from a genuine zero ballot, so Accepted reports
	// whether AcceptedBallot/AcceptedBlock are meaningful).
	Accepted       bool   `json:"accepted,omitempty"`
	AcceptedBallot Ballot `json:"accepted_ballot,omitempty"`
	AcceptedBlock  *chain.Block `json:"accepted_block,omitempty"`

	// CLIENT_REQUEST / CLIENT_RESPONSE
	Op          chain.Operation `json:"op,omitempty"`
	ForceLeader bool            `json:"force_leader,omitempty"`
	Value       string          `json:"value,omitempty"`

	// RECOVERY_DATA: one block this replica is missing, for log index
	// Depth-1 (Depth is the log length once the block is applied).
	RecoveryBlocks []*chain.Block `json:"recovery_blocks,omitempty"`

	// HANDSHAKE: a sealed netauth token proving membership in the cluster.
	Token []byte `json:"token,omitempty"`

	// QUIT / TEST carry no additional payload.
}
