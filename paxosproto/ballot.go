// Package paxosproto defines the wire vocabulary of the Multi-Paxos
// replicas: ballot numbers and the message envelope exchanged between
// acceptors, proposers, clients and the recovery path.
package paxosproto

import "fmt"

// Ballot totally orders proposals within a single log depth: (Depth, Num,
// Pid). Depth is the log slot being decided, Num is a per-proposer
// monotonic counter, and Pid breaks ties between proposers that happened
// to pick the same Num at the same Depth.
type Ballot struct {
	Depth int `json:"depth"`
	Num   int `json:"num"`
	Pid   int `json:"pid"`
}

// Zero is the lowest possible ballot at a given depth, used to seed an
// acceptor that has not yet promised anything at that depth.
func Zero(depth int) Ballot {
	return Ballot{Depth: depth, Num: 0, Pid: 0}
}

func (b Ballot) tuple() (int, int, int) { return b.Depth, b.Num, b.Pid }

// Less reports whether b sorts strictly before other.
func (b Ballot) Less(other Ballot) bool {
	bd, bn, bp := b.tuple()
	od, on, op := other.tuple()
	if bd != od {
		return bd < od
	}
	if bn != on {
		return bn < on
	}
	return bp < op
}

// LessEqual reports whether b sorts at or before other.
func (b Ballot) LessEqual(other Ballot) bool {
	return b.Equal(other) || b.Less(other)
}

// GreaterEqual reports whether b sorts at or after other.
func (b Ballot) GreaterEqual(other Ballot) bool {
	return !b.Less(other)
}

// Equal reports whether b and other are the identical triple.
func (b Ballot) Equal(other Ballot) bool {
	return b == other
}

// String renders a ballot as "(depth,num,pid)" for logs and REPL output.
func (b Ballot) String() string {
	return fmt.Sprintf("(%d,%d,%d)", b.Depth, b.Num, b.Pid)
}
