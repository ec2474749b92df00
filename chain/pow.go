package chain

import (
	"crypto/rand"
	"math/big"

	"github.com/duskmere/paxokv/crypto"
)

const (
	nonceAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	nonceLength   = 10
)

// bigTen is reused across every PoW check to avoid reallocating it on each
// candidate nonce during mining.
var bigTen = big.NewInt(10)

// checkPoW reports whether nonce satisfies the proof-of-work predicate for
// op: SHA256(renderOp(op) || nonce), interpreted as a base-16 integer, mod
// 10 <= 2. A big.Int is required (rather than a machine integer) because a
// 256-bit digest does not fit in any fixed-width type; this is the same
// hash-as-integer idiom the wider blockchain ecosystem uses for difficulty
// and target comparisons.
func checkPoW(op Operation, nonce string) bool {
	digest := crypto.Hash([]byte(renderOp(op) + nonce))
	h, ok := new(big.Int).SetString(digest, 16)
	if !ok {
		return false
	}
	mod := new(big.Int).Mod(h, bigTen)
	return mod.Cmp(big.NewInt(2)) <= 0
}

// mineNonce draws uniformly random alphanumeric strings until one satisfies
// the PoW predicate for op. Expected 10/3 draws; unbounded in the worst
// case by construction (a design choice inherited from the source, not a
// bug — see spec.md §4.A).
func mineNonce(op Operation) string {
	for {
		nonce := randomString(nonceLength)
		if checkPoW(op, nonce) {
			return nonce
		}
	}
}

func randomString(n int) string {
	out := make([]byte, n)
	idx := make([]byte, n)
	if _, err := rand.Read(idx); err != nil {
		// crypto/rand failing is effectively unrecoverable on any real
		// platform; degrade to a fixed low-entropy draw rather than panic
		// so mining can still terminate once PoW happens to be satisfied.
		for i := range idx {
			idx[i] = byte(i)
		}
	}
	for i, b := range idx {
		out[i] = nonceAlphabet[int(b)%len(nonceAlphabet)]
	}
	return string(out)
}
