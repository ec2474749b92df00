package chain

import "github.com/duskmere/paxokv/crypto"

// GenesisPointer is the literal sentinel predecessor-hash for the first
// block in the chain. It is a literal "0", not a 64-char hex digest, and
// must render identically everywhere a block's HashPointer is rendered so
// that restore from disk reproduces the genesis chain bit-for-bit.
const GenesisPointer = "0"

// Block is one entry in the append-only log: an Operation, a hash pointer
// to the rendering of the previous block, a proof-of-work nonce, and a
// tentative flag set while the block is only provisionally accepted.
type Block struct {
	Operation   Operation `json:"operation"`
	HashPointer string    `json:"hash_pointer"`
	Nonce       string    `json:"nonce"`
	Tentative   bool      `json:"tentative"`
}

// newBlock mines a fresh nonce for op and returns an unappended, non-
// tentative Block pointing at prevHashPointer.
func newBlock(op Operation, prevHashPointer string) *Block {
	return &Block{
		Operation:   op,
		HashPointer: prevHashPointer,
		Nonce:       mineNonce(op),
		Tentative:   false,
	}
}

// render is the canonical textual rendering of a block (operation, hash
// pointer and nonce) used to compute the next block's hash pointer. The
// PoW predicate does not use it; checkPoW hashes renderOp plus the nonce.
func (b *Block) render() string {
	return renderOp(b.Operation) + b.HashPointer + b.Nonce
}

// verifyPoW reports whether b's nonce satisfies the proof-of-work
// predicate for its own operation.
func (b *Block) verifyPoW() bool {
	return checkPoW(b.Operation, b.Nonce)
}

// hashOf returns SHA256(render(b)), the value the following block's
// HashPointer must equal.
func hashOf(b *Block) string {
	return crypto.Hash([]byte(b.render()))
}
