package event

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "DiceLedger:genesis:v1"

// ChainHasher computes the deterministic hash chain over the game log.
type ChainHasher struct {
	prevHash [32]byte
}

// NewChainHasher initializes with the genesis hash
func NewChainHasher() *ChainHasher {
	genesis := sha256.Sum256([]byte(GenesisHashSeed))
	return &ChainHasher{
		prevHash: genesis,
	}
}

// ComputeHash calculates state_hash[N] = SHA-256(prev_hash || sequence || state_digest)
// and advances the chain tip.
func (h *ChainHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()

	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))

	h.prevHash = hash

	return hash
}

// GetPrevHash returns the current chain tip
func (h *ChainHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash restores the chain tip after replay
func (h *ChainHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}

// BalancesDigest builds the canonical digest bytes for the hash chain:
// held funds, house balance, and total volume in LE order.
func BalancesDigest(heldFunds, houseBalance, totalVolume int64) []byte {
	digest := make([]byte, 0, 24)
	digest = appendInt64LE(digest, heldFunds)
	digest = appendInt64LE(digest, houseBalance)
	digest = appendInt64LE(digest, totalVolume)
	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}
