package rng

import (
	"crypto/sha256"
	"encoding/binary"
)

// Sides is the number of faces on the die.
const Sides = 6

// EntropyContext carries the caller-supplied inputs that seed a single draw.
// The ledger fills in the wall-clock timestamp, its configured environment
// seed, the bettor's identity, and the running game counter.
type EntropyContext struct {
	Timestamp  int64  // Unix nanoseconds at draw time
	Seed       []byte // Process/environment entropy, fixed at startup
	ClientSeed string // Optional caller-chosen seed
	Caller     string // Bettor identity
	Nonce      uint64 // Running game counter
}

// Source produces one outcome in {1..Sides} per request.
//
// NOT adversarial-resistant: all inputs are observable or influenceable by a
// sufficiently motivated caller. Swap in a verifiable randomness oracle for
// deployments where that matters.
type Source interface {
	Draw(ctx EntropyContext) int
}

// HashSource derives the outcome by hashing the concatenated entropy inputs.
type HashSource struct{}

func NewHashSource() *HashSource {
	return &HashSource{}
}

// Draw hashes the length-framed entropy fields with SHA-256 and reduces the
// first 8 bytes to {1..Sides}. Same inputs always yield the same outcome.
func (s *HashSource) Draw(ctx EntropyContext) int {
	h := sha256.New()

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(ctx.Timestamp))
	h.Write(buf[:])

	writeFramed(h, ctx.Seed)
	writeFramed(h, []byte(ctx.ClientSeed))
	writeFramed(h, []byte(ctx.Caller))

	binary.LittleEndian.PutUint64(buf[:], ctx.Nonce)
	h.Write(buf[:])

	sum := h.Sum(nil)
	v := binary.LittleEndian.Uint64(sum[:8])
	return int(v%Sides) + 1
}

func writeFramed(h interface{ Write([]byte) (int, error) }, b []byte) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
	h.Write(lenBuf[:])
	h.Write(b)
}

// FixedSource replays a scripted sequence of outcomes. Test harness use only.
type FixedSource struct {
	Outcomes []int
	next     int
}

func NewFixedSource(outcomes ...int) *FixedSource {
	return &FixedSource{Outcomes: outcomes}
}

// Draw returns the next scripted outcome, repeating the last one when the
// script runs out.
func (s *FixedSource) Draw(EntropyContext) int {
	if len(s.Outcomes) == 0 {
		return 1
	}
	if s.next >= len(s.Outcomes) {
		return s.Outcomes[len(s.Outcomes)-1]
	}
	out := s.Outcomes[s.next]
	s.next++
	return out
}
