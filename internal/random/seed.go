// Package random derives the independent, reproducible random streams a
// simulation run draws from.
package random

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
)

// Stream identifies one family of draws within a run. Each stage of the
// generative process reads from its own family so that changing, say, the
// number of tasks never perturbs the preference draws.
type Stream uint64

const (
	StreamDesign Stream = iota + 1
	StreamHyper
	StreamPreference
	StreamNoise
)

func (s Stream) String() string {
	switch s {
	case StreamDesign:
		return "design"
	case StreamHyper:
		return "hyper"
	case StreamPreference:
		return "preference"
	case StreamNoise:
		return "noise"
	default:
		return fmt.Sprintf("stream(%d)", uint64(s))
	}
}

// Seeds hands out PCG sources keyed by (stream, index) from one master seed.
// Index is the respondent for per-respondent streams and 0 otherwise.
type Seeds struct {
	Master uint64
}

// Source returns a fresh source for the given stream and index. Two calls
// with the same arguments yield identical sequences.
func (s Seeds) Source(stream Stream, index int) rand.Source {
	return rand.NewPCG(s.Master, uint64(stream)<<32|uint64(uint32(index)))
}

// Respondent returns a per-respondent source factory for stream.
func (s Seeds) Respondent(stream Stream) func(r int) rand.Source {
	return func(r int) rand.Source {
		return s.Source(stream, r)
	}
}

// NewSeed generates a random master seed using crypto/rand.
func NewSeed() (uint64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// Resolve returns seed unchanged when it is non-zero and a fresh random
// seed otherwise. The returned value should be recorded so the run can
// be reproduced.
func Resolve(seed uint64) (uint64, error) {
	if seed != 0 {
		return seed, nil
	}
	return NewSeed()
}
