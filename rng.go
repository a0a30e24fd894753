package main

import (
	"strings"

	"github.com/dgryski/go-wyhash"
	"pgregory.net/rand"
)

// Rng is a seeded random source. It is not safe for concurrent use.
type Rng struct {
	rng *rand.Rand
}

func NewRng(s string) Rng {
	return Rng{rand.New(wyhash.Hash([]byte(s), 2467825690))}
}

func (r Rng) Intn(n int) int {
	return r.rng.Intn(n)
}

func (r Rng) HexString(len int) string {
	var b strings.Builder
	for i := 0; i < len; i++ {
		b.WriteByte("0123456789abcdef"[r.Intn(16)])
	}
	return b.String()
}

// RequestID returns a 32 character hex id used to tag a dispatched request.
func (r Rng) RequestID() string {
	return r.HexString(32)
}
