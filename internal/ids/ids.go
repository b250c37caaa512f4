// Package ids generates prefixed, time-sortable identifiers for rounds and
// bets. An ID is a prefix, an underscore and a UUIDv7 encoded as 26
// characters of Crockford base32, e.g. "rnd_01j9x3c5q6e7f8g9h0jkmnpqrs".
package ids

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Crockford base32, lower case.
const alphabet = "0123456789abcdefghjkmnpqrstvwxyz"

const encodedLen = 26

var ErrInvalidID = errors.New("invalid id")

// Prefix names the kind of entity an ID refers to.
type Prefix string

const (
	PrefixRound Prefix = "rnd"
	PrefixBet   Prefix = "bet"
)

// Generator creates IDs. A nil reader uses crypto randomness.
type Generator struct {
	mu   sync.Mutex
	rand io.Reader
}

// NewGenerator returns a generator reading randomness from r. Pass a
// deterministic reader in tests.
func NewGenerator(r io.Reader) *Generator {
	return &Generator{rand: r}
}

// New returns a fresh ID with the given prefix.
func (g *Generator) New(prefix Prefix) string {
	var (
		u   uuid.UUID
		err error
	)
	if g == nil || g.rand == nil {
		u, err = uuid.NewV7()
	} else {
		g.mu.Lock()
		u, err = uuid.NewV7FromReader(g.rand)
		g.mu.Unlock()
	}
	if err != nil {
		// Only reachable when the entropy source is broken.
		panic("ids: generate uuid: " + err.Error())
	}
	return string(prefix) + "_" + encode(u)
}

// Round returns a new round ID.
func (g *Generator) Round() string {
	return g.New(PrefixRound)
}

// Bet returns a new bet ID.
func (g *Generator) Bet() string {
	return g.New(PrefixBet)
}

// Parse splits an ID into its prefix and UUID.
func Parse(id string) (Prefix, uuid.UUID, error) {
	prefix, body, ok := strings.Cut(id, "_")
	if !ok || prefix == "" {
		return "", uuid.Nil, fmt.Errorf("%w: missing prefix in %q", ErrInvalidID, id)
	}
	u, err := decode(body)
	if err != nil {
		return "", uuid.Nil, err
	}
	return Prefix(prefix), u, nil
}

// encode writes the 128 bits of u as 26 five-bit groups. The first group
// carries only the top three bits, so it is always 0-7.
func encode(u uuid.UUID) string {
	out := make([]byte, encodedLen)
	var acc uint64
	bits := 2 // two leading zero bits pad 128 up to 130
	j := 0
	for _, b := range u {
		acc = acc<<8 | uint64(b)
		bits += 8
		for bits >= 5 {
			bits -= 5
			out[j] = alphabet[(acc>>uint(bits))&0x1f]
			j++
		}
	}
	return string(out)
}

func decode(s string) (uuid.UUID, error) {
	var u uuid.UUID
	if len(s) != encodedLen {
		return u, fmt.Errorf("%w: want %d characters, got %d", ErrInvalidID, encodedLen, len(s))
	}
	if s[0] > '7' {
		return u, fmt.Errorf("%w: first character must be 0-7, got %c", ErrInvalidID, s[0])
	}
	var acc uint64
	bits := -2
	j := 0
	for i := 0; i < len(s); i++ {
		v := strings.IndexByte(alphabet, s[i])
		if v < 0 {
			return u, fmt.Errorf("%w: invalid character %c at position %d", ErrInvalidID, s[i], i)
		}
		acc = acc<<5 | uint64(v)
		bits += 5
		if bits >= 8 {
			bits -= 8
			u[j] = byte(acc >> uint(bits))
			j++
		}
	}
	return u, nil
}
