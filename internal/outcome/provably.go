package outcome

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
)

var ErrNotCommitted = errors.New("outcome: round has no commitment")

// ProvablyFair derives each result from a per-round server seed. The seed
// hash is published while betting is open and the seed is revealed after
// the round completes, so anyone can recompute the result with Verify.
type ProvablyFair struct {
	mu    sync.Mutex
	seeds map[string][]byte
	// revealed seeds are dropped after this many rounds.
	keep  int
	order []string
}

// NewProvablyFair returns a committing generator remembering the seeds of
// the last keep rounds.
func NewProvablyFair(keep int) *ProvablyFair {
	if keep <= 0 {
		keep = 64
	}
	return &ProvablyFair{seeds: make(map[string][]byte), keep: keep}
}

// Commit draws a fresh server seed for the round and returns its hash.
// Committing twice returns the original hash.
func (p *ProvablyFair) Commit(roundID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if seed, ok := p.seeds[roundID]; ok {
		return hashSeed(seed), nil
	}
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}
	p.seeds[roundID] = seed
	p.order = append(p.order, roundID)
	for len(p.order) > p.keep {
		delete(p.seeds, p.order[0])
		p.order = p.order[1:]
	}
	return hashSeed(seed), nil
}

// Reveal returns the hex server seed for a committed round.
func (p *ProvablyFair) Reveal(roundID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	seed, ok := p.seeds[roundID]
	if !ok {
		return "", false
	}
	return hex.EncodeToString(seed), true
}

func (p *ProvablyFair) Generate(ctx context.Context, roundID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	seed, ok := p.seeds[roundID]
	p.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotCommitted, roundID)
	}
	return digit(seed, roundID), nil
}

// Verify checks that seedHex hashes to hash and yields value for roundID.
func Verify(seedHex, roundID, hash string, value int) bool {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return false
	}
	if !hmac.Equal([]byte(hashSeed(seed)), []byte(hash)) {
		return false
	}
	return digit(seed, roundID) == value
}

func hashSeed(seed []byte) string {
	sum := sha256.Sum256(seed)
	return hex.EncodeToString(sum[:])
}

// digit reduces HMAC-SHA256(seed, roundID|counter) to [0,9] by rejection
// sampling, so every digit is equally likely.
func digit(seed []byte, roundID string) int {
	const limit = ^uint64(0) - ^uint64(0)%10
	for counter := uint32(0); ; counter++ {
		mac := hmac.New(sha256.New, seed)
		mac.Write([]byte(roundID))
		var c [4]byte
		binary.BigEndian.PutUint32(c[:], counter)
		mac.Write(c[:])
		sum := mac.Sum(nil)
		for i := 0; i+8 <= len(sum); i += 8 {
			x := binary.BigEndian.Uint64(sum[i : i+8])
			if x < limit {
				return int(x % 10)
			}
		}
	}
}
