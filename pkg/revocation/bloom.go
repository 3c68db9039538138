package revocation

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/wisbric/tollgate/internal/telemetry"
)

// Membership is the result of a BloomFront check: a probabilistic filter
// can only ever say "possibly present" or "definitely not".
type Membership int

const (
	DefinitelyNot Membership = iota
	Possibly
)

// Streamer supplies the JTIs currently recorded as revoked, for rebuild.
type Streamer interface {
	StreamAllRevokedJtis(ctx context.Context) iter.Seq2[string, error]
}

// BloomFront is a per-instance Bloom filter over revoked JTIs, sized for a
// target false-positive rate at a configured capacity. It is a soft index,
// rebuilt periodically from the backend, never the source of truth.
type BloomFront struct {
	capacity uint
	fpRate   float64
	source   Streamer

	mu     sync.RWMutex
	filter *bloom.BloomFilter
}

// New creates a BloomFront sized for capacity entries at fpRate false
// positives.
func New(capacity uint, fpRate float64, source Streamer) *BloomFront {
	return &BloomFront{
		capacity: capacity,
		fpRate:   fpRate,
		source:   source,
		filter:   bloom.NewWithEstimates(capacity, fpRate),
	}
}

// Contains tests membership. With zero entries added, every test returns
// DefinitelyNot.
func (b *BloomFront) Contains(jti string) Membership {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.filter.Test([]byte(jti)) {
		return Possibly
	}
	return DefinitelyNot
}

// Add records jti in the filter. Called by the bus event consumer on
// JtiRevoked; UserRevoked events never touch the filter.
func (b *BloomFront) Add(jti string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filter.Add([]byte(jti))
}

// Rebuild streams every currently revoked JTI from the backend and
// repopulates the filter from scratch. Triggered on startup, on admin
// request, and periodically.
func (b *BloomFront) Rebuild(ctx context.Context, trigger string) error {
	fresh := bloom.NewWithEstimates(b.capacity, b.fpRate)

	count := 0
	for jti, err := range b.source.StreamAllRevokedJtis(ctx) {
		if err != nil {
			telemetry.BloomRebuildsTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("revocation: rebuilding bloom filter: %w", err)
		}
		fresh.Add([]byte(jti))
		count++
	}

	b.mu.Lock()
	b.filter = fresh
	b.mu.Unlock()

	telemetry.BloomRebuildsTotal.WithLabelValues(trigger).Inc()
	return nil
}
