// Package entropy provides the seed sources feeding the settlement engine's
// maintenance passes. Each requested handle is fulfilled at most once; until
// the seed is ready the poller reports not-ready and the engine runs with a
// zero seed, which leaves settlement state untouched.
package entropy

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	domain "github.com/PurgeGame/settlement_layer/internal/app/domain/entropy"
	"github.com/PurgeGame/settlement_layer/pkg/logger"
)

// Source combines requesting and polling against one beacon.
type Source interface {
	domain.Requester
	domain.Poller
}

// LocalBeacon serves seeds from crypto/rand after a configurable delay,
// mimicking the request/fulfill round trip of an external beacon.
type LocalBeacon struct {
	delay time.Duration
	log   *logger.Logger

	mu      sync.Mutex
	pending map[domain.Handle]pendingSeed
}

type pendingSeed struct {
	seed    domain.Seed
	readyAt time.Time
}

var _ Source = (*LocalBeacon)(nil)

// NewLocalBeacon constructs a beacon with the given fulfillment delay.
func NewLocalBeacon(delay time.Duration, log *logger.Logger) *LocalBeacon {
	if log == nil {
		log = logger.NewDefault("entropy")
	}
	return &LocalBeacon{
		delay:   delay,
		log:     log,
		pending: make(map[domain.Handle]pendingSeed),
	}
}

// Request draws 32 bytes of randomness and schedules their delivery.
func (b *LocalBeacon) Request(_ context.Context) (domain.Handle, error) {
	var seed domain.Seed
	if _, err := rand.Read(seed[:]); err != nil {
		return "", fmt.Errorf("read randomness: %w", err)
	}

	handle := domain.Handle(uuid.NewString())
	b.mu.Lock()
	b.pending[handle] = pendingSeed{seed: seed, readyAt: time.Now().Add(b.delay)}
	b.mu.Unlock()

	b.log.Debugf("entropy requested, handle %s", handle)
	return handle, nil
}

// Poll returns the seed once its delay has elapsed. The handle is consumed
// by the delivering poll.
func (b *LocalBeacon) Poll(_ context.Context, h domain.Handle) (domain.Seed, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pending[h]
	if !ok {
		return domain.Zero, false, fmt.Errorf("unknown or consumed handle %s", h)
	}
	if time.Now().Before(p.readyAt) {
		return domain.Zero, false, nil
	}
	delete(b.pending, h)
	return p.seed, true, nil
}
