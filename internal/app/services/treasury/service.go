// Package treasury holds the shared funds pool and the two claim-token
// ledgers the settlement engine mints into and burns from. It is the
// in-process stand-in for the on-chain token contracts: balances only, no
// transfer logic.
package treasury

import (
	"context"
	"errors"
	"sync"

	"github.com/PurgeGame/settlement_layer/internal/app/domain/bond"
	"github.com/PurgeGame/settlement_layer/internal/app/metrics"
	"github.com/PurgeGame/settlement_layer/pkg/logger"
)

var (
	// ErrInsufficientFunds is returned when a withdrawal exceeds the pool.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientBalance is returned when a burn exceeds the holder's
	// claim-token balance.
	ErrInsufficientBalance = errors.New("insufficient claim balance")
)

// Service is the shared funds pool plus both claim-token variants.
type Service struct {
	mu        sync.Mutex
	available uint64
	tokens    [bond.LaneCount]*Token
	log       *logger.Logger
}

var _ bond.FundsPool = (*Service)(nil)

// New constructs an empty treasury.
func New(log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("treasury")
	}
	s := &Service{log: log}
	for i := range s.tokens {
		s.tokens[i] = newToken(i, log)
	}
	return s
}

// AvailableFunds returns the current pool balance.
func (s *Service) AvailableFunds(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available, nil
}

// Deposit adds funds to the pool.
func (s *Service) Deposit(_ context.Context, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available += amount
	metrics.SetTreasuryBalance(s.available)
	return nil
}

// Withdraw removes funds from the pool.
func (s *Service) Withdraw(_ context.Context, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if amount > s.available {
		return ErrInsufficientFunds
	}
	s.available -= amount
	metrics.SetTreasuryBalance(s.available)
	return nil
}

// Token returns the claim-token ledger for the given variant.
func (s *Service) Token(variant int) *Token {
	return s.tokens[variant%bond.LaneCount]
}

// Token is one claim-token variant's balance ledger.
type Token struct {
	mu       sync.Mutex
	variant  int
	balances map[string]uint64
	supply   uint64
	log      *logger.Logger
}

var _ bond.ClaimToken = (*Token)(nil)

func newToken(variant int, log *logger.Logger) *Token {
	return &Token{
		variant:  variant,
		balances: make(map[string]uint64),
		log:      log,
	}
}

// Mint credits freshly minted claim tokens to the holder.
func (t *Token) Mint(_ context.Context, to string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[to] += amount
	t.supply += amount
	metrics.SetClaimSupply(t.variant, t.supply)
	t.log.Debugf("minted %d claim tokens (variant %d) to %s", amount, t.variant, to)
	return nil
}

// Burn destroys claim tokens from the holder's balance.
func (t *Token) Burn(_ context.Context, from string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.balances[from] < amount {
		return ErrInsufficientBalance
	}
	t.balances[from] -= amount
	t.supply -= amount
	metrics.SetClaimSupply(t.variant, t.supply)
	return nil
}

// Balance returns the holder's claim-token balance.
func (t *Token) Balance(_ context.Context, holder string) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[holder], nil
}

// TotalSupply returns the outstanding supply of this variant.
func (t *Token) TotalSupply() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.supply
}

// Clock is a settable level source fed by the game's progression feed.
type Clock struct {
	mu    sync.Mutex
	level uint64
}

var _ bond.LevelSource = (*Clock)(nil)

// NewClock starts the clock at the given level.
func NewClock(level uint64) *Clock {
	return &Clock{level: level}
}

// CurrentLevel returns the current level.
func (c *Clock) CurrentLevel(_ context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level, nil
}

// Advance moves the clock forward to level. The clock never goes backwards.
func (c *Clock) Advance(level uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if level > c.level {
		c.level = level
	}
	return c.level
}
