// Package app wires the settlement services together and manages their
// lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/PurgeGame/settlement_layer/internal/app/domain/bond"
	domainentropy "github.com/PurgeGame/settlement_layer/internal/app/domain/entropy"
	"github.com/PurgeGame/settlement_layer/internal/app/domain/leaderboard"
	bondsvc "github.com/PurgeGame/settlement_layer/internal/app/services/bond"
	entropysvc "github.com/PurgeGame/settlement_layer/internal/app/services/entropy"
	leaderboardsvc "github.com/PurgeGame/settlement_layer/internal/app/services/leaderboard"
	treasurysvc "github.com/PurgeGame/settlement_layer/internal/app/services/treasury"
	"github.com/PurgeGame/settlement_layer/internal/app/storage"
	"github.com/PurgeGame/settlement_layer/internal/app/storage/memory"
	"github.com/PurgeGame/settlement_layer/internal/app/system"
	"github.com/PurgeGame/settlement_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Bond        storage.BondStore
	Leaderboard storage.LeaderboardStore
}

// Options carries the application-level tunables.
type Options struct {
	Engine              bondsvc.Config
	StartLevel          uint64
	MaintenanceInterval time.Duration
	MaintenanceBudget   int
	// EntropyURL selects the drand-style HTTP beacon; empty means the
	// local crypto/rand beacon.
	EntropyURL    string
	EntropyPeriod time.Duration
	EntropyDelay  time.Duration
}

// Application ties the settlement services together.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Clock       *treasurysvc.Clock
	Treasury    *treasurysvc.Service
	Entropy     entropysvc.Source
	Bond        *bondsvc.Service
	Leaderboard *leaderboardsvc.Service
	Driver      *bondsvc.Driver

	mu             sync.Mutex
	jackpotPending domainentropy.Handle
}

// New builds a fully initialised application with the provided stores.
func New(opts Options, stores Stores, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Bond == nil {
		stores.Bond = mem
	}
	if stores.Leaderboard == nil {
		stores.Leaderboard = mem
	}

	manager := system.NewManager()

	clock := treasurysvc.NewClock(opts.StartLevel)
	treasury := treasurysvc.New(log)

	var source entropysvc.Source
	if opts.EntropyURL != "" {
		httpClient := &http.Client{Timeout: 10 * time.Second}
		beacon, err := entropysvc.NewHTTPBeacon(httpClient, opts.EntropyURL, opts.EntropyPeriod, log)
		if err != nil {
			return nil, fmt.Errorf("configure entropy beacon: %w", err)
		}
		source = beacon
	} else {
		source = entropysvc.NewLocalBeacon(opts.EntropyDelay, log)
	}

	engine, err := bondsvc.New(opts.Engine, bondsvc.Deps{
		Level:  clock,
		Funds:  treasury,
		Tokens: [bond.LaneCount]bond.ClaimToken{treasury.Token(0), treasury.Token(1)},
	}, stores.Bond, log)
	if err != nil {
		return nil, fmt.Errorf("build settlement engine: %w", err)
	}

	jackpot, err := leaderboardsvc.New(clock, treasury, stores.Leaderboard, log)
	if err != nil {
		return nil, fmt.Errorf("build leaderboard service: %w", err)
	}

	driver := bondsvc.NewDriver(engine, source, opts.MaintenanceInterval, opts.MaintenanceBudget, log)
	if err := manager.Register(driver); err != nil {
		return nil, fmt.Errorf("register maintenance driver: %w", err)
	}

	return &Application{
		manager:     manager,
		log:         log,
		Clock:       clock,
		Treasury:    treasury,
		Entropy:     source,
		Bond:        engine,
		Leaderboard: jackpot,
		Driver:      driver,
	}, nil
}

// ResolveLeaderboard drives the async resolve handshake: the first call pins
// an entropy request and reports pending; once the beacon delivers, the
// round is resolved against the given pool. done=false means call again.
func (a *Application) ResolveLeaderboard(ctx context.Context, pool uint64) (*leaderboard.Round, bool, error) {
	a.mu.Lock()
	pending := a.jackpotPending
	a.mu.Unlock()

	if pending == "" {
		handle, err := a.Entropy.Request(ctx)
		if err != nil {
			return nil, false, fmt.Errorf("request entropy: %w", err)
		}
		a.mu.Lock()
		a.jackpotPending = handle
		a.mu.Unlock()
		return nil, false, nil
	}

	seed, ok, err := a.Entropy.Poll(ctx, pending)
	if err != nil {
		a.mu.Lock()
		a.jackpotPending = ""
		a.mu.Unlock()
		return nil, false, fmt.Errorf("poll entropy: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	a.mu.Lock()
	a.jackpotPending = ""
	a.mu.Unlock()

	round, err := a.Leaderboard.Resolve(ctx, seed, pool)
	if err != nil {
		return nil, false, err
	}
	return round, true, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
