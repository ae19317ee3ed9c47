package bond

import (
	"context"
	"sync"
	"time"

	"github.com/PurgeGame/settlement_layer/internal/app/domain/entropy"
	"github.com/PurgeGame/settlement_layer/internal/app/system"
	"github.com/PurgeGame/settlement_layer/pkg/logger"
)

// EntropySource combines requesting and polling against one beacon.
type EntropySource interface {
	entropy.Requester
	entropy.Poller
}

// Driver keeps settlement current: it requests entropy, polls the pending
// handle until the seed is delivered, and spends it on one maintenance pass.
// Kick schedules an extra request outside the regular interval (the cron
// trigger and the maintenance endpoint both use it).
type Driver struct {
	engine   *Service
	source   EntropySource
	interval time.Duration
	budget   int
	log      *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	pending entropy.Handle
	kicked  bool
}

var _ system.Service = (*Driver)(nil)

// NewDriver constructs a driver polling at interval and spending budget work
// units per delivered seed.
func NewDriver(engine *Service, source EntropySource, interval time.Duration, budget int, log *logger.Logger) *Driver {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if budget <= 0 {
		budget = 8
	}
	if log == nil {
		log = logger.NewDefault("bond-driver")
	}
	return &Driver{
		engine:   engine,
		source:   source,
		interval: interval,
		budget:   budget,
		log:      log,
	}
}

func (d *Driver) Name() string { return "bond-maintenance" }

func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				d.tick(runCtx)
			}
		}
	}()

	d.log.Info("maintenance driver started")
	return nil
}

func (d *Driver) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	cancel := d.cancel
	d.running = false
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

// Kick requests a maintenance pass ahead of the regular schedule.
func (d *Driver) Kick() {
	d.mu.Lock()
	d.kicked = true
	d.mu.Unlock()
}

func (d *Driver) tick(ctx context.Context) {
	d.mu.Lock()
	pending := d.pending
	kicked := d.kicked
	d.kicked = false
	d.mu.Unlock()

	if pending == "" {
		if !kicked && !d.workPending(ctx) {
			return
		}
		handle, err := d.source.Request(ctx)
		if err != nil {
			d.log.WithError(err).Warn("entropy request failed")
			return
		}
		d.mu.Lock()
		d.pending = handle
		d.mu.Unlock()
		return
	}

	seed, ok, err := d.source.Poll(ctx, pending)
	if err != nil {
		d.log.WithError(err).Warnf("entropy poll failed for handle %s", pending)
		d.mu.Lock()
		d.pending = ""
		d.mu.Unlock()
		return
	}
	if !ok {
		return
	}

	d.mu.Lock()
	d.pending = ""
	d.mu.Unlock()

	advanced, err := d.engine.RunMaintenance(ctx, seed, d.budget)
	if err != nil {
		d.log.WithError(err).Warn("maintenance pass failed")
		return
	}
	if advanced {
		d.log.Debug("maintenance advanced")
	}
}

// workPending reports whether any series needs settlement at the current
// level, so idle periods burn no entropy requests.
func (d *Driver) workPending(ctx context.Context) bool {
	level, err := d.engine.deps.Level.CurrentLevel(ctx)
	if err != nil {
		return false
	}

	d.engine.mu.Lock()
	defer d.engine.mu.Unlock()

	if _, ok := d.engine.series[d.engine.saleKeyLocked(level)]; !ok {
		return true
	}
	for _, key := range d.engine.order[d.engine.activeIndex:] {
		series := d.engine.series[key]
		if series.EmissionDue(level) {
			return true
		}
		if !series.Resolved && series.Matured(level) {
			return true
		}
	}
	return false
}
