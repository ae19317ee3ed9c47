package entropy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	domain "github.com/PurgeGame/settlement_layer/internal/app/domain/entropy"
	"github.com/PurgeGame/settlement_layer/pkg/logger"
)

// HTTPBeacon pulls seeds from a drand-style randomness beacon. A request
// pins the next beacon round; the poll fetches that round and extracts the
// randomness field.
type HTTPBeacon struct {
	client   *http.Client
	endpoint string
	period   time.Duration
	log      *logger.Logger

	mu        sync.Mutex
	delivered map[domain.Handle]bool
}

var _ Source = (*HTTPBeacon)(nil)

// NewHTTPBeacon constructs a beacon client for the given endpoint, e.g.
// https://api.drand.sh. period is the beacon's round interval.
func NewHTTPBeacon(client *http.Client, endpoint string, period time.Duration, log *logger.Logger) (*HTTPBeacon, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("beacon endpoint required")
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if period <= 0 {
		period = 30 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("entropy-http")
	}
	return &HTTPBeacon{
		client:    client,
		endpoint:  endpoint,
		period:    period,
		log:       log,
		delivered: make(map[domain.Handle]bool),
	}, nil
}

// Request pins the first beacon round that is strictly in the future, so the
// seed cannot have been observable before the request was made.
func (b *HTTPBeacon) Request(ctx context.Context) (domain.Handle, error) {
	raw, err := b.fetch(ctx, b.endpoint+"/public/latest")
	if err != nil {
		return "", err
	}
	round := gjson.GetBytes(raw, "round").Uint()
	if round == 0 {
		return "", fmt.Errorf("beacon response missing round")
	}
	handle := domain.Handle(strconv.FormatUint(round+1, 10))
	b.log.Debugf("pinned beacon round %s", handle)
	return handle, nil
}

// Poll fetches the pinned round. Not-ready until the beacon has published
// it; the delivering poll consumes the handle.
func (b *HTTPBeacon) Poll(ctx context.Context, h domain.Handle) (domain.Seed, bool, error) {
	b.mu.Lock()
	if b.delivered[h] {
		b.mu.Unlock()
		return domain.Zero, false, fmt.Errorf("handle %s already consumed", h)
	}
	b.mu.Unlock()

	raw, err := b.fetch(ctx, b.endpoint+"/public/"+string(h))
	if err != nil {
		// The round is published only once its time arrives; treat fetch
		// failures as not-ready and let the caller retry.
		b.log.WithError(err).Debug("beacon round not yet available")
		return domain.Zero, false, nil
	}

	randomness := gjson.GetBytes(raw, "randomness").String()
	if randomness == "" {
		return domain.Zero, false, nil
	}
	seed, err := domain.SeedFromHex(randomness)
	if err != nil {
		return domain.Zero, false, fmt.Errorf("parse beacon randomness: %w", err)
	}

	b.mu.Lock()
	b.delivered[h] = true
	b.mu.Unlock()
	return seed, true, nil
}

func (b *HTTPBeacon) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build beacon request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("beacon request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("beacon status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read beacon response: %w", err)
	}
	return raw, nil
}
