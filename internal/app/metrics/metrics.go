package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "settlement_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "settlement_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	deposits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "settlement_layer",
			Subsystem: "bond",
			Name:      "deposits_total",
			Help:      "Total number of accepted bond deposits.",
		},
	)

	depositVolume = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "settlement_layer",
			Subsystem: "bond",
			Name:      "deposit_volume_total",
			Help:      "Cumulative deposited amount in base units.",
		},
	)

	burns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement_layer",
			Subsystem: "bond",
			Name:      "burns_total",
			Help:      "Total number of accepted claim-token burns.",
		},
		[]string{"lane"},
	)

	emissionRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "settlement_layer",
			Subsystem: "bond",
			Name:      "emission_runs_total",
			Help:      "Total number of completed emission runs.",
		},
	)

	resolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "settlement_layer",
			Subsystem: "bond",
			Name:      "resolutions_total",
			Help:      "Total number of resolved series.",
		},
		[]string{"lane"},
	)

	claims = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "settlement_layer",
			Subsystem: "bond",
			Name:      "claims_total",
			Help:      "Total number of paid pull claims.",
		},
	)

	claimVolume = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "settlement_layer",
			Subsystem: "bond",
			Name:      "claim_volume_total",
			Help:      "Cumulative claimed amount in base units.",
		},
	)

	maintenanceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "settlement_layer",
			Subsystem: "bond",
			Name:      "maintenance_duration_seconds",
			Help:      "Duration of maintenance passes.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"advanced"},
	)

	treasuryBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "settlement_layer",
			Subsystem: "treasury",
			Name:      "available_funds",
			Help:      "Current balance of the shared funds pool in base units.",
		},
	)

	claimSupply = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "settlement_layer",
			Subsystem: "treasury",
			Name:      "claim_token_supply",
			Help:      "Outstanding claim-token supply per variant.",
		},
		[]string{"variant"},
	)

	leaderboardEntries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "settlement_layer",
			Subsystem: "leaderboard",
			Name:      "entries_total",
			Help:      "Total number of leaderboard entries recorded.",
		},
	)

	leaderboardResolutions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "settlement_layer",
			Subsystem: "leaderboard",
			Name:      "rounds_resolved_total",
			Help:      "Total number of resolved leaderboard rounds.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		deposits,
		depositVolume,
		burns,
		emissionRuns,
		resolutions,
		claims,
		claimVolume,
		maintenanceDuration,
		treasuryBalance,
		claimSupply,
		leaderboardEntries,
		leaderboardResolutions,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordDeposit records an accepted bond deposit.
func RecordDeposit(amount uint64) {
	deposits.Inc()
	depositVolume.Add(float64(amount))
}

// RecordBurn records an accepted claim-token burn into a lane.
func RecordBurn(lane int) {
	burns.WithLabelValues(strconv.Itoa(lane)).Inc()
}

// RecordEmissionRun records one completed emission run.
func RecordEmissionRun() {
	emissionRuns.Inc()
}

// RecordResolution records a resolved series and its winning lane.
func RecordResolution(lane int) {
	resolutions.WithLabelValues(strconv.Itoa(lane)).Inc()
}

// RecordClaim records a paid pull claim.
func RecordClaim(amount uint64) {
	claims.Inc()
	claimVolume.Add(float64(amount))
}

// RecordMaintenance records one maintenance pass.
func RecordMaintenance(duration time.Duration, advanced bool) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	maintenanceDuration.WithLabelValues(strconv.FormatBool(advanced)).Observe(duration.Seconds())
}

// SetTreasuryBalance publishes the funds pool balance.
func SetTreasuryBalance(amount uint64) {
	treasuryBalance.Set(float64(amount))
}

// SetClaimSupply publishes the outstanding supply of one claim-token variant.
func SetClaimSupply(variant int, total uint64) {
	claimSupply.WithLabelValues(strconv.Itoa(variant)).Set(float64(total))
}

// RecordLeaderboardEntry records one leaderboard burn entry.
func RecordLeaderboardEntry() {
	leaderboardEntries.Inc()
}

// RecordLeaderboardResolution records one resolved leaderboard round.
func RecordLeaderboardResolution() {
	leaderboardResolutions.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "series":
		if len(parts) == 1 {
			return "/series"
		}
		return "/series/:key"
	case "leaderboard":
		if len(parts) == 1 {
			return "/leaderboard"
		}
		return "/leaderboard/:level"
	default:
		return "/" + parts[0]
	}
}
