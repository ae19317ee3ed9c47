// Package httpapi exposes the settlement engine over a small JSON REST
// surface. Routing stays on net/http's ServeMux; precondition failures map
// to 409, validation failures to 400 and unknown resources to 404.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	app "github.com/PurgeGame/settlement_layer/internal/app"
	bondsvc "github.com/PurgeGame/settlement_layer/internal/app/services/bond"
	leaderboardsvc "github.com/PurgeGame/settlement_layer/internal/app/services/leaderboard"
	treasurysvc "github.com/PurgeGame/settlement_layer/internal/app/services/treasury"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app         *app.Application
	maintenance *rate.Limiter
	audit       *auditLog
}

// NewHandler returns a mux exposing the settlement REST API.
func NewHandler(application *app.Application) http.Handler {
	return newHandler(application, nil)
}

// NewHandlerWithAudit additionally appends mutating requests to a JSONL
// audit file when auditPath is non-empty. A path that cannot be opened is
// an error; a silently missing audit trail defeats the point of one.
func NewHandlerWithAudit(application *app.Application, auditPath string) (http.Handler, error) {
	sink, err := newFileAuditSink(auditPath)
	if err != nil {
		return nil, fmt.Errorf("open audit log %s: %w", auditPath, err)
	}
	return newHandler(application, sink), nil
}

func newHandler(application *app.Application, sink auditSink) http.Handler {
	h := &handler{
		app: application,
		// Maintenance kicks are cheap but each spends an entropy request;
		// one per second with a small burst is plenty.
		maintenance: rate.NewLimiter(rate.Limit(1), 3),
		audit:       newAuditLog(200, sink),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/deposits", h.deposits)
	mux.HandleFunc("/burns", h.burns)
	mux.HandleFunc("/claims", h.claims)
	mux.HandleFunc("/maintenance", h.runMaintenance)
	mux.HandleFunc("/level", h.level)
	mux.HandleFunc("/series", h.listSeries)
	mux.HandleFunc("/series/", h.seriesByKey)
	mux.HandleFunc("/cover/next", h.coverNext)
	mux.HandleFunc("/leaderboard/", h.leaderboard)
	mux.HandleFunc("/audit", h.auditEntries)
	mux.HandleFunc("/healthz", h.healthz)
	return h.withAudit(mux)
}

func (h *handler) deposits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Beneficiary string `json:"beneficiary"`
		Amount      uint64 `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	receipt, err := h.app.Bond.Deposit(r.Context(), payload.Beneficiary, payload.Amount)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (h *handler) burns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Participant string `json:"participant"`
		MaturityKey uint64 `json:"maturity_key"`
		Amount      uint64 `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	receipt, err := h.app.Bond.Burn(r.Context(), payload.Participant, payload.MaturityKey, payload.Amount)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (h *handler) claims(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		MaturityKey uint64 `json:"maturity_key"`
		Participant string `json:"participant"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	paid, err := h.app.Bond.Claim(r.Context(), payload.MaturityKey, payload.Participant)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"paid": paid})
}

func (h *handler) runMaintenance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.maintenance.Allow() {
		writeError(w, http.StatusTooManyRequests, errors.New("maintenance rate limit exceeded"))
		return
	}
	h.app.Driver.Kick()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func (h *handler) level(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var payload struct {
			Level uint64 `json:"level"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]uint64{"level": h.app.Clock.Advance(payload.Level)})

	case http.MethodGet:
		level, err := h.app.Clock.CurrentLevel(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]uint64{"level": level})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) listSeries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	summaries, err := h.app.Bond.ListSeries(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (h *handler) seriesByKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/series"), "/")
	key, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("maturity key must be numeric"))
		return
	}

	series, err := h.app.Bond.Series(r.Context(), key)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (h *handler) coverNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cover, err := h.app.Bond.RequiredCoverNext(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, cover)
}

func (h *handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/leaderboard"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch parts[0] {
	case "entries":
		h.leaderboardEntries(w, r)
	case "resolve":
		h.leaderboardResolve(w, r)
	case "claims":
		h.leaderboardClaims(w, r)
	case "rounds":
		h.leaderboardRounds(w, r, parts[1:])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) leaderboardEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Participant string `json:"participant"`
		Denominator uint64 `json:"denominator"`
		Amount      uint64 `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	entry, err := h.app.Leaderboard.Enter(r.Context(), payload.Participant, payload.Denominator, payload.Amount)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *handler) leaderboardResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Pool uint64 `json:"pool"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	round, done, err := h.app.ResolveLeaderboard(r.Context(), payload.Pool)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if !done {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
		return
	}
	writeJSON(w, http.StatusOK, round)
}

func (h *handler) leaderboardClaims(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Level       uint64 `json:"level"`
		Participant string `json:"participant"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	paid, err := h.app.Leaderboard.Claim(r.Context(), payload.Level, payload.Participant)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"paid": paid})
}

func (h *handler) leaderboardRounds(w http.ResponseWriter, r *http.Request, rest []string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if len(rest) == 0 || rest[0] == "" {
		rounds, err := h.app.Leaderboard.ListRounds(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, rounds)
		return
	}

	level, err := strconv.ParseUint(rest[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("round level must be numeric"))
		return
	}
	round, err := h.app.Leaderboard.Round(r.Context(), level)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

func (h *handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps service errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, bondsvc.ErrInvalidAmount),
		errors.Is(err, bondsvc.ErrInvalidParticipant),
		errors.Is(err, bondsvc.ErrInvalidMaturity),
		errors.Is(err, leaderboardsvc.ErrInvalidDenominator),
		errors.Is(err, leaderboardsvc.ErrInvalidAmount),
		errors.Is(err, leaderboardsvc.ErrInvalidParticipant):
		return http.StatusBadRequest
	case errors.Is(err, bondsvc.ErrSeriesNotFound),
		errors.Is(err, leaderboardsvc.ErrRoundNotFound):
		return http.StatusNotFound
	case errors.Is(err, bondsvc.ErrSeriesNotResolved),
		errors.Is(err, bondsvc.ErrNoEligibleSeries),
		errors.Is(err, leaderboardsvc.ErrRoundResolved),
		errors.Is(err, leaderboardsvc.ErrRoundNotResolved),
		errors.Is(err, leaderboardsvc.ErrDenominatorLocked),
		errors.Is(err, leaderboardsvc.ErrAlreadyClaimed),
		errors.Is(err, leaderboardsvc.ErrNotAWinner),
		errors.Is(err, leaderboardsvc.ErrEntropyNotReady),
		errors.Is(err, treasurysvc.ErrInsufficientFunds),
		errors.Is(err, treasurysvc.ErrInsufficientBalance):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
