package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	app "github.com/PurgeGame/settlement_layer/internal/app"
	bondsvc "github.com/PurgeGame/settlement_layer/internal/app/services/bond"
	"github.com/PurgeGame/settlement_layer/pkg/logger"
)

func newTestHandler(t *testing.T) (*app.Application, http.Handler) {
	t.Helper()
	application, err := app.New(app.Options{
		Engine:            bondsvc.DefaultConfig(),
		MaintenanceBudget: 8,
	}, app.Stores{}, logger.NewNop())
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	return application, NewHandler(application)
}

func doJSON(t *testing.T, h http.Handler, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestDepositEndpoint(t *testing.T) {
	_, h := newTestHandler(t)

	rec := doJSON(t, h, http.MethodPost, "/deposits", map[string]interface{}{
		"beneficiary": "alice",
		"amount":      1000,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var receipt struct {
		MaturityKey uint64 `json:"maturity_key"`
		Score       uint64 `json:"score"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &receipt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if receipt.MaturityKey != 5 || receipt.Score != 1000 {
		t.Fatalf("receipt = %+v", receipt)
	}

	rec = doJSON(t, h, http.MethodPost, "/deposits", map[string]interface{}{
		"beneficiary": "",
		"amount":      100,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty beneficiary status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/deposits", map[string]interface{}{
		"beneficiary": "alice",
		"amount":      100,
		"bogus":       true,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/deposits", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d", rec.Code)
	}
}

func TestSeriesEndpoints(t *testing.T) {
	_, h := newTestHandler(t)

	rec := doJSON(t, h, http.MethodPost, "/deposits", map[string]interface{}{
		"beneficiary": "alice",
		"amount":      1000,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("deposit status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/series", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var summaries []struct {
		MaturityKey uint64 `json:"maturity_key"`
		Raised      uint64 `json:"raised"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &summaries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(summaries) != 1 || summaries[0].MaturityKey != 5 || summaries[0].Raised != 1000 {
		t.Fatalf("summaries = %+v", summaries)
	}

	rec = doJSON(t, h, http.MethodGet, "/series/5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("series status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/series/999", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown series status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/series/abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("non-numeric key status = %d", rec.Code)
	}
}

func TestBurnEndpoint(t *testing.T) {
	application, h := newTestHandler(t)
	ctx := context.Background()

	// No claim tokens yet: the burn is rejected as a precondition failure.
	rec := doJSON(t, h, http.MethodPost, "/burns", map[string]interface{}{
		"participant":  "bob",
		"maturity_key": 5,
		"amount":       100,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("uncovered burn status = %d: %s", rec.Code, rec.Body.String())
	}

	if err := application.Treasury.Token(1).Mint(ctx, "bob", 500); err != nil {
		t.Fatalf("mint: %v", err)
	}
	rec = doJSON(t, h, http.MethodPost, "/burns", map[string]interface{}{
		"participant":  "bob",
		"maturity_key": 5,
		"amount":       100,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("burn status = %d: %s", rec.Code, rec.Body.String())
	}
	var receipt struct {
		MaturityKey uint64 `json:"maturity_key"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &receipt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if receipt.MaturityKey != 5 {
		t.Fatalf("receipt = %+v", receipt)
	}
}

func TestClaimEndpoint(t *testing.T) {
	_, h := newTestHandler(t)

	rec := doJSON(t, h, http.MethodPost, "/claims", map[string]interface{}{
		"maturity_key": 999,
		"participant":  "alice",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown series claim status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/deposits", map[string]interface{}{
		"beneficiary": "alice",
		"amount":      1000,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("deposit status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/claims", map[string]interface{}{
		"maturity_key": 5,
		"participant":  "alice",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("unresolved claim status = %d", rec.Code)
	}
}

func TestLevelEndpoint(t *testing.T) {
	_, h := newTestHandler(t)

	rec := doJSON(t, h, http.MethodGet, "/level", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var level struct {
		Level uint64 `json:"level"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &level); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if level.Level != 0 {
		t.Fatalf("level = %d", level.Level)
	}

	rec = doJSON(t, h, http.MethodPost, "/level", map[string]interface{}{"level": 9})
	if rec.Code != http.StatusOK {
		t.Fatalf("advance status = %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &level); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if level.Level != 9 {
		t.Fatalf("advanced level = %d", level.Level)
	}
}

func TestCoverNextEndpoint(t *testing.T) {
	_, h := newTestHandler(t)

	rec := doJSON(t, h, http.MethodPost, "/deposits", map[string]interface{}{
		"beneficiary": "alice",
		"amount":      1000,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("deposit status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/cover/next", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cover status = %d", rec.Code)
	}
	var cover struct {
		MaturityKey   uint64 `json:"maturity_key"`
		RequiredCover uint64 `json:"required_cover"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &cover); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cover.MaturityKey != 5 || cover.RequiredCover != 1000 {
		t.Fatalf("cover = %+v", cover)
	}
}

func TestMaintenanceEndpointRateLimited(t *testing.T) {
	_, h := newTestHandler(t)

	// Burst of three is allowed, the fourth is throttled.
	for i := 0; i < 3; i++ {
		rec := doJSON(t, h, http.MethodPost, "/maintenance", nil)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("kick %d status = %d", i, rec.Code)
		}
	}
	rec := doJSON(t, h, http.MethodPost, "/maintenance", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("throttled status = %d", rec.Code)
	}
}

func TestLeaderboardEndpoints(t *testing.T) {
	_, h := newTestHandler(t)

	rec := doJSON(t, h, http.MethodPost, "/leaderboard/entries", map[string]interface{}{
		"participant": "alice",
		"denominator": 4,
		"amount":      100,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("entry status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/leaderboard/entries", map[string]interface{}{
		"participant": "alice",
		"denominator": 1,
		"amount":      100,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad denominator status = %d", rec.Code)
	}

	// The local beacon has no delay: the first resolve pins the request, the
	// second delivers the seed and settles the round.
	rec = doJSON(t, h, http.MethodPost, "/leaderboard/resolve", map[string]interface{}{"pool": 1000})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("pending resolve status = %d: %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, h, http.MethodPost, "/leaderboard/resolve", map[string]interface{}{"pool": 1000})
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve status = %d: %s", rec.Code, rec.Body.String())
	}
	var round struct {
		Level    uint64 `json:"level"`
		Resolved bool   `json:"resolved"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &round); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !round.Resolved {
		t.Fatalf("round = %+v", round)
	}

	rec = doJSON(t, h, http.MethodGet, "/leaderboard/rounds", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("rounds status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/leaderboard/rounds/0", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("round status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/leaderboard/rounds/99", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown round status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/leaderboard/claims", map[string]interface{}{
		"level":       0,
		"participant": "stranger",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("stranger claim status = %d", rec.Code)
	}
}

func TestAuditTrail(t *testing.T) {
	_, h := newTestHandler(t)

	rec := doJSON(t, h, http.MethodPost, "/deposits", map[string]interface{}{
		"beneficiary": "alice",
		"amount":      100,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("deposit status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/audit", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit status = %d", rec.Code)
	}
	var entries []struct {
		Path   string `json:"path"`
		Method string `json:"method"`
		Status int    `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 || entries[0].Path != "/deposits" || entries[0].Status != http.StatusCreated {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestAuditFileSink(t *testing.T) {
	application, _ := newTestHandler(t)

	path := filepath.Join(t.TempDir(), "audit.jsonl")
	h, err := NewHandlerWithAudit(application, path)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	rec := doJSON(t, h, http.MethodPost, "/deposits", map[string]interface{}{
		"beneficiary": "alice",
		"amount":      100,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("deposit status = %d", rec.Code)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	var entry struct {
		Path   string `json:"path"`
		Method string `json:"method"`
		Status int    `json:"status"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(raw), &entry); err != nil {
		t.Fatalf("decode audit line: %v", err)
	}
	if entry.Path != "/deposits" || entry.Method != http.MethodPost || entry.Status != http.StatusCreated {
		t.Fatalf("entry = %+v", entry)
	}

	// An unopenable audit path is a configuration error, not a silent no-op.
	_, err = NewHandlerWithAudit(application, filepath.Join(t.TempDir(), "missing", "audit.jsonl"))
	if err == nil {
		t.Fatal("expected error for unopenable audit path")
	}
}

func TestHealthz(t *testing.T) {
	_, h := newTestHandler(t)
	rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
}
