package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	_ "github.com/lib/pq"

	"github.com/PurgeGame/settlement_layer/internal/app/domain/bond"
	"github.com/PurgeGame/settlement_layer/internal/app/storage"
)

func TestUpsertSeriesSQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO bond_series").
		WithArgs(int64(15), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := New(db)
	series := bond.NewSeries(15, 10, true)
	if err := store.UpsertSeries(context.Background(), series); err != nil {
		t.Fatalf("upsert series: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLoadLedgerStateEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT active_index").WillReturnError(sql.ErrNoRows)

	store := New(db)
	_, ok, err := store.LoadLedgerState(context.Background())
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if ok {
		t.Fatal("expected no persisted state")
	}
}

func TestLoadLedgerState(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"active_index", "prev_raise", "resolved_unclaimed", "first_maturity_key", "updated_at"}).
		AddRow(int64(2), int64(1000), int64(250), int64(15), time.Now().UTC())
	mock.ExpectQuery("SELECT active_index").WillReturnRows(rows)

	store := New(db)
	state, ok, err := store.LoadLedgerState(context.Background())
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if !ok {
		t.Fatal("expected persisted state")
	}
	if state.ActiveIndex != 2 || state.PrevRaise != 1000 || state.ResolvedUnclaimed != 250 || state.FirstMaturityKey != 15 {
		t.Fatalf("unexpected state: %+v", state)
	}
}

func TestSaveDrawSQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO bond_draws").
		WithArgs(sqlmock.AnyArg(), int64(15), 0, 1, "alice", int64(200), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := New(db)
	draw, err := store.SaveDraw(context.Background(), storage.DrawRecord{
		MaturityKey: 15, DrawIndex: 0, Lane: 1, Winner: "alice", Amount: 200,
	})
	if err != nil {
		t.Fatalf("save draw: %v", err)
	}
	if draw.ID == "" || draw.CreatedAt.IsZero() {
		t.Fatalf("draw not stamped: %+v", draw)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := New(db)
	ctx := context.Background()

	series := bond.NewSeries(15, 10, true)
	series.Raised = 1000
	series.PayoutBudget = 1000
	series.Score.Append("alice", 1000)
	if err := store.UpsertSeries(ctx, series); err != nil {
		t.Fatalf("upsert series: %v", err)
	}

	got, err := store.GetSeries(ctx, 15)
	if err != nil {
		t.Fatalf("get series: %v", err)
	}
	if got.Raised != 1000 || got.Score.Total() != 1000 {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	state := storage.LedgerState{ActiveIndex: 1, PrevRaise: 1000, FirstMaturityKey: 15}
	if err := store.SaveLedgerState(ctx, state); err != nil {
		t.Fatalf("save state: %v", err)
	}
	loaded, ok, err := store.LoadLedgerState(ctx)
	if err != nil || !ok {
		t.Fatalf("load state: ok=%v err=%v", ok, err)
	}
	if loaded.PrevRaise != 1000 {
		t.Fatalf("unexpected prev raise %d", loaded.PrevRaise)
	}

	if _, err := store.SaveClaim(ctx, storage.ClaimRecord{MaturityKey: 15, Participant: "alice", Amount: 40}); err != nil {
		t.Fatalf("save claim: %v", err)
	}
	claims, err := store.ListClaims(ctx, 15)
	if err != nil {
		t.Fatalf("list claims: %v", err)
	}
	if len(claims) == 0 {
		t.Fatal("expected at least one claim")
	}

	if _, err := store.SaveDraw(ctx, storage.DrawRecord{MaturityKey: 15, DrawIndex: 0, Lane: 1, Winner: "alice", Amount: 40}); err != nil {
		t.Fatalf("save draw: %v", err)
	}
	draws, err := store.ListDraws(ctx, 15)
	if err != nil {
		t.Fatalf("list draws: %v", err)
	}
	if len(draws) == 0 {
		t.Fatal("expected at least one draw")
	}
}
