package scd

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eeca-nz/evroam-ingest/internal/canonical"
	"github.com/eeca-nz/evroam-ingest/internal/entity"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

var siteDef = entity.Definition{
	Tag:             "sites",
	Label:           "Sites",
	Table:           "evroam_sites",
	SurrogateColumn: "surrogate_key",
	NaturalKey:      []string{"SiteId"},
	KeyFields:       []string{"SiteId"},
	Fields: []entity.FieldSpec{
		{Name: "SiteId", Column: "site_id", Type: entity.FieldText, Required: true},
		{Name: "Name", Column: "name", Type: entity.FieldText, Required: true},
		{Name: "Address", Column: "address", Type: entity.FieldText, Required: true},
		{Name: "Operator", Column: "operator", Type: entity.FieldText},
	},
}

func testRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

// newTestEngine wraps the store in an engine with a fast retry policy
// and a stepping clock so effective timestamps are strictly increasing
// and predictable.
func newTestEngine(store Store) *Engine {
	e := NewEngine(store, testRetryPolicy())
	t := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time {
		t = t.Add(time.Second)
		return t
	}
	return e
}

func siteRecord(id, name, address string) canonical.Record {
	return canonical.Record{"SiteId": id, "Name": name, "Address": address}
}

func TestUpsertIdempotence(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store)
	batch := uuid.New()
	rec := siteRecord("S1", "Park A", "1 Main St")

	first, err := e.Upsert(context.Background(), siteDef, rec, batch)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if first.Outcome != OutcomeInserted {
		t.Errorf("first outcome = %s, want inserted", first.Outcome)
	}

	second, err := e.Upsert(context.Background(), siteDef, rec, batch)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.Outcome != OutcomeUnchanged {
		t.Errorf("second outcome = %s, want unchanged", second.Outcome)
	}
	if second.SurrogateKey != first.SurrogateKey {
		t.Errorf("surrogate keys differ: %d vs %d", first.SurrogateKey, second.SurrogateKey)
	}

	rows := store.rows(siteDef)
	if len(rows) != 1 {
		t.Fatalf("expected exactly 1 history row, got %d", len(rows))
	}
	if !rows[0].isCurrent || rows[0].effectiveTo != nil {
		t.Error("single row should be current with open validity")
	}
}

func TestUpsertHistoryChain(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store)
	batch := uuid.New()

	versions := []canonical.Record{
		siteRecord("S1", "Park A", "1 Main St"),
		siteRecord("S1", "Park A+", "1 Main St"),
		siteRecord("S1", "Park A+", "2 Main St"),
	}
	for i, rec := range versions {
		if _, err := e.Upsert(context.Background(), siteDef, rec, batch); err != nil {
			t.Fatalf("version %d: %v", i, err)
		}
	}

	rows := store.rows(siteDef)
	if len(rows) != 3 {
		t.Fatalf("expected 3 history rows, got %d", len(rows))
	}

	currentCount := 0
	for _, row := range rows {
		if row.isCurrent {
			currentCount++
		}
	}
	if currentCount != 1 {
		t.Fatalf("expected exactly 1 current row, got %d", currentCount)
	}

	// Each closed row's effective_to equals its successor's effective_from.
	for i := 0; i < len(rows)-1; i++ {
		if rows[i].effectiveTo == nil {
			t.Fatalf("row %d should be closed", i)
		}
		if !rows[i].effectiveTo.Equal(rows[i+1].meta.EffectiveFrom) {
			t.Errorf("row %d effective_to %v != row %d effective_from %v",
				i, rows[i].effectiveTo, i+1, rows[i+1].meta.EffectiveFrom)
		}
	}

	// DML types: first version is an insert, successors are updates.
	if rows[0].meta.DMLType != 'I' {
		t.Errorf("first row dml_type = %c, want I", rows[0].meta.DMLType)
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].meta.DMLType != 'U' {
			t.Errorf("row %d dml_type = %c, want U", i, rows[i].meta.DMLType)
		}
	}
}

func TestUpsertScenario(t *testing.T) {
	// The concrete scenario: two identical upserts leave one open row,
	// a third with changed content closes it and opens a successor.
	store := newMemStore()
	e := newTestEngine(store)
	batch := uuid.New()

	rec := siteRecord("S1", "Park A", "1 Main St")
	for i := 0; i < 2; i++ {
		if _, err := e.Upsert(context.Background(), siteDef, rec, batch); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}
	if rows := store.rows(siteDef); len(rows) != 1 {
		t.Fatalf("after 2 identical upserts: %d rows, want 1", len(rows))
	}

	changed := siteRecord("S1", "Park A+", "1 Main St")
	res, err := e.Upsert(context.Background(), siteDef, changed, batch)
	if err != nil {
		t.Fatalf("changed upsert: %v", err)
	}
	if res.Outcome != OutcomeUpdated {
		t.Errorf("outcome = %s, want updated", res.Outcome)
	}

	rows := store.rows(siteDef)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].isCurrent || rows[0].effectiveTo == nil {
		t.Error("original row should be closed")
	}
	if !rows[1].isCurrent || rows[1].effectiveTo != nil {
		t.Error("successor row should be current and open")
	}
}

func TestUpsertRequiredFieldRejection(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store)

	rec := canonical.Record{"Name": "Park A", "Address": "1 Main St"} // no SiteId
	_, err := e.Upsert(context.Background(), siteDef, rec, uuid.New())

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Missing) != 1 || ve.Missing[0] != "SiteId" {
		t.Errorf("missing = %v, want [SiteId]", ve.Missing)
	}
	if rows := store.rows(siteDef); len(rows) != 0 {
		t.Errorf("invalid record reached the store: %d rows", len(rows))
	}
}

func TestUpsertBatchIndependentFailures(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store)

	records := []canonical.Record{
		siteRecord("S1", "Park A", "1 Main St"),
		{"Name": "No Key", "Address": "nowhere"},
		siteRecord("S2", "Park B", "2 Main St"),
	}

	report, err := e.UpsertBatch(context.Background(), siteDef, records, uuid.New())
	if err != nil {
		t.Fatalf("batch error: %v", err)
	}
	if report.Inserted != 2 {
		t.Errorf("inserted = %d, want 2", report.Inserted)
	}
	if report.Failed() != 1 {
		t.Fatalf("failed = %d, want 1", report.Failed())
	}
	if report.Failures[0].Index != 1 {
		t.Errorf("failure index = %d, want 1", report.Failures[0].Index)
	}
	if rows := store.rows(siteDef); len(rows) != 2 {
		t.Errorf("store rows = %d, want 2", len(rows))
	}
}

func TestUpsertTransientRetry(t *testing.T) {
	store := newMemStore()
	store.failNext = 2
	store.failWith = &pgconn.PgError{Code: "40P01"} // deadlock, transient

	e := newTestEngine(store)
	res, err := e.Upsert(context.Background(), siteDef, siteRecord("S1", "Park A", "1 Main St"), uuid.New())
	if err != nil {
		t.Fatalf("upsert should succeed after retries: %v", err)
	}
	if res.Outcome != OutcomeInserted {
		t.Errorf("outcome = %s, want inserted", res.Outcome)
	}
}

func TestUpsertTransientExhaustion(t *testing.T) {
	store := newMemStore()
	store.failNext = 10
	store.failWith = &pgconn.PgError{Code: "40001"}

	e := newTestEngine(store)
	_, err := e.Upsert(context.Background(), siteDef, siteRecord("S1", "Park A", "1 Main St"), uuid.New())

	var te *TransientError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransientError, got %v", err)
	}
	if te.Attempts != testRetryPolicy().MaxAttempts {
		t.Errorf("attempts = %d, want %d", te.Attempts, testRetryPolicy().MaxAttempts)
	}
}

func TestUpsertBatchEscalatesConnectivityExhaustion(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store)

	// First record lands, then the store becomes unreachable.
	records := []canonical.Record{
		siteRecord("S1", "Park A", "1 Main St"),
		siteRecord("S2", "Park B", "2 Main St"),
		siteRecord("S3", "Park C", "3 Main St"),
	}

	first, err := e.UpsertBatch(context.Background(), siteDef, records[:1], uuid.New())
	if err != nil || first.Inserted != 1 {
		t.Fatalf("priming upsert failed: %v", err)
	}

	store.failNext = 100
	store.failWith = &pgconn.PgError{Code: "08006"} // connection_failure

	report, err := e.UpsertBatch(context.Background(), siteDef, records[1:], uuid.New())
	var te *TransientError
	if !errors.As(err, &te) {
		t.Fatalf("expected batch-level TransientError, got %v", err)
	}
	if report.Failed() != 1 {
		t.Errorf("failed = %d, want 1 (batch stops at first exhaustion)", report.Failed())
	}
}

func TestUpsertNonTransientNotRetried(t *testing.T) {
	store := newMemStore()
	store.failNext = 1
	store.failWith = &pgconn.PgError{Code: "42703"} // undefined_column

	e := newTestEngine(store)
	_, err := e.Upsert(context.Background(), siteDef, siteRecord("S1", "Park A", "1 Main St"), uuid.New())
	if err == nil {
		t.Fatal("expected error")
	}
	var te *TransientError
	if errors.As(err, &te) {
		t.Error("non-transient error should not be wrapped as transient")
	}
	// Only one transaction was attempted; the failure budget is spent.
	if store.failNext != 0 {
		t.Errorf("failNext = %d, want 0", store.failNext)
	}
}

func TestUpsertInvariantViolationPersists(t *testing.T) {
	store := newMemStore()
	store.failNext = 10
	store.failWith = &pgconn.PgError{
		Code:           "23505",
		ConstraintName: "evroam_sites_current_key",
	}

	e := newTestEngine(store)
	_, err := e.Upsert(context.Background(), siteDef, siteRecord("S1", "Park A", "1 Main St"), uuid.New())

	var iv *InvariantViolationError
	if !errors.As(err, &iv) {
		t.Fatalf("expected InvariantViolationError, got %v", err)
	}
	if iv.Entity != "sites" || iv.Key != "S1" {
		t.Errorf("violation entity=%q key=%q", iv.Entity, iv.Key)
	}
	var te *TransientError
	if errors.As(err, &te) {
		t.Error("persistent constraint conflict should not surface as transient")
	}
	// All attempts were spent before giving up.
	if store.failNext != 10-testRetryPolicy().MaxAttempts {
		t.Errorf("failNext = %d, want %d", store.failNext, 10-testRetryPolicy().MaxAttempts)
	}
}

func TestUpsertInvariantViolationRecoversOnRetry(t *testing.T) {
	store := newMemStore()
	store.failNext = 1
	store.failWith = &pgconn.PgError{
		Code:           "23505",
		ConstraintName: "evroam_sites_current_key",
	}

	e := newTestEngine(store)
	res, err := e.Upsert(context.Background(), siteDef, siteRecord("S1", "Park A", "1 Main St"), uuid.New())
	if err != nil {
		t.Fatalf("single constraint conflict should be retried away: %v", err)
	}
	if res.Outcome != OutcomeInserted {
		t.Errorf("outcome = %s, want inserted", res.Outcome)
	}
}

// staleSnapshotStore emulates the read-committed insert race: the losing
// writer's transaction observes no current row, its insert trips the
// current-row index, and only a rerun on a fresh snapshot sees the
// winner's row.
type staleSnapshotStore struct {
	*memStore
	stale int // transactions served the stale empty view before delegating
}

func (s *staleSnapshotStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if s.stale > 0 {
		s.stale--
		return fn(staleTx{})
	}
	return s.memStore.InTx(ctx, fn)
}

type staleTx struct{}

func (staleTx) LockCurrent(context.Context, entity.Definition, map[string]string) (*CurrentRow, error) {
	return nil, nil
}

func (staleTx) CloseRow(context.Context, entity.Definition, int64, time.Time) error { return nil }

func (staleTx) InsertRow(_ context.Context, def entity.Definition, _ canonical.Record, _ RowMeta) (int64, error) {
	return 0, &pgconn.PgError{Code: "23505", ConstraintName: def.Table + "_current_key"}
}

func TestUpsertInsertRaceNoOpsOnWinnerContent(t *testing.T) {
	mem := newMemStore()
	batch := uuid.New()
	rec := siteRecord("S1", "Park A", "1 Main St")

	// The winning writer has already committed.
	if _, err := newTestEngine(mem).Upsert(context.Background(), siteDef, rec, batch); err != nil {
		t.Fatalf("winner upsert: %v", err)
	}

	e := newTestEngine(&staleSnapshotStore{memStore: mem, stale: 1})
	res, err := e.Upsert(context.Background(), siteDef, rec, batch)
	if err != nil {
		t.Fatalf("losing writer should recover on retry: %v", err)
	}
	if res.Outcome != OutcomeUnchanged {
		t.Errorf("outcome = %s, want unchanged", res.Outcome)
	}
	if current := mem.currentRows(siteDef, map[string]string{"SiteId": "S1"}); len(current) != 1 {
		t.Fatalf("current rows = %d, want exactly 1", len(current))
	}
}

func TestUpsertInsertRaceChainsChangedContent(t *testing.T) {
	mem := newMemStore()
	batch := uuid.New()

	if _, err := newTestEngine(mem).Upsert(context.Background(), siteDef, siteRecord("S1", "Park A", "1 Main St"), batch); err != nil {
		t.Fatalf("winner upsert: %v", err)
	}

	e := newTestEngine(&staleSnapshotStore{memStore: mem, stale: 1})
	res, err := e.Upsert(context.Background(), siteDef, siteRecord("S1", "Park A+", "1 Main St"), batch)
	if err != nil {
		t.Fatalf("losing writer should recover on retry: %v", err)
	}
	if res.Outcome != OutcomeUpdated {
		t.Errorf("outcome = %s, want updated", res.Outcome)
	}

	rows := mem.rows(siteDef)
	if len(rows) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(rows))
	}
	if rows[0].isCurrent || rows[0].effectiveTo == nil {
		t.Error("winner's row should be closed")
	}
	if !rows[1].isCurrent {
		t.Error("loser's successor row should be current")
	}
}

func TestUpsertInsertRacePersistsAsInvariantViolation(t *testing.T) {
	mem := newMemStore()
	if _, err := newTestEngine(mem).Upsert(context.Background(), siteDef, siteRecord("S1", "Park A", "1 Main St"), uuid.New()); err != nil {
		t.Fatalf("winner upsert: %v", err)
	}

	e := newTestEngine(&staleSnapshotStore{memStore: mem, stale: 10})
	_, err := e.Upsert(context.Background(), siteDef, siteRecord("S1", "Park A+", "1 Main St"), uuid.New())

	var iv *InvariantViolationError
	if !errors.As(err, &iv) {
		t.Fatalf("expected InvariantViolationError, got %v", err)
	}
}

func TestConcurrentWritersSameKey(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(store)
	batch := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			rec := siteRecord("S1", "Park A", "1 Main St")
			if n%2 == 1 {
				rec["Name"] = "Park A+"
			}
			if _, err := e.Upsert(context.Background(), siteDef, rec, batch); err != nil {
				t.Errorf("writer %d: %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	current := store.currentRows(siteDef, map[string]string{"SiteId": "S1"})
	if len(current) != 1 {
		t.Fatalf("current rows = %d, want exactly 1", len(current))
	}

	// Every non-current row must be properly closed.
	for _, row := range store.rows(siteDef) {
		if !row.isCurrent && row.effectiveTo == nil {
			t.Error("found a non-current row with open validity")
		}
	}
}
