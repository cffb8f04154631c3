package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"bank-intel/internal/batch"
	"bank-intel/internal/ml"
	"bank-intel/internal/policy"

	"go.etcd.io/bbolt"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNew(t *testing.T) {
	tempDir := t.TempDir()

	store, err := New(tempDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if store.db == nil {
		t.Error("Store database is nil")
	}

	dbPath := filepath.Join(tempDir, dbFileName)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}

	err = store.db.View(func(tx *bbolt.Tx) error {
		for _, name := range []string{decisionsBucket, batchRunsBucket} {
			if tx.Bucket([]byte(name)) == nil {
				t.Errorf("Bucket %s was not created", name)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func TestNew_InvalidPath(t *testing.T) {
	invalidPath := filepath.Join(t.TempDir(), "missing", "dir")

	_, err := New(invalidPath)
	if err == nil {
		t.Error("Expected error for invalid path, got nil")
	}
}

func TestStore_CloseNilDB(t *testing.T) {
	store := &Store{db: nil}
	if err := store.Close(); err != nil {
		t.Errorf("Expected no error for nil db, got: %v", err)
	}
}

func TestRecordDecision(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	d := ml.PredictedAmount(42000, []policy.Rule{policy.RuleIncomeCeiling})
	input := map[string]float64{"Income": 200000, "Credit_Score": 700, "DTI_Ratio": 10, "Employment_Status": 0}
	if err := store.RecordDecision(d, input); err != nil {
		t.Fatalf("Failed to record decision: %v", err)
	}

	records, err := store.GetDecisions(ml.DomainLoanAmount, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Failed to get decisions: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}

	rec := records[0]
	if rec.ID == "" {
		t.Error("Record ID was not assigned")
	}
	if !rec.Time.Equal(now) {
		t.Errorf("Expected time %v, got %v", now, rec.Time)
	}
	if rec.Domain != ml.DomainLoanAmount {
		t.Errorf("Expected domain %s, got %s", ml.DomainLoanAmount, rec.Domain)
	}
	if rec.Decision.Amount != 42000 || rec.Decision.String() != "42000" {
		t.Errorf("Unexpected decision: %+v", rec.Decision)
	}
	if len(rec.Decision.Adjusted) != 1 || rec.Decision.Adjusted[0] != policy.RuleIncomeCeiling {
		t.Errorf("Adjusted rules not preserved: %v", rec.Decision.Adjusted)
	}
	if rec.Input["Income"] != 200000 {
		t.Errorf("Expected stored income 200000, got %f", rec.Input["Income"])
	}
}

func TestGetDecisions_RangeAndDomain(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		rec := DecisionRecord{
			Time:     base.Add(time.Duration(i) * time.Hour),
			Decision: ml.FraudFlag(i%2, ml.VerdictNormal),
		}
		if err := store.StoreDecision(rec); err != nil {
			t.Fatalf("Failed to store fraud decision %d: %v", i, err)
		}
		if err := store.StoreDecision(DecisionRecord{Time: rec.Time, Decision: ml.Approved()}); err != nil {
			t.Fatalf("Failed to store approval %d: %v", i, err)
		}
	}

	records, err := store.GetDecisions(ml.DomainFraud, base.Add(time.Hour), base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("Failed to get decisions: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected 3 records (inclusive range), got %d", len(records))
	}
	for i, rec := range records {
		if rec.Domain != ml.DomainFraud {
			t.Errorf("Record %d has domain %s", i, rec.Domain)
		}
		want := base.Add(time.Duration(i+1) * time.Hour)
		if !rec.Time.Equal(want) {
			t.Errorf("Record %d: expected time %v, got %v", i, want, rec.Time)
		}
	}

	records, err = store.GetDecisions(ml.DomainLoanApproval, base, base.Add(10*time.Hour))
	if err != nil {
		t.Fatalf("Failed to get decisions: %v", err)
	}
	if len(records) != 5 {
		t.Errorf("Expected 5 approval records, got %d", len(records))
	}

	records, err = store.GetDecisions(ml.DomainLoanAmount, base, base.Add(10*time.Hour))
	if err != nil {
		t.Fatalf("Failed to get decisions: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Expected no amount records, got %d", len(records))
	}
}

func TestGetDecisions_SkipsMalformed(t *testing.T) {
	store := newTestStore(t)
	ts := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	if err := store.StoreDecision(DecisionRecord{Time: ts, Decision: ml.Approved()}); err != nil {
		t.Fatalf("Failed to store decision: %v", err)
	}
	err := store.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(decisionsBucket)).Put(recordKey("loan_approval", ts, "zzz"), []byte("{not json"))
	})
	if err != nil {
		t.Fatalf("Failed to write malformed record: %v", err)
	}

	records, err := store.GetDecisions(ml.DomainLoanApproval, ts, ts)
	if err != nil {
		t.Fatalf("Failed to get decisions: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("Expected malformed record to be skipped, got %d records", len(records))
	}
}

func TestBatchRuns(t *testing.T) {
	store := newTestStore(t)
	started := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	runs := []batch.Summary{
		{ID: "a", Domain: ml.DomainFraud, Rows: 10, Started: started, Finished: started.Add(time.Second)},
		{ID: "b", Domain: ml.DomainFraud, Rows: 4, Aborted: true, Error: "row 2: bad", Started: started.Add(time.Minute)},
		{ID: "c", Domain: ml.DomainLoanAmount, Rows: 3, Started: started},
	}
	for _, r := range runs {
		if err := store.RecordBatchRun(r); err != nil {
			t.Fatalf("Failed to record batch run: %v", err)
		}
	}

	got, err := store.GetBatchRuns(ml.DomainFraud, started, started.Add(time.Hour))
	if err != nil {
		t.Fatalf("Failed to get batch runs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 fraud runs, got %d", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("Runs out of order: %s, %s", got[0].ID, got[1].ID)
	}
	if !got[1].Aborted || got[1].Error != "row 2: bad" {
		t.Errorf("Abort details not preserved: %+v", got[1])
	}
}

func TestRecordKey_Ordering(t *testing.T) {
	early := recordKey("fraud", time.Unix(9, 0), "x")
	late := recordKey("fraud", time.Unix(10, 0), "a")
	if compareKeys(early, late) >= 0 {
		t.Errorf("Expected %s to sort before %s", early, late)
	}
	if !hasPrefix(late, []byte("fraud_")) {
		t.Errorf("Key %s lacks domain prefix", late)
	}
	if k := recordKey("fraud", time.Time{}, "a"); string(k) != fmt.Sprintf("fraud_%019d_a", 0) {
		t.Errorf("Zero time should map to epoch, got %s", k)
	}
}

func TestConcurrentAccess(t *testing.T) {
	store := newTestStore(t)

	var wg sync.WaitGroup
	numGoroutines := 10
	perGoroutine := 20

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				if err := store.RecordDecision(ml.FraudFlag(id%3, ml.VerdictNormal), map[string]float64{"Age": float64(j)}); err != nil {
					t.Errorf("Failed to record decision: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	records, err := store.GetDecisions(ml.DomainFraud, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Failed to get decisions: %v", err)
	}
	if len(records) != numGoroutines*perGoroutine {
		t.Errorf("Expected %d records, got %d", numGoroutines*perGoroutine, len(records))
	}
}

func BenchmarkRecordDecision(b *testing.B) {
	store, err := New(b.TempDir())
	if err != nil {
		b.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	d := ml.Approved()
	input := map[string]float64{"Income": 50000, "Credit_Score": 700}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := store.RecordDecision(d, input); err != nil {
			b.Fatalf("Failed to record decision: %v", err)
		}
	}
}
