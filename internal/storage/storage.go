// Package storage provides the persistent audit log for the decision service.
// It uses BoltDB as the underlying storage engine to keep every decision the
// predictor returns, together with the inputs it was made on, and a summary of
// every batch run.
//
// Records are keyed "domain_timestamp_id" so that per-domain time-range queries
// are a single cursor scan.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"bank-intel/internal/batch"
	"bank-intel/internal/ml"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const (
	dbFileName      = "bank-intel.db"
	decisionsBucket = "decisions"  // Bucket name for decision records
	batchRunsBucket = "batch_runs" // Bucket name for batch run summaries
)

// DecisionRecord is one audited decision.
type DecisionRecord struct {
	ID       string             `json:"id"`
	Time     time.Time          `json:"time"`
	Domain   ml.Domain          `json:"domain"`
	Decision ml.Decision        `json:"decision"`
	Input    map[string]float64 `json:"input"`
}

// Store provides persistent storage for audit records using BoltDB.
type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

// New opens (or creates) the audit database under dataPath and makes sure
// both buckets exist.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, dbFileName)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(decisionsBucket)); err != nil {
			return fmt.Errorf("create decisions bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(batchRunsBucket)); err != nil {
			return fmt.Errorf("create batch runs bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection gracefully.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RecordDecision stores d with its inputs under a fresh id. It satisfies
// ml.Recorder.
func (s *Store) RecordDecision(d ml.Decision, input map[string]float64) error {
	return s.StoreDecision(DecisionRecord{Decision: d, Input: input})
}

// StoreDecision stores rec, filling in the id, time and domain when unset.
func (s *Store) StoreDecision(rec DecisionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Time.IsZero() {
		rec.Time = s.now()
	}
	if rec.Domain == "" {
		rec.Domain = rec.Decision.Domain
	}
	return s.put(decisionsBucket, string(rec.Domain), rec.Time, rec.ID, rec)
}

// GetDecisions returns the decisions of one domain made within [start, end],
// oldest first.
func (s *Store) GetDecisions(domain ml.Domain, start, end time.Time) ([]DecisionRecord, error) {
	records, err := s.getRecordsInRange(decisionsBucket, string(domain), start, end, func(data []byte) (interface{}, error) {
		var rec DecisionRecord
		err := json.Unmarshal(data, &rec)
		return rec, err
	})
	if err != nil {
		return nil, err
	}

	out := make([]DecisionRecord, len(records))
	for i, record := range records {
		out[i] = record.(DecisionRecord)
	}
	return out, nil
}

// RecordBatchRun stores a batch summary. It satisfies batch.RunRecorder.
func (s *Store) RecordBatchRun(summary batch.Summary) error {
	if summary.ID == "" {
		summary.ID = uuid.NewString()
	}
	ts := summary.Started
	if ts.IsZero() {
		ts = s.now()
	}
	return s.put(batchRunsBucket, string(summary.Domain), ts, summary.ID, summary)
}

// GetBatchRuns returns the batch runs of one domain started within
// [start, end], oldest first.
func (s *Store) GetBatchRuns(domain ml.Domain, start, end time.Time) ([]batch.Summary, error) {
	records, err := s.getRecordsInRange(batchRunsBucket, string(domain), start, end, func(data []byte) (interface{}, error) {
		var summary batch.Summary
		err := json.Unmarshal(data, &summary)
		return summary, err
	})
	if err != nil {
		return nil, err
	}

	out := make([]batch.Summary, len(records))
	for i, record := range records {
		out[i] = record.(batch.Summary)
	}
	return out, nil
}

func (s *Store) put(bucketName, domain string, ts time.Time, id string, v interface{}) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s record: %w", bucketName, err)
		}

		return b.Put(recordKey(domain, ts, id), data)
	})
}

// getRecordsInRange scans one domain's keys between start and end inclusive
// and applies unmarshalFunc to each value. Malformed records are skipped.
func (s *Store) getRecordsInRange(bucketName, domain string, start, end time.Time, unmarshalFunc func([]byte) (interface{}, error)) ([]interface{}, error) {
	var records []interface{}

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		c := b.Cursor()

		prefix := []byte(domain + "_")
		startKey := []byte(fmt.Sprintf("%s_%019d", domain, unixNano(start)))
		endKey := []byte(fmt.Sprintf("%s_%019d_~", domain, unixNano(end)))

		for k, v := c.Seek(startKey); k != nil && compareKeys(k, endKey) <= 0; k, v = c.Next() {
			if !hasPrefix(k, prefix) {
				continue
			}

			record, err := unmarshalFunc(v)
			if err != nil {
				continue
			}
			records = append(records, record)
		}

		return nil
	})

	return records, err
}

// recordKey zero-pads the timestamp so byte order matches time order.
func recordKey(domain string, ts time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s_%019d_%s", domain, unixNano(ts), id))
}

func unixNano(t time.Time) int64 {
	if t.Before(time.Unix(0, 0)) {
		return 0
	}
	return t.UnixNano()
}

func hasPrefix(data, prefix []byte) bool {
	return bytes.HasPrefix(data, prefix)
}

func compareKeys(a, b []byte) int {
	return bytes.Compare(a, b)
}
