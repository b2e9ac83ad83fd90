// Package storage — sink.go
//
// AnomalyRecord is the stable, persisted detection record (spec §3, §6).
// The sink's Put is idempotent on event id (invariant P1): writing the
// same event id twice overwrites in place rather than duplicating, which
// combined with bbolt's single ACID transaction per write gives
// exactly-once-visible semantics even under at-least-once queue delivery.
package storage

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/octoanomaly/octoanomaly/internal/errs"
)

// Severity is the bucketed severity level (spec §4.7).
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// AnomalyRecord is the immutable, persisted anomaly detection result
// (spec §6 "Persisted anomaly record (stable fields)").
type AnomalyRecord struct {
	EventID         string    `json:"event_id"`
	RepositoryName  string    `json:"repository_name"`
	UserLogin       string    `json:"user_login"`
	EventType       string    `json:"event_type"`
	Timestamp       time.Time `json:"timestamp"`

	BehavioralAnomalyScore    float64 `json:"behavioral_anomaly_score"`
	ContentRiskScore          float64 `json:"content_risk_score"`
	TemporalAnomalyScore      float64 `json:"temporal_anomaly_score"`
	RepositoryCriticalityScore float64 `json:"repository_criticality_score"`
	FinalAnomalyScore         float64 `json:"final_anomaly_score"`
	SeverityLevel             Severity `json:"severity_level"`

	BehavioralAnalysis json.RawMessage `json:"behavioral_analysis"`
	ContentAnalysis    json.RawMessage `json:"content_analysis"`
	TemporalAnalysis   json.RawMessage `json:"temporal_analysis"`
	RepositoryContext  json.RawMessage `json:"repository_context"`

	HighRiskIndicators []string `json:"high_risk_indicators,omitempty"`
	AISummary          string   `json:"ai_summary,omitempty"`

	DetectionTimestamp time.Time `json:"detection_timestamp"`

	PrimaryMethod string `json:"primary_method"`
	Degraded      bool   `json:"degraded,omitempty"`
}

// AnomalySink persists AnomalyRecords, idempotent on event id.
type AnomalySink struct {
	db *DB
}

// NewAnomalySink wraps db as an AnomalySink.
func NewAnomalySink(db *DB) *AnomalySink {
	return &AnomalySink{db: db}
}

// Put writes rec, overwriting any prior record for the same event id.
func (s *AnomalySink) Put(rec AnomalyRecord) error {
	if rec.DetectionTimestamp.IsZero() {
		rec.DetectionTimestamp = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	err = s.db.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketAnomalies)).Put([]byte(rec.EventID), data)
	})
	if err != nil {
		return errs.Transient("AnomalySink.Put", err)
	}
	return nil
}

// Get returns the persisted record for eventID, or (nil, nil) if absent.
func (s *AnomalySink) Get(eventID string) (*AnomalyRecord, error) {
	var data []byte
	err := s.db.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketAnomalies)).Get([]byte(eventID))
		if v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, errs.Transient("AnomalySink.Get", err)
	}
	if data == nil {
		return nil, nil
	}
	var rec AnomalyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
