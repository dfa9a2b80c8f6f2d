// Package retention implements the detection database and three-tier
// pruning policy of spec.md §4.9, supplemented by §4.10's detection-store
// write path (grounded on banshee-data/velocity.report's internal/db:
// database/sql directly against modernc.org/sqlite, no ORM, WAL pragmas
// applied once at open).
package retention

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS alert_events (
	id INTEGER PRIMARY KEY,
	timestamp TEXT NOT NULL,
	vehicle_type TEXT NOT NULL,
	detected_class TEXT NOT NULL,
	status TEXT NOT NULL,
	registered INTEGER NOT NULL,
	track_id INTEGER NOT NULL,
	beacon_mac TEXT,
	plate TEXT,
	distance REAL,
	confidence REAL,
	environment_code TEXT,
	owner TEXT,
	metadata TEXT,
	snapshot_path TEXT,
	snapshot_url TEXT,
	cloud_alert_id INTEGER,
	retry_count INTEGER NOT NULL DEFAULT 0,
	uploaded INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_alert_events_timestamp ON alert_events(timestamp);
`

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
}

// DetectionStore persists AlertEvents across the Uploader's crash/retry
// boundary (spec.md §4.10).
type DetectionStore struct {
	db *sql.DB
}

// Open creates (if needed) and opens the sqlite database at path.
func Open(path string) (*DetectionStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "apply pragma %q", p)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create schema")
	}
	return &DetectionStore{db: db}, nil
}

func (s *DetectionStore) Close() error {
	return s.db.Close()
}

// Insert records event on alert-gate admission, before the Uploader has
// attempted anything (spec.md §4.10).
func (s *DetectionStore) Insert(ctx context.Context, event model.AlertEvent) (int64, error) {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return 0, errors.Wrap(err, "marshal metadata")
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_events
			(timestamp, vehicle_type, detected_class, status, registered, track_id,
			 beacon_mac, plate, distance, confidence, environment_code, owner,
			 metadata, snapshot_path, snapshot_url, cloud_alert_id, retry_count, uploaded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0)`,
		event.Timestamp.UTC().Format(time.RFC3339Nano), string(event.VehicleType), event.DetectedClass,
		string(event.Status), boolToInt(event.Registered), event.TrackID,
		event.BeaconMac, event.Plate, event.Distance, event.Confidence, event.EnvironmentCode, event.Owner,
		string(metadata), event.SnapshotPath, event.SnapshotURL, event.CloudAlertID)
	if err != nil {
		return 0, errors.Wrap(err, "insert alert event")
	}
	return res.LastInsertId()
}

// MarkUploaded implements upload.Store: records the cloud-assigned alert id
// once the Uploader succeeds.
func (s *DetectionStore) MarkUploaded(ctx context.Context, eventID int64, cloudAlertID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE alert_events SET uploaded = 1, cloud_alert_id = ? WHERE id = ?`, cloudAlertID, eventID)
	return errors.Wrap(err, "mark uploaded")
}

// IncrementRetry implements upload.Store: bumps the retry counter
// (spec.md §7's TransientNetwork counter) after an exhausted retry budget.
func (s *DetectionStore) IncrementRetry(ctx context.Context, eventID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE alert_events SET retry_count = retry_count + 1 WHERE id = ?`, eventID)
	return errors.Wrap(err, "increment retry")
}

// RowCount returns the total number of stored rows.
func (s *DetectionStore) RowCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alert_events`).Scan(&n)
	return n, errors.Wrap(err, "count alert events")
}

// DeleteOlderThan removes rows whose timestamp predates cutoff and returns
// the number of rows removed.
func (s *DetectionStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alert_events WHERE timestamp < ?`, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, errors.Wrap(err, "delete by age")
	}
	return res.RowsAffected()
}

// DeleteOldestExcess removes the oldest rows beyond maxRecords, keeping the
// most recent maxRecords rows.
func (s *DetectionStore) DeleteOldestExcess(ctx context.Context, maxRecords int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM alert_events WHERE id IN (
			SELECT id FROM alert_events ORDER BY timestamp ASC
			LIMIT MAX(0, (SELECT COUNT(*) FROM alert_events) - ?)
		)`, maxRecords)
	if err != nil {
		return 0, errors.Wrap(err, "delete oldest excess")
	}
	return res.RowsAffected()
}

// Vacuum compacts the database file after deletions (spec.md §4.9:
// "if anything was deleted, compact the storage to reclaim space").
func (s *DetectionStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `VACUUM`)
	return errors.Wrap(err, "vacuum")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
