// Package storage provides bbolt-backed persistence for anomalyd: the
// ProfileStore (user/repository baselines), the EventQueue (durable
// at-least-once work queue), and the AnomalyRecord sink.
//
// Schema (bbolt bucket layout):
//
//	/profiles
//	    key:   "user:<actor_id>" | "repo:<repo_id>"
//	    value: JSON-encoded UserProfile | RepositoryProfile
//
//	/queue
//	    key:   priority byte + RFC3339Nano timestamp + "_" + event id  [sortable]
//	    value: JSON-encoded queued event envelope
//
//	/anomalies
//	    key:   event id
//	    value: JSON-encoded AnomalyRecord
//
//	/meta
//	    key:   "schema_version"
//	    value: "1"
//
// Consistency model:
//   - Single-process, single-writer (bbolt does not support concurrent writers).
//   - All writes use ACID transactions (bbolt Tx.Commit()).
//   - Reads use read-only transactions (bbolt.View()).
//   - CRC32 integrity check on database open (bbolt built-in).
//
// Failure modes:
//   - bbolt file corruption: detected via CRC and returned as an error on
//     Open(). The daemon logs a fatal event and refuses to start.
//   - Disk full: bbolt.Update() returns an error, wrapped as transient via
//     errs.Transient so callers retry rather than abort the batch.
package storage

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/octoanomaly/octoanomaly/internal/errs"
)

const (
	// SchemaVersion is the current database schema version.
	SchemaVersion = "1"

	bucketProfiles  = "profiles"
	bucketQueue     = "queue"
	bucketAnomalies = "anomalies"
	bucketMeta      = "meta"
)

// DB wraps a bbolt instance with typed accessors for anomalyd data.
type DB struct {
	db *bolt.DB
}

// Open opens (or creates) the bbolt database at the given path.
// Initialises all required buckets and verifies the schema version.
// Returns a fatal error if the database is corrupt or schema incompatible.
func Open(path string) (*DB, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:      5 * time.Second,
		NoGrowSync:   false,
		FreelistType: bolt.FreelistArrayType,
	})
	if err != nil {
		return nil, errs.Fatal("storage.Open", fmt.Errorf("bolt.Open(%q): %w", path, err))
	}

	d := &DB{db: bdb}

	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketProfiles, bucketQueue, bucketAnomalies, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(SchemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, errs.Fatal("storage.Open", fmt.Errorf("database initialisation failed: %w", err))
	}

	if err := d.checkSchemaVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return d, nil
}

func (d *DB) checkSchemaVersion() error {
	return d.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		v := meta.Get([]byte("schema_version"))
		if string(v) != SchemaVersion {
			return errs.Fatal("storage.checkSchemaVersion", fmt.Errorf(
				"schema version mismatch: database has %q, daemon requires %q",
				string(v), SchemaVersion))
		}
		return nil
	})
}

// Close closes the underlying bbolt file.
func (d *DB) Close() error {
	return d.db.Close()
}
