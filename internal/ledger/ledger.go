package ledger

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"mixrelay/internal/models"
)

const (
	// StorageVersion is the version of the on disk format
	StorageVersion = 0

	metadataBucket = "metadata"
	versionKey     = "version"
	recordsBucket  = "records"
)

// Ledger is the embedded crash-safe store recording the lifecycle of every
// relay attempt, keyed by request fingerprint. Records are never deleted;
// they remain as an audit trail.
type Ledger struct {
	db *bolt.DB
}

// Open opens (or creates) the ledger database at the given path
func Open(path string) (*Ledger, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger at %s: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		metaBucket, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(recordsBucket)); err != nil {
			return err
		}

		if b := metaBucket.Get([]byte(versionKey)); b != nil {
			if len(b) != 1 || b[0] != StorageVersion {
				return fmt.Errorf("ledger: incompatible version: %d", uint(b[0]))
			}
			return nil
		}
		return metaBucket.Put([]byte(versionKey), []byte{StorageVersion})
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &Ledger{db: db}, nil
}

// Close syncs and closes the underlying database
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Put durably writes a record under its fingerprint. The write is atomic:
// a crash never leaves a partially written record.
func (l *Ledger) Put(record *models.RelayRecord) error {
	if record.Fingerprint == "" {
		return fmt.Errorf("ledger: record has no fingerprint")
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(recordsBucket)).Put([]byte(record.Fingerprint), raw)
	})
}

// Get returns the record for a fingerprint, or nil if none exists
func (l *Ledger) Get(fingerprint string) (*models.RelayRecord, error) {
	var record *models.RelayRecord

	err := l.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(recordsBucket)).Get([]byte(fingerprint))
		if raw == nil {
			return nil
		}
		record = &models.RelayRecord{}
		if err := json.Unmarshal(raw, record); err != nil {
			return fmt.Errorf("failed to decode record %s: %w", fingerprint, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

// ScanPending returns every non-terminal record. It is used once at process
// restart to resume in-flight work.
func (l *Ledger) ScanPending() ([]*models.RelayRecord, error) {
	var pending []*models.RelayRecord

	err := l.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(recordsBucket)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			record := &models.RelayRecord{}
			if err := json.Unmarshal(v, record); err != nil {
				return fmt.Errorf("failed to decode record %s: %w", string(k), err)
			}
			if !record.Status.Terminal() {
				pending = append(pending, record)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return pending, nil
}
