// Package diag keeps raw response bodies that could not be used as XML-RPC,
// so they can be inspected out of band instead of being copied into error
// messages and logs.
package diag

import (
	"encoding/json"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/pkg/errors"
	"github.com/rs/xid"
	bolt "go.etcd.io/bbolt"
)

// Sink stores a raw body and returns an id to reference it.
type Sink interface {
	Save(rec Record) (id string, err error)
}

// Record is one stored body with what is known about where it came from.
type Record struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	URL        string    `json:"url"`
	StatusCode int       `json:"status_code"`
	Time       time.Time `json:"time"`
	Body       []byte    `json:"body"`
}

// NopSink drops everything.
type NopSink struct{}

// Save returns an empty id.
func (NopSink) Save(Record) (string, error) { return "", nil }

const bodiesBucketName = "bodies"

// BoltSink stores records in a bolt db, keyed by xid so keys sort by time.
// Thread safe.
type BoltSink struct {
	db      *bolt.DB
	maxSize int
}

// NewBoltSink opens (or creates) the bolt file at path. Bodies longer than
// maxSize bytes are truncated before storing; maxSize <= 0 keeps them whole.
func NewBoltSink(path string, maxSize int) (*BoltSink, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second}) //nolint:gocritic //octalLiteral is OK as FileMode
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open diag db %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists([]byte(bodiesBucketName))
		return e
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "failed to create bucket %s", bodiesBucketName)
	}
	log.Printf("[DEBUG] diag store opened at %s", path)
	return &BoltSink{db: db, maxSize: maxSize}, nil
}

// Save stores rec under a new id. Time is set if missing.
func (b *BoltSink) Save(rec Record) (string, error) {
	rec.ID = xid.New().String()
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	if b.maxSize > 0 && len(rec.Body) > b.maxSize {
		rec.Body = rec.Body[:b.maxSize]
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal diag record")
	}
	err = b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bodiesBucketName)).Put([]byte(rec.ID), data)
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to put diag record %s", rec.ID)
	}
	return rec.ID, nil
}

// Load returns the record with the given id.
func (b *BoltSink) Load(id string) (rec Record, err error) {
	err = b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bodiesBucketName)).Get([]byte(id))
		if data == nil {
			return errors.Errorf("no diag record %s", id)
		}
		return json.Unmarshal(data, &rec)
	})
	return rec, err
}

// List returns up to limit most recent records, newest first. limit <= 0
// returns all of them.
func (b *BoltSink) List(limit int) (res []Record, err error) {
	err = b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bodiesBucketName)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var rec Record
			if e := json.Unmarshal(v, &rec); e != nil {
				return errors.Wrapf(e, "failed to unmarshal diag record %s", k)
			}
			res = append(res, rec)
			if limit > 0 && len(res) >= limit {
				break
			}
		}
		return nil
	})
	return res, err
}

// Close closes the underlying db.
func (b *BoltSink) Close() error {
	return errors.Wrap(b.db.Close(), "failed to close diag db")
}
