// Package idempotency records HTTP responses keyed by a client-supplied
// idempotency key, so a retried top-up returns the first response instead
// of crediting tokens twice.
package idempotency

import (
	"encoding/json"
	"errors"
	"time"

	bolt "github.com/boltdb/bolt"
)

const bucketName = "responses"

// ErrNotFound is returned when no response is recorded under a key.
var ErrNotFound = errors.New("idempotency: key not found")

// Response is the recorded outcome of the first request with a given key.
type Response struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// Store persists recorded responses in a BoltDB file.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the database at path and ensures the responses
// bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// Lookup returns the response recorded under key, or ErrNotFound.
func (s *Store) Lookup(key string) (*Response, error) {
	var resp *Response
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketName)).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		resp = &Response{}
		return json.Unmarshal(v, resp)
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Record stores the response under key. The first write wins: a key that is
// already recorded is left untouched, so racing retries cannot change the
// replayed response.
func (s *Store) Record(key string, resp *Response) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b.Get([]byte(key)) != nil {
			return nil
		}
		v, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), v)
	})
}
