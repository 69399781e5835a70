// Package session persists session artifacts (token, cached profile) so a
// sliding session survives process restarts.
package session

import (
	"encoding/json"
	"fmt"
	"time"

	"authrelay/internal/domain"

	"go.etcd.io/bbolt"
)

var (
	bucketName = []byte("session")
	keyToken   = []byte("token")
	keyProfile = []byte("profile")
)

// BoltStore is a bbolt-backed durable session store.
// Implements domain.SessionStore.
type BoltStore struct {
	db *bbolt.DB
}

var _ domain.SessionStore = (*BoltStore)(nil)

// NewBoltStore opens (or creates) the session database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening session db: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// PersistToken stores the bearer token durably.
func (s *BoltStore) PersistToken(token string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		return b.Put(keyToken, []byte(token))
	})
}

// LoadToken returns the persisted token, if any.
func (s *BoltStore) LoadToken() (string, bool) {
	var token string
	_ = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}
		token = string(b.Get(keyToken))
		return nil
	})
	return token, token != ""
}

// SaveProfile stores the cached user profile durably.
func (s *BoltStore) SaveProfile(profile *domain.UserProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		return b.Put(keyProfile, data)
	})
}

// LoadProfile returns the cached profile, if any.
func (s *BoltStore) LoadProfile() (*domain.UserProfile, bool) {
	var profile *domain.UserProfile
	_ = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}
		data := b.Get(keyProfile)
		if data == nil {
			return nil
		}
		var p domain.UserProfile
		if err := json.Unmarshal(data, &p); err != nil {
			return nil
		}
		profile = &p
		return nil
	})
	return profile, profile != nil
}

// ClearSession drops all persisted artifacts in one transaction. Clearing
// an empty store is not an error.
func (s *BoltStore) ClearSession() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketName) == nil {
			return nil
		}
		return tx.DeleteBucket(bucketName)
	})
}
