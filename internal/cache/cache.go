// Package cache persists the last reconciled notification snapshot per
// tenant so a restarted dashboard renders immediately while the first
// fetch and room join are still in flight. The cache is a convenience
// copy; the backend stays authoritative and the next fetch replaces it.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/deskstream/deskstream/internal/model"
)

var bucketSnapshots = []byte("snapshots")

// ErrNoSnapshot is returned by Load when no snapshot exists for a tenant.
var ErrNoSnapshot = errors.New("no cached snapshot")

// Snapshot is the persisted projection for one tenant.
type Snapshot struct {
	BusinessID    string               `json:"business_id"`
	Notifications []model.Notification `json:"notifications"`
	Unread        int                  `json:"unread"`
	SavedAt       time.Time            `json:"saved_at"`
}

// Cache stores snapshots in a BoltDB file, one entry per tenant.
type Cache struct {
	db *bolt.DB
}

// Open opens or creates the cache database at path.
func Open(path string) (*Cache, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSnapshots)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create snapshots bucket: %w", err)
	}

	return &Cache{db: db}, nil
}

// Save persists a tenant's snapshot, replacing any previous one.
func (c *Cache) Save(ctx context.Context, snap *Snapshot) error {
	if snap.BusinessID == "" {
		return fmt.Errorf("snapshot missing business id")
	}
	snap.SavedAt = time.Now()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Put([]byte(snap.BusinessID), data)
	})
}

// Load returns the stored snapshot for a tenant, or ErrNoSnapshot.
func (c *Cache) Load(ctx context.Context, businessID string) (*Snapshot, error) {
	var snap *Snapshot

	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSnapshots).Get([]byte(businessID))
		if data == nil {
			return ErrNoSnapshot
		}

		var s Snapshot
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}
		snap = &s
		return nil
	})
	if err != nil {
		return nil, err
	}

	return snap, nil
}

// Delete removes a tenant's snapshot. Missing entries are not an error.
func (c *Cache) Delete(ctx context.Context, businessID string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Delete([]byte(businessID))
	})
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}
