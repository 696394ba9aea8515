package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/boltdb/bolt"

	"github.com/emperorhan/exposure-controller/internal/acquisition"
	"github.com/emperorhan/exposure-controller/internal/metrics"
)

var (
	bucketSettings = []byte("settings")
	bucketMeta     = []byte("meta")
	keySavedAt     = []byte("saved_at")
)

var ErrClosed = errors.New("checkpoint: store is closed")

// Store persists the per-channel setting indices so a restart resumes from the
// last committed settings instead of the default index.
type Store struct {
	db   *bolt.DB
	path string
}

func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open checkpoint %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketSettings, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init checkpoint buckets: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Path() string { return s.path }

// Save replaces the stored settings with the given map in one transaction.
func (s *Store) Save(settings map[acquisition.ChannelKey]int) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketSettings); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		b, err := tx.CreateBucket(bucketSettings)
		if err != nil {
			return err
		}
		for key, index := range settings {
			if err := b.Put([]byte(key.String()), []byte(strconv.Itoa(index))); err != nil {
				return fmt.Errorf("put %s: %w", key, err)
			}
		}
		stamp := []byte(time.Now().UTC().Format(time.RFC3339Nano))
		return tx.Bucket(bucketMeta).Put(keySavedAt, stamp)
	})
}

// Load returns the stored settings. An empty store yields an empty map.
func (s *Store) Load() (map[acquisition.ChannelKey]int, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	out := make(map[acquisition.ChannelKey]int)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSettings)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			key, err := acquisition.ParseChannelKey(string(k))
			if err != nil {
				return fmt.Errorf("stored key %q: %w", k, err)
			}
			index, err := strconv.Atoi(string(v))
			if err != nil {
				return fmt.Errorf("stored index for %s: %w", key, err)
			}
			out[key] = index
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SavedAt returns when the settings were last saved; zero if never.
func (s *Store) SavedAt() (time.Time, error) {
	if s == nil || s.db == nil {
		return time.Time{}, ErrClosed
	}
	var at time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketMeta).Get(keySavedAt)
		if raw == nil {
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, string(raw))
		if err != nil {
			return err
		}
		at = parsed
		return nil
	})
	return at, err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// SettingsSource exposes the current per-channel setting indices.
type SettingsSource interface {
	Settings() map[acquisition.ChannelKey]int
}

// Observer writes a checkpoint after every round that switched at least one
// channel.
type Observer struct {
	store  *Store
	source SettingsSource
	logger *slog.Logger
}

func NewObserver(store *Store, source SettingsSource, logger *slog.Logger) *Observer {
	return &Observer{store: store, source: source, logger: logger.With("component", "checkpoint")}
}

func (o *Observer) ObserveRound(_ context.Context, result acquisition.RoundResult) {
	if result.Switches() == 0 {
		return
	}
	if err := o.Flush(); err != nil {
		o.logger.Warn("checkpoint write failed", "round_id", result.ID, "error", err)
		return
	}
	o.logger.Debug("checkpoint written", "round_id", result.ID, "switches", result.Switches())
}

// Flush saves the current settings unconditionally.
func (o *Observer) Flush() error {
	if err := o.store.Save(o.source.Settings()); err != nil {
		metrics.CheckpointErrors.Inc()
		return err
	}
	metrics.CheckpointWrites.Inc()
	return nil
}
