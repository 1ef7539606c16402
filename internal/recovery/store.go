// File: internal/recovery/store.go
// ============================================
package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"xtrader/internal/logging"
	"xtrader/pkg/types"
)

// MaxPersistedTrades bounds the trade history written to a snapshot.
const MaxPersistedTrades = 50

// clockSkew is how far in the future a snapshot timestamp may lie.
const clockSkew = time.Minute

// Snapshot is the persisted state used to resume after a restart.
type Snapshot struct {
	ID             string                   `json:"id"`
	SavedAt        time.Time                `json:"timestamp"`
	TradingType    string                   `json:"trading_type"`
	Positions      []types.ExchangePosition `json:"positions"`
	ExchangeOrders []types.ExchangeOrder    `json:"orders"`
	ManagedOrders  []types.ManagedOrder     `json:"open_orders"`
	TradeHistory   []types.TradeRecord      `json:"trade_history"`
	Config         types.Config             `json:"config"`
}

// Mirror receives a copy of every saved snapshot.
type Mirror interface {
	Put(ctx context.Context, key string, body []byte) error
}

// Store persists snapshots to a single local file.
type Store struct {
	path   string
	maxAge time.Duration
	mirror Mirror
	now    func() time.Time
	log    *logrus.Entry
}

func NewStore(path string, maxAge time.Duration) *Store {
	return &Store{
		path:   path,
		maxAge: maxAge,
		now:    time.Now,
		log:    logging.For("recovery"),
	}
}

// WithMirror sets an off-host copy target. Mirror failures never fail Save.
func (s *Store) WithMirror(m Mirror) *Store {
	s.mirror = m
	return s
}

func (s *Store) Path() string {
	return s.path
}

// Save writes the snapshot atomically: temp file, fsync, rename.
func (s *Store) Save(ctx context.Context, snap *Snapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.SavedAt.IsZero() {
		snap.SavedAt = s.now()
	}
	if n := len(snap.TradeHistory); n > MaxPersistedTrades {
		snap.TradeHistory = snap.TradeHistory[n-MaxPersistedTrades:]
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := writeAtomic(s.path, data); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	s.log.WithFields(logrus.Fields{
		"orders": len(snap.ManagedOrders),
		"trades": len(snap.TradeHistory),
	}).Info("💾 state saved")

	if s.mirror != nil {
		key := fmt.Sprintf("%s-%s.json", snap.SavedAt.UTC().Format("20060102T150405Z"), snap.ID)
		if err := s.mirror.Put(ctx, key, data); err != nil {
			s.log.WithError(err).Warn("⚠️  snapshot mirror failed")
		}
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load returns the stored snapshot, or nil when none exists, it is older
// than the freshness window or it claims to be from the future.
func (s *Store) Load() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	age := s.now().Sub(snap.SavedAt)
	if age < -clockSkew {
		s.log.WithField("saved_at", snap.SavedAt).Warn("⚠️  snapshot timestamp is in the future, ignoring")
		return nil, nil
	}
	if s.maxAge > 0 && age > s.maxAge {
		s.log.WithField("age", age.Round(time.Second)).Warn("⚠️  snapshot too old, ignoring")
		return nil, nil
	}
	return &snap, nil
}
