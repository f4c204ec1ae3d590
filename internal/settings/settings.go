// Package settings persists runtime-editable sync configuration in the
// settings database. API keys are encrypted at rest.
package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sydlexius/ratingsync/internal/encryption"
)

// Preferred source values for rating lookups.
const (
	SourceOMDb    = "omdb"
	SourceMDBList = "mdblist"
	SourceBoth    = "both"
)

// SyncSettings holds all user-tunable sync behavior.
type SyncSettings struct {
	OMDbAPIKey    string `json:"omdb_api_key"`
	MDBListAPIKey string `json:"mdblist_api_key"`

	OMDbDailyLimit    int `json:"omdb_daily_limit"`
	MDBListDailyLimit int `json:"mdblist_daily_limit"`

	PreferredSource string `json:"preferred_source"`

	UpdateCriticRating bool `json:"update_critic_rating"`
	UpdateMovies       bool `json:"update_movies"`
	UpdateSeries       bool `json:"update_series"`
	UpdateEpisodes     bool `json:"update_episodes"`

	EnableScraping bool `json:"enable_scraping"`

	RescanIntervalDays      int  `json:"rescan_interval_days"`
	PrioritizeRecentlyAdded bool `json:"prioritize_recently_added"`
	RecentlyAddedDays       int  `json:"recently_added_days"`
	SkipRatedItems          bool `json:"skip_rated_items"`

	TestMode bool `json:"test_mode"`
}

// Defaults returns the settings applied on first run.
func Defaults() SyncSettings {
	return SyncSettings{
		OMDbDailyLimit:     900,
		MDBListDailyLimit:  900,
		PreferredSource:    SourceOMDb,
		UpdateMovies:       true,
		UpdateSeries:       true,
		UpdateEpisodes:     true,
		EnableScraping:     true,
		RescanIntervalDays: 30,
		RecentlyAddedDays:  14,
	}
}

const settingsKey = "sync.settings"

// Encrypted key material lives under separate rows so the JSON blob never
// contains secrets.
const (
	omdbKeyRow    = "provider.omdb.api_key"
	mdblistKeyRow = "provider.mdblist.api_key"
)

// Service reads and writes SyncSettings backed by the settings table.
type Service struct {
	db        *sql.DB
	encryptor *encryption.Encryptor

	mu      sync.RWMutex
	current SyncSettings
}

// NewService loads persisted settings, seeding defaults if none exist.
func NewService(db *sql.DB, enc *encryption.Encryptor) (*Service, error) {
	s := &Service{db: db, encryptor: enc}

	loaded, err := s.load(context.Background())
	if err != nil {
		return nil, err
	}
	s.current = loaded

	return s, nil
}

// Get returns a copy of the current settings with decrypted API keys.
func (s *Service) Get() SyncSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update validates and persists new settings.
func (s *Service) Update(ctx context.Context, in SyncSettings) error {
	if err := validate(&in); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.storeKey(ctx, tx, omdbKeyRow, in.OMDbAPIKey); err != nil {
		return err
	}
	if err := s.storeKey(ctx, tx, mdblistKeyRow, in.MDBListAPIKey); err != nil {
		return err
	}

	blob := in
	blob.OMDbAPIKey = ""
	blob.MDBListAPIKey = ""
	data, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}
	if err := upsert(ctx, tx, settingsKey, string(data)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing settings: %w", err)
	}

	s.current = in
	return nil
}

func (s *Service) load(ctx context.Context) (SyncSettings, error) {
	out := Defaults()

	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", settingsKey).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// first run, keep defaults
	case err != nil:
		return out, fmt.Errorf("loading settings: %w", err)
	default:
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return out, fmt.Errorf("parsing settings: %w", err)
		}
	}

	omdbKey, err := s.loadKey(ctx, omdbKeyRow)
	if err != nil {
		return out, err
	}
	mdblistKey, err := s.loadKey(ctx, mdblistKeyRow)
	if err != nil {
		return out, err
	}
	out.OMDbAPIKey = omdbKey
	out.MDBListAPIKey = mdblistKey

	return out, nil
}

func (s *Service) loadKey(ctx context.Context, row string) (string, error) {
	var enc string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", row).Scan(&enc)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading %s: %w", row, err)
	}
	return s.encryptor.Decrypt(enc)
}

func (s *Service) storeKey(ctx context.Context, tx *sql.Tx, row, plaintext string) error {
	enc, err := s.encryptor.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("encrypting %s: %w", row, err)
	}
	return upsert(ctx, tx, row, enc)
}

func upsert(ctx context.Context, tx *sql.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value)
	if err != nil {
		return fmt.Errorf("storing %s: %w", key, err)
	}
	return nil
}

func validate(in *SyncSettings) error {
	switch in.PreferredSource {
	case SourceOMDb, SourceMDBList, SourceBoth:
	case "":
		in.PreferredSource = SourceOMDb
	default:
		return fmt.Errorf("invalid preferred_source %q", in.PreferredSource)
	}

	if in.OMDbDailyLimit < 0 || in.MDBListDailyLimit < 0 {
		return errors.New("daily limits must not be negative")
	}
	if in.RescanIntervalDays < 0 {
		return errors.New("rescan_interval_days must not be negative")
	}
	if in.RecentlyAddedDays < 0 {
		return errors.New("recently_added_days must not be negative")
	}

	return nil
}
