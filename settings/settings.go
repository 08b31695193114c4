// Package settings persists the engine's configuration in a SQLite-backed
// key-value store with change notification. Blocklists and scalar options
// load once at startup; external edits (and the engine's own auto-learning)
// mutate the store, and subscribers receive the full new value set.
package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // sqlite driver
)

// Configuration keys.
const (
	KeyBlockedUsers        = "blockedUsers"
	KeyBlockedDisplayNames = "blockedDisplayNames"
	KeyWhitelistedUsers    = "whitelistedUsers"
	KeyAutoMapUsernames    = "autoMapUsernames"
	KeyBlockBotsByDefault  = "blockBotsByDefault"
	KeyPersistBotUsers     = "persistBotUsers"
)

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

// Values is one consistent snapshot of every configuration key, with
// defaults applied for absent keys.
type Values struct {
	BlockedUsers        []string
	BlockedDisplayNames []string
	WhitelistedUsers    []string
	AutoMapUsernames    bool
	BlockBotsByDefault  bool
	PersistBotUsers     bool
}

func defaults() Values {
	return Values{
		AutoMapUsernames:   true,
		BlockBotsByDefault: true,
		PersistBotUsers:    false,
	}
}

// Store persists configuration in SQLite.
type Store struct {
	db *sql.DB

	mu       sync.Mutex
	watchers []func(Values)
}

// Open opens (creating if needed) a settings store at path and applies the
// schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("settings path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open settings db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("ping settings db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("apply settings schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Watch registers fn to run with the full new value set after every
// successful mutation. Notification is synchronous with the mutation.
func (s *Store) Watch(fn func(Values)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, fn)
}

// Load reads every key, applying defaults for absent ones.
func (s *Store) Load(ctx context.Context) (Values, error) {
	values := defaults()

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return values, fmt.Errorf("load settings: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only

	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return values, fmt.Errorf("scan setting: %w", err)
		}
		applyValue(&values, key, raw)
	}
	if err := rows.Err(); err != nil {
		return values, fmt.Errorf("iterate settings: %w", err)
	}
	return values, nil
}

func applyValue(values *Values, key, raw string) {
	switch key {
	case KeyBlockedUsers:
		_ = json.Unmarshal([]byte(raw), &values.BlockedUsers) //nolint:errcheck // malformed rows keep defaults
	case KeyBlockedDisplayNames:
		_ = json.Unmarshal([]byte(raw), &values.BlockedDisplayNames) //nolint:errcheck // as above
	case KeyWhitelistedUsers:
		_ = json.Unmarshal([]byte(raw), &values.WhitelistedUsers) //nolint:errcheck // as above
	case KeyAutoMapUsernames:
		_ = json.Unmarshal([]byte(raw), &values.AutoMapUsernames) //nolint:errcheck // as above
	case KeyBlockBotsByDefault:
		_ = json.Unmarshal([]byte(raw), &values.BlockBotsByDefault) //nolint:errcheck // as above
	case KeyPersistBotUsers:
		_ = json.Unmarshal([]byte(raw), &values.PersistBotUsers) //nolint:errcheck // as above
	}
}

// SetStrings stores a string list under key. Storing a value identical to
// the current one is a no-op and notifies nobody.
func (s *Store) SetStrings(ctx context.Context, key string, value []string) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.set(ctx, key, string(encoded))
}

// SetBool stores a boolean under key.
func (s *Store) SetBool(ctx context.Context, key string, value bool) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.set(ctx, key, string(encoded))
}

func (s *Store) set(ctx context.Context, key, encoded string) error {
	var current sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read setting %s: %w", key, err)
	}
	if current.Valid && current.String == encoded {
		return nil
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, encoded)
	if err != nil {
		return fmt.Errorf("store setting %s: %w", key, err)
	}

	s.notify(ctx)
	return nil
}

// AddBlockedUser appends a normalized username to the blocked list, keeping
// it sorted. Adding a username already present is a no-op.
func (s *Store) AddBlockedUser(ctx context.Context, username string) error {
	if username == "" {
		return nil
	}
	values, err := s.Load(ctx)
	if err != nil {
		return err
	}
	for _, existing := range values.BlockedUsers {
		if existing == username {
			return nil
		}
	}
	updated := append(append([]string(nil), values.BlockedUsers...), username)
	sort.Strings(updated)
	return s.SetStrings(ctx, KeyBlockedUsers, updated)
}

func (s *Store) notify(ctx context.Context) {
	values, err := s.Load(ctx)
	if err != nil {
		return
	}
	s.mu.Lock()
	watchers := slices.Clone(s.watchers)
	s.mu.Unlock()
	for _, fn := range watchers {
		fn(values)
	}
}
