package peer

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// maxKnownPeers bounds the known-peers store; entries beyond the cap are
// dropped, oldest last-seen first.
const maxKnownPeers = 50

// KnownPeer is a previously-successful dial address and when it was last
// seen.
type KnownPeer struct {
	Address    string
	LastSeenMs int64
}

// KnownPeerStore persists addresses the peer has successfully dialed
// before, for auto-redial on the next run. Backed by a single
// address/last-seen SQLite table under the data directory.
type KnownPeerStore struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenKnownPeerStore opens (creating if absent) <dataDir>/known-peers.db.
func OpenKnownPeerStore(dataDir string) (*KnownPeerStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "known-peers.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open known-peers db: %w", err)
	}

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
		CREATE TABLE IF NOT EXISTS known_peers (
			address      TEXT PRIMARY KEY,
			last_seen_ms INTEGER NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create known_peers table: %w", err)
	}

	return &KnownPeerStore{db: db}, nil
}

// Close closes the underlying database.
func (s *KnownPeerStore) Close() error {
	return s.db.Close()
}

// Add normalizes address, upserts it with nowMs as its last-seen time, then enforces
// the 50-entry cap by dropping the oldest entries beyond it.
func (s *KnownPeerStore) Add(address string, nowMs int64) error {
	address = normalizeAddress(address)
	if address == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`
		INSERT INTO known_peers (address, last_seen_ms) VALUES (?, ?)
		ON CONFLICT(address) DO UPDATE SET last_seen_ms = excluded.last_seen_ms`,
		address, nowMs,
	); err != nil {
		return fmt.Errorf("upsert known peer: %w", err)
	}

	_, err := s.db.Exec(`
		DELETE FROM known_peers WHERE address NOT IN (
			SELECT address FROM known_peers ORDER BY last_seen_ms DESC LIMIT ?
		)`, maxKnownPeers)
	if err != nil {
		return fmt.Errorf("trim known peers: %w", err)
	}
	return nil
}

// All returns every surviving known peer, most-recent first, rejecting
// any stale-corrupted row whose address doesn't begin with "/".
func (s *KnownPeerStore) All() ([]KnownPeer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT address, last_seen_ms FROM known_peers ORDER BY last_seen_ms DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []KnownPeer
	for rows.Next() {
		var kp KnownPeer
		if err := rows.Scan(&kp.Address, &kp.LastSeenMs); err != nil {
			return nil, err
		}
		if !strings.HasPrefix(kp.Address, "/") {
			continue
		}
		out = append(out, kp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeenMs > out[j].LastSeenMs })
	return out, rows.Err()
}

// normalizeAddress trims whitespace and a trailing slash.
func normalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	return strings.TrimSuffix(address, "/")
}
