// Package identity owns the peer's long-term signing keypair: an Ed25519
// key persisted under the data directory, or an ephemeral in-memory key
// when a port conflict indicates another instance already owns that
// directory.
package identity

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/concord-chat/concord/internal/util"
)

var log = logging.Logger("concord/identity")

// Identity pairs a signing key with its derived, stable peer-id.
type Identity struct {
	PrivateKey crypto.PrivKey
	PeerID     peer.ID
}

// fileFormat is the JSON shape persisted at <dataDir>/node-identity.json.
type fileFormat struct {
	PrivateKey string `json:"privateKey"` // base64(protobuf-encoded key)
	CreatedAt  string `json:"createdAt"`  // ISO-8601
}

// LoadOrCreate loads a persisted identity or creates a new one. When
// portConflict is true it returns a fresh in-memory keypair that is never
// written to disk. Otherwise it tries to decode a persisted keypair at
// path; on success that identity is returned unchanged. If the file is
// absent or corrupt, a new keypair is generated and persisted
// (write-temp-then-rename); a failure to persist is logged but not
// treated as fatal.
func LoadOrCreate(path string, portConflict bool) (id Identity, isEphemeral bool, err error) {
	if portConflict {
		priv, _, genErr := crypto.GenerateEd25519Key(nil)
		if genErr != nil {
			return Identity{}, true, fmt.Errorf("generate ephemeral identity: %w", genErr)
		}
		pid, pidErr := peer.IDFromPrivateKey(priv)
		if pidErr != nil {
			return Identity{}, true, fmt.Errorf("derive ephemeral peer id: %w", pidErr)
		}
		log.Info("port conflict detected: using ephemeral identity, not persisting")
		return Identity{PrivateKey: priv, PeerID: pid}, true, nil
	}

	if priv, ok := loadFromDisk(path); ok {
		pid, pidErr := peer.IDFromPrivateKey(priv)
		if pidErr == nil {
			return Identity{PrivateKey: priv, PeerID: pid}, false, nil
		}
		log.Warnf("identity file at %s yielded an undecodable peer id: %v (regenerating)", path, pidErr)
	}

	priv, _, genErr := crypto.GenerateEd25519Key(nil)
	if genErr != nil {
		return Identity{}, false, fmt.Errorf("generate identity: %w", genErr)
	}
	pid, pidErr := peer.IDFromPrivateKey(priv)
	if pidErr != nil {
		return Identity{}, false, fmt.Errorf("derive peer id: %w", pidErr)
	}

	if saveErr := save(path, priv); saveErr != nil {
		log.Warnf("failed to persist new identity at %s: %v (continuing with in-memory key)", path, saveErr)
	} else {
		log.Infof("generated and persisted new identity: %s", path)
	}

	return Identity{PrivateKey: priv, PeerID: pid}, false, nil
}

// loadFromDisk attempts to read and decode a persisted identity. Any
// failure (missing file, bad JSON, bad base64, bad protobuf) returns
// ok=false so the caller falls back to generating a new key.
func loadFromDisk(path string) (crypto.PrivKey, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var ff fileFormat
	if err := json.Unmarshal(b, &ff); err != nil {
		log.Warnf("corrupt identity file at %s: %v", path, err)
		return nil, false
	}

	raw, err := base64.StdEncoding.DecodeString(ff.PrivateKey)
	if err != nil {
		log.Warnf("corrupt identity encoding at %s: %v", path, err)
		return nil, false
	}

	priv, err := crypto.UnmarshalPrivateKey(raw)
	if err != nil {
		log.Warnf("corrupt identity key at %s: %v", path, err)
		return nil, false
	}
	return priv, true
}

func save(path string, priv crypto.PrivKey) error {
	raw, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}

	ff := fileFormat{
		PrivateKey: base64.StdEncoding.EncodeToString(raw),
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	b, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}
	return util.WriteFileAtomic(path, b, 0o600)
}
