package database

import (
	"crypto/ed25519"
	"crypto/rand"
	"database/sql"
	"encoding/base64"

	"github.com/Laisky/errors/v2"
)

const peerPrivateKeyProperty = "peer_private_key"

// PeerKey returns the node's ed25519 identity, generating and storing one on
// first use so the CLI keeps the same peer ID across runs.
func (db *StateDB) PeerKey() (ed25519.PrivateKey, error) {
	encoded, err := db.GetNodeProperty(peerPrivateKeyProperty)
	switch {
	case err == nil:
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, errors.Wrap(err, "decode stored peer key")
		}
		if len(raw) != ed25519.PrivateKeySize {
			return nil, errors.Errorf("stored peer key has invalid length %d", len(raw))
		}
		return ed25519.PrivateKey(raw), nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, errors.Wrap(err, "load peer key")
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "generate peer key")
	}
	if err := db.SetNodeProperty(peerPrivateKeyProperty, base64.StdEncoding.EncodeToString(priv)); err != nil {
		return nil, errors.Wrap(err, "store peer key")
	}
	return priv, nil
}
