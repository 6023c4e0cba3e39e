package database

import (
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// ServicePeers returns the cached peers for service, most recently seen first.
// Rows with an undecodable peer ID are skipped, as are unparsable addresses.
func (db *StateDB) ServicePeers(service string) ([]peer.AddrInfo, error) {
	rows, err := db.db.Query(
		"SELECT peer_id, addrs FROM service_peers WHERE service = ? ORDER BY last_seen DESC", service)
	if err != nil {
		return nil, errors.Wrapf(err, "query peers for `%s`", service)
	}
	defer rows.Close()

	var peers []peer.AddrInfo
	for rows.Next() {
		var peerID string
		var addresses string
		if err := rows.Scan(&peerID, &addresses); err != nil {
			continue
		}
		pID, err := peer.Decode(peerID)
		if err != nil {
			continue
		}

		addrInfo := peer.AddrInfo{ID: pID}
		for _, addr := range strings.Split(addresses, "\n") {
			if addr == "" {
				continue
			}
			ma, err := multiaddr.NewMultiaddr(addr)
			if err != nil {
				continue
			}
			addrInfo.Addrs = append(addrInfo.Addrs, ma)
		}
		peers = append(peers, addrInfo)
	}
	return peers, rows.Err()
}

// AddServicePeer records that addrInfo served service, refreshing last_seen.
func (db *StateDB) AddServicePeer(service string, addrInfo peer.AddrInfo) error {
	addresses := make([]string, 0, len(addrInfo.Addrs))
	for _, addr := range addrInfo.Addrs {
		addresses = append(addresses, addr.String())
	}
	_, err := db.db.Exec(
		"INSERT OR REPLACE INTO service_peers (service, peer_id, addrs, last_seen) VALUES (?, ?, ?, ?)",
		service, addrInfo.ID.String(), strings.Join(addresses, "\n"), time.Now().UnixNano())
	return err
}

// RemoveServicePeer evicts a peer from the cache of service.
func (db *StateDB) RemoveServicePeer(service string, peerID string) error {
	_, err := db.db.Exec("DELETE FROM service_peers WHERE service = ? AND peer_id = ?", service, peerID)
	return err
}
