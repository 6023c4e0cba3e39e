package p2p

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/Laisky/errors/v2"
	gossipsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/notassigned/markdowncli/internal/logging"
	"github.com/notassigned/markdowncli/internal/safemap"
)

// AnnounceTopic is the gossipsub topic service hosts publish
// ServiceAnnouncement messages on.
const AnnounceTopic = "url-protocol/services/1.0.0"

// announcementTTL is how long an announcement stays a candidate without
// being repeated.
const announcementTTL = 10 * time.Minute

// ServiceAnnouncement advertises the services a peer serves.
type ServiceAnnouncement struct {
	PeerID   string   `json:"peer_id"`
	Addrs    []string `json:"addrs"`
	Services []string `json:"services"`
}

type announcedPeer struct {
	info     peer.AddrInfo
	services []string
	seen     time.Time
}

type announcementTable struct {
	peers *safemap.SafeMap[peer.ID, announcedPeer]
}

func newAnnouncementTable() *announcementTable {
	return &announcementTable{peers: safemap.NewSafeMap[peer.ID, announcedPeer]()}
}

// record stores an announcement. A message must be published by the peer it
// describes, otherwise any peer could redirect a service to itself.
func (t *announcementTable) record(data []byte, from peer.ID) error {
	var ann ServiceAnnouncement
	if err := json.Unmarshal(data, &ann); err != nil {
		return errors.Wrap(err, "decode announcement")
	}
	id, err := peer.Decode(ann.PeerID)
	if err != nil {
		return errors.Wrapf(err, "decode announced peer id `%s`", ann.PeerID)
	}
	if id != from {
		return errors.Errorf("announcement for %s published by %s", id, from)
	}

	info := peer.AddrInfo{ID: id}
	for _, addr := range ann.Addrs {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			continue
		}
		info.Addrs = append(info.Addrs, ma)
	}
	t.peers.Store(id, announcedPeer{info: info, services: ann.Services, seen: time.Now()})
	return nil
}

// forService returns announced peers serving service, most recent first.
// Expired announcements are dropped.
func (t *announcementTable) forService(service string) []peer.AddrInfo {
	t.prune(time.Now())

	matches := t.peers.Values(func(_ peer.ID, p announcedPeer) bool {
		return slices.Contains(p.services, service)
	})
	slices.SortFunc(matches, func(a, b announcedPeer) int {
		return b.seen.Compare(a.seen)
	})

	out := make([]peer.AddrInfo, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.info)
	}
	return out
}

func (t *announcementTable) prune(now time.Time) {
	expired := t.peers.Values(func(_ peer.ID, p announcedPeer) bool {
		return now.Sub(p.seen) > announcementTTL
	})
	for _, p := range expired {
		t.peers.Delete(p.info.ID)
	}
}

func (t *announcementTable) size() int {
	return t.peers.Len()
}

func (t *announcementTable) reset() {
	t.peers.Clear()
}

type gossipSubscription struct {
	topic *gossipsub.Topic
	sub   *gossipsub.Subscription
}

func (g *gossipSubscription) close() {
	g.sub.Cancel()
	g.topic.Close()
}

// joinAnnouncements subscribes to AnnounceTopic and fills the announcement
// table in the background until the node is closed.
func (p *P2PNode) joinAnnouncements() error {
	gossip, err := gossipsub.NewGossipSub(p.ctx,
		p.host,
		gossipsub.WithDiscovery(p.discovery))
	if err != nil {
		return errors.Wrap(err, "start gossipsub")
	}

	topic, err := gossip.Join(AnnounceTopic)
	if err != nil {
		return errors.Wrapf(err, "join topic `%s`", AnnounceTopic)
	}

	sub, err := topic.Subscribe()
	if err != nil {
		topic.Close()
		return errors.Wrapf(err, "subscribe topic `%s`", AnnounceTopic)
	}
	p.gossip = &gossipSubscription{topic: topic, sub: sub}

	go func() {
		for {
			msg, err := sub.Next(p.ctx)
			if err != nil {
				return
			}
			if msg.ReceivedFrom == p.host.ID() {
				continue
			}
			if err := p.announced.record(msg.Data, msg.GetFrom()); err != nil {
				logging.L().Debug("ignore announcement", zap.Error(err))
			}
		}
	}()
	return nil
}
