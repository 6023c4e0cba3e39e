package p2p

import (
	"context"
	"crypto/ed25519"
	"sync"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/discovery"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/routing"
	libp2ptls "github.com/libp2p/go-libp2p/p2p/security/tls"
	"go.uber.org/zap"
	"golang.org/x/crypto/scrypt"

	"github.com/notassigned/markdowncli/internal/logging"
)

const rendezvousSalt = "url-protocol-rendezvous"

// P2PNode is a client-side libp2p node: a host, a Kademlia DHT in client
// mode for routing discovery, and the service announcement subscription.
type P2PNode struct {
	host      host.Host
	dht       *dht.IpfsDHT
	discovery *routing.RoutingDiscovery
	announced *announcementTable
	gossip    *gossipSubscription

	// ctx outlives any single call; it is cancelled by Close
	ctx    context.Context
	cancel context.CancelFunc
}

func NewP2PNode(ctx context.Context, peerPrivKey ed25519.PrivateKey, listenAddrs []string, bootstrap []peer.AddrInfo) (*P2PNode, error) {
	// Convert ed25519 private key to libp2p crypto.PrivateKey
	lpriv, err := crypto.UnmarshalEd25519PrivateKey(peerPrivKey)
	if err != nil {
		return nil, errors.Wrap(err, "unmarshal peer key")
	}

	opts := []libp2p.Option{
		libp2p.Identity(lpriv),
		libp2p.EnableHolePunching(),
		libp2p.DisableMetrics(),
		libp2p.Security(libp2ptls.ID, libp2ptls.New),
	}
	if len(listenAddrs) > 0 {
		opts = append(opts, libp2p.ListenAddrStrings(listenAddrs...))
	} else {
		opts = append(opts, libp2p.NoListenAddrs)
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "start libp2p host")
	}
	logging.L().Debug("node started", zap.Stringer("peer_id", h.ID()))

	nodeCtx, cancel := context.WithCancel(context.Background())
	n := &P2PNode{
		host:      h,
		announced: newAnnouncementTable(),
		ctx:       nodeCtx,
		cancel:    cancel,
	}

	if err := n.setupDiscovery(ctx, bootstrap); err != nil {
		n.Close()
		return nil, err
	}
	if err := n.joinAnnouncements(); err != nil {
		// announcements only add candidates; the other sources still work
		logging.L().Warn("join service announcements", zap.Error(err))
	}

	return n, nil
}

func (p *P2PNode) GetPeerId() peer.ID {
	return p.host.ID()
}

func (p *P2PNode) setupDiscovery(ctx context.Context, bootstrap []peer.AddrInfo) error {
	//setup discovery using the kademlia DHT
	kademliaDHT, err := dht.New(p.ctx, p.host,
		dht.Mode(dht.ModeClient),
		dht.BootstrapPeers(bootstrap...))
	if err != nil {
		return errors.Wrap(err, "create dht")
	}
	p.dht = kademliaDHT

	if err = kademliaDHT.Bootstrap(p.ctx); err != nil {
		return errors.Wrap(err, "bootstrap dht")
	}

	var wg sync.WaitGroup
	for _, info := range bootstrap {
		wg.Add(1)
		go func(info peer.AddrInfo) {
			defer wg.Done()
			if err := p.host.Connect(ctx, info); err != nil {
				logging.L().Warn("bootstrap connect failed",
					zap.Stringer("peer_id", info.ID), zap.Error(err))
			}
		}(info)
	}
	wg.Wait()

	p.discovery = routing.NewRoutingDiscovery(kademliaDHT)
	return nil
}

func rendezvousKey(service string) (string, error) {
	key, err := scrypt.Key([]byte(service), []byte(rendezvousSalt), 32768, 8, 1, 32)
	if err != nil {
		return "", err
	}
	return string(key[:]), nil
}

// discoverPeers looks up peers advertising service on the DHT.
func (p *P2PNode) discoverPeers(ctx context.Context, service string) (<-chan peer.AddrInfo, error) {
	key, err := rendezvousKey(service)
	if err != nil {
		return nil, errors.Wrap(err, "derive rendezvous key")
	}
	peers, err := p.discovery.FindPeers(ctx, key, discovery.TTL(time.Hour))
	if err != nil {
		return nil, errors.Wrapf(err, "find peers for `%s`", service)
	}

	return peers, nil
}

func (p *P2PNode) NewStreamToPeer(ctx context.Context, addrInfo peer.AddrInfo, protocolID protocol.ID) (network.Stream, error) {
	if addrInfo.ID == p.host.ID() {
		return nil, errors.New("refusing to dial self")
	}
	if err := p.host.Connect(ctx, addrInfo); err != nil {
		return nil, errors.Wrapf(err, "connect to %s", addrInfo.ID)
	}
	stream, err := p.host.NewStream(ctx, addrInfo.ID, protocolID)
	if err != nil {
		return nil, errors.Wrapf(err, "open stream to %s", addrInfo.ID)
	}
	return stream, nil
}

// Close stops the subscription, the DHT and the host.
func (p *P2PNode) Close() error {
	p.cancel()
	if p.gossip != nil {
		p.gossip.close()
	}
	p.announced.reset()

	var firstErr error
	if p.dht != nil {
		if err := p.dht.Close(); err != nil {
			firstErr = errors.Wrap(err, "close dht")
		}
	}
	if err := p.host.Close(); err != nil && firstErr == nil {
		firstErr = errors.Wrap(err, "close host")
	}
	return firstErr
}
