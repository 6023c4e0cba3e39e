// Package p2p resolves url:// services over libp2p and carries RPC calls
// to the peers serving them.
package p2p

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Laisky/errors/v2"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/notassigned/markdowncli/internal/database"
	"github.com/notassigned/markdowncli/internal/logging"
)

// ServiceScheme is the URL scheme of services resolved over the P2P network.
const ServiceScheme = "url"

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("resolver closed")

// BootstrapPeer is a peer dialled when the node starts. Services lists what
// the peer is known to serve, which lets resolution skip discovery.
type BootstrapPeer struct {
	Addr     string   `mapstructure:"addr"`
	Services []string `mapstructure:"services"`
}

// Config configures a Resolver.
type Config struct {
	// StatePath is the sqlite file holding the peer identity and peer cache.
	// Empty means an ephemeral identity and no cache.
	StatePath           string          `mapstructure:"state_path"`
	ListenAddrs         []string        `mapstructure:"listen_addrs"`
	BootstrapPeers      []BootstrapPeer `mapstructure:"bootstrap_peers"`
	UseDefaultBootstrap bool            `mapstructure:"use_default_bootstrap"`
	DiscoveryTimeout    time.Duration   `mapstructure:"discovery_timeout"`
	CallTimeout         time.Duration   `mapstructure:"call_timeout"`
}

// DefaultBootstrapPeers is the public peer serving url://markdown/.
var DefaultBootstrapPeers = []BootstrapPeer{
	{
		Addr:     "/ip4/198.199.106.165/tcp/35000/p2p/12D3KooWLMyXNfwhcX1YsiNx3hnjk3GGSfsU1fydRa8bzrE6scMT",
		Services: []string{"markdown"},
	},
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		ListenAddrs: []string{
			"/ip4/0.0.0.0/tcp/0",
			"/ip4/0.0.0.0/udp/0/quic-v1",
		},
		BootstrapPeers:   DefaultBootstrapPeers,
		DiscoveryTimeout: 20 * time.Second,
		CallTimeout:      30 * time.Second,
	}
}

// ParseServiceURL extracts the service name from url://<service>/.
func ParseServiceURL(serviceURL string) (string, error) {
	u, err := url.Parse(serviceURL)
	if err != nil {
		return "", errors.Wrapf(err, "parse service url `%s`", serviceURL)
	}
	if u.Scheme != ServiceScheme {
		return "", errors.Errorf("service url `%s` must use the %s:// scheme", serviceURL, ServiceScheme)
	}
	if u.Host == "" {
		return "", errors.Errorf("service url `%s` has no service name", serviceURL)
	}
	return strings.ToLower(u.Host), nil
}

// Resolver sends RPC requests to url:// services.
//
// Constructing a Resolver does no I/O. The node is started by the first
// request, so commands that fail before reaching the network never join it.
type Resolver struct {
	cfg Config

	mu     sync.Mutex
	node   *P2PNode
	state  *database.StateDB
	closed bool
}

func NewResolver(cfg Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// Started reports whether the node has been started.
func (r *Resolver) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.node != nil
}

func (r *Resolver) bootstrapPeers() []peer.AddrInfo {
	var infos []peer.AddrInfo
	for _, bp := range r.cfg.BootstrapPeers {
		info, err := peer.AddrInfoFromString(bp.Addr)
		if err != nil {
			logging.L().Warn("skip invalid bootstrap peer", zap.String("addr", bp.Addr), zap.Error(err))
			continue
		}
		infos = append(infos, *info)
	}
	if r.cfg.UseDefaultBootstrap {
		infos = append(infos, dht.GetDefaultBootstrapPeerAddrInfos()...)
	}
	return infos
}

// start brings the node up once. A failed start leaves the resolver
// unstarted so a later call may try again.
func (r *Resolver) start(ctx context.Context) (*P2PNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if r.node != nil {
		return r.node, nil
	}

	var key ed25519.PrivateKey
	if r.cfg.StatePath != "" {
		state, err := database.Open(r.cfg.StatePath)
		if err != nil {
			return nil, err
		}
		if key, err = state.PeerKey(); err != nil {
			state.Close()
			return nil, err
		}
		r.state = state
	} else {
		var err error
		if _, key, err = ed25519.GenerateKey(rand.Reader); err != nil {
			return nil, errors.Wrap(err, "generate ephemeral peer key")
		}
	}

	node, err := NewP2PNode(ctx, key, r.cfg.ListenAddrs, r.bootstrapPeers())
	if err != nil {
		if r.state != nil {
			r.state.Close()
			r.state = nil
		}
		return nil, err
	}
	r.node = node
	return node, nil
}

// SendServiceRpcRequest calls method on the service named by serviceURL and
// returns the JSON-encoded result, or nil when the service sent no response.
func (r *Resolver) SendServiceRpcRequest(ctx context.Context, serviceURL, method string, params map[string]string) (*string, error) {
	service, err := ParseServiceURL(serviceURL)
	if err != nil {
		return nil, err
	}
	node, err := r.start(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "join network")
	}

	req := RPCRequest{Service: service, Method: method, Params: params}
	if req.Params == nil {
		req.Params = map[string]string{}
	}

	tried := map[peer.ID]bool{}
	var lastErr error
	try := func(info peer.AddrInfo, source string) (*string, bool, error) {
		if tried[info.ID] || info.ID == node.GetPeerId() {
			return nil, false, nil
		}
		tried[info.ID] = true

		logging.L().Debug("rpc candidate",
			zap.String("service", service),
			zap.String("method", method),
			zap.String("source", source),
			zap.Stringer("peer_id", info.ID))

		result, err := r.callPeer(ctx, node, service, info, req)
		if err == nil {
			return result, true, nil
		}
		var remote *RemoteError
		if errors.As(err, &remote) {
			return nil, true, err
		}
		lastErr = err
		return nil, false, nil
	}

	for _, stage := range []struct {
		source string
		peers  func() []peer.AddrInfo
	}{
		{"bootstrap", func() []peer.AddrInfo { return r.bootstrapFor(service) }},
		{"cache", func() []peer.AddrInfo { return r.cachedFor(service) }},
		{"announcement", func() []peer.AddrInfo {
			logging.L().Debug("announced peers", zap.Int("known", node.announced.size()))
			return node.announced.forService(service)
		}},
	} {
		for _, info := range stage.peers() {
			if result, done, err := try(info, stage.source); done {
				return result, err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	discoverCtx, cancel := context.WithTimeout(ctx, r.discoveryTimeout())
	defer cancel()
	found, err := node.discoverPeers(discoverCtx, service)
	if err != nil {
		lastErr = err
	} else {
		for info := range found {
			if result, done, err := try(info, "dht"); done {
				return result, err
			}
		}
	}

	if lastErr != nil {
		return nil, errors.Wrapf(lastErr, "no reachable peer serves `%s`", service)
	}
	return nil, errors.Errorf("no peer found serving `%s`", service)
}

func (r *Resolver) callPeer(ctx context.Context, node *P2PNode, service string, info peer.AddrInfo, req RPCRequest) (*string, error) {
	callCtx := ctx
	if r.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.cfg.CallTimeout)
		defer cancel()
	}

	result, err := node.call(callCtx, info, req)
	var remote *RemoteError
	switch {
	case err == nil, errors.As(err, &remote):
		// the peer answered, so it does serve the service
		r.remember(service, node, info)
	default:
		r.forget(service, info.ID)
	}
	return result, err
}

func (r *Resolver) discoveryTimeout() time.Duration {
	if r.cfg.DiscoveryTimeout > 0 {
		return r.cfg.DiscoveryTimeout
	}
	return DefaultConfig().DiscoveryTimeout
}

func (r *Resolver) bootstrapFor(service string) []peer.AddrInfo {
	var infos []peer.AddrInfo
	for _, bp := range r.cfg.BootstrapPeers {
		serves := false
		for _, s := range bp.Services {
			if strings.EqualFold(s, service) {
				serves = true
				break
			}
		}
		if !serves {
			continue
		}
		info, err := peer.AddrInfoFromString(bp.Addr)
		if err != nil {
			continue
		}
		infos = append(infos, *info)
	}
	return infos
}

func (r *Resolver) cachedFor(service string) []peer.AddrInfo {
	if r.state == nil {
		return nil
	}
	peers, err := r.state.ServicePeers(service)
	if err != nil {
		logging.L().Warn("load cached peers", zap.String("service", service), zap.Error(err))
		return nil
	}
	return peers
}

func (r *Resolver) remember(service string, node *P2PNode, info peer.AddrInfo) {
	if r.state == nil {
		return
	}
	if len(info.Addrs) == 0 {
		info.Addrs = node.host.Peerstore().Addrs(info.ID)
	}
	if err := r.state.AddServicePeer(service, info); err != nil {
		logging.L().Warn("cache peer", zap.Stringer("peer_id", info.ID), zap.Error(err))
	}
}

func (r *Resolver) forget(service string, id peer.ID) {
	if r.state == nil {
		return
	}
	if err := r.state.RemoveServicePeer(service, id.String()); err != nil {
		logging.L().Warn("evict cached peer", zap.Stringer("peer_id", id), zap.Error(err))
		return
	}
	logging.L().Debug("evicted peer", zap.String("service", service), zap.Stringer("peer_id", id))
}

// Close stops the node and closes the state database. It is safe to call
// when no request was ever sent, and more than once.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var firstErr error
	if r.node != nil {
		firstErr = r.node.Close()
		r.node = nil
	}
	if r.state != nil {
		if err := r.state.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "close state db")
		}
		r.state = nil
	}
	return firstErr
}
