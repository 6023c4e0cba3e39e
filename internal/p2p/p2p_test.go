package p2p

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"

	"github.com/notassigned/markdowncli/internal/database"
)

func newPeerID(t *testing.T) peer.ID {
	_, pub, err := crypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	id, err := peer.IDFromPublicKey(pub)
	require.NoError(t, err)
	return id
}

// startServiceHost starts a host answering RPCProtocol with handle.
func startServiceHost(t *testing.T, handle func(RPCRequest) RPCResponse) host.Host {
	h, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })

	h.SetStreamHandler(RPCProtocol, func(s network.Stream) {
		defer s.Close()
		var req RPCRequest
		if err := json.NewDecoder(s).Decode(&req); err != nil {
			s.Reset()
			return
		}
		_ = json.NewEncoder(s).Encode(handle(req))
	})
	return h
}

func hostAddr(t *testing.T, h host.Host) string {
	addrs, err := peer.AddrInfoToP2pAddrs(&peer.AddrInfo{ID: h.ID(), Addrs: h.Addrs()})
	require.NoError(t, err)
	require.NotEmpty(t, addrs)
	return addrs[0].String()
}

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.StatePath = filepath.Join(t.TempDir(), "state.db")
	cfg.ListenAddrs = []string{"/ip4/127.0.0.1/tcp/0"}
	cfg.BootstrapPeers = nil
	cfg.DiscoveryTimeout = 2 * time.Second
	cfg.CallTimeout = 5 * time.Second
	return cfg
}

func strPtr(s string) *string {
	return &s
}

func TestParseServiceURL(t *testing.T) {
	for in, want := range map[string]string{
		"url://markdown/":    "markdown",
		"url://markdown":     "markdown",
		"url://Markdown/x/y": "markdown",
		"url://notes.v2/":    "notes.v2",
	} {
		got, err := ParseServiceURL(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	for _, in := range []string{"http://markdown/", "url:///", "markdown", ""} {
		_, err := ParseServiceURL(in)
		require.Error(t, err, in)
	}
}

func TestNewResolverIsLazy(t *testing.T) {
	cfg := testConfig(t)

	start := time.Now()
	r := NewResolver(cfg)
	require.Less(t, time.Since(start), 100*time.Millisecond)
	require.False(t, r.Started())
	require.NoFileExists(t, cfg.StatePath)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	require.NoFileExists(t, cfg.StatePath)
}

func TestResolverClosed(t *testing.T) {
	r := NewResolver(testConfig(t))
	require.NoError(t, r.Close())

	_, err := r.SendServiceRpcRequest(context.Background(), "url://markdown/", "health", nil)
	require.ErrorIs(t, err, ErrClosed)
}

func TestResolverRejectsBadURLBeforeStart(t *testing.T) {
	r := NewResolver(testConfig(t))
	defer r.Close()

	_, err := r.SendServiceRpcRequest(context.Background(), "http://markdown/", "health", nil)
	require.Error(t, err)
	require.False(t, r.Started())
}

func TestAnnouncementTable(t *testing.T) {
	table := newAnnouncementTable()
	older, newer, other := newPeerID(t), newPeerID(t), newPeerID(t)

	announce := func(id peer.ID, services ...string) []byte {
		data, err := json.Marshal(ServiceAnnouncement{
			PeerID:   id.String(),
			Addrs:    []string{"/ip4/127.0.0.1/tcp/4001", "not-an-addr"},
			Services: services,
		})
		require.NoError(t, err)
		return data
	}

	require.NoError(t, table.record(announce(older, "markdown"), older))
	time.Sleep(time.Millisecond)
	require.NoError(t, table.record(announce(newer, "markdown", "notes"), newer))
	require.NoError(t, table.record(announce(other, "notes"), other))

	// published on behalf of another peer
	require.Error(t, table.record(announce(other, "markdown"), newer))
	require.Error(t, table.record([]byte("{"), newer))

	got := table.forService("markdown")
	require.Len(t, got, 2)
	require.Equal(t, newer, got[0].ID)
	require.Equal(t, older, got[1].ID)
	require.Len(t, got[0].Addrs, 1)

	require.Empty(t, table.forService("unknown"))
	require.Equal(t, 3, table.size())

	table.prune(time.Now().Add(announcementTTL + time.Second))
	require.Zero(t, table.size())
	require.Empty(t, table.forService("markdown"))

	require.NoError(t, table.record(announce(older, "markdown"), older))
	table.reset()
	require.Zero(t, table.size())
}

func TestRPCRoundTripViaBootstrap(t *testing.T) {
	var (
		mu   sync.Mutex
		seen RPCRequest
	)
	server := startServiceHost(t, func(req RPCRequest) RPCResponse {
		mu.Lock()
		defer mu.Unlock()
		seen = req
		return RPCResponse{Result: strPtr(`{"result":"OK"}`)}
	})

	cfg := testConfig(t)
	cfg.BootstrapPeers = []BootstrapPeer{{Addr: hostAddr(t, server), Services: []string{"markdown"}}}
	r := NewResolver(cfg)

	result, err := r.SendServiceRpcRequest(context.Background(), "url://markdown/", "health",
		map[string]string{"a": "b"})
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, `{"result":"OK"}`, *result)
	require.True(t, r.Started())
	require.NoError(t, r.Close())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "markdown", seen.Service)
	require.Equal(t, "health", seen.Method)
	require.Equal(t, map[string]string{"a": "b"}, seen.Params)

	state, err := database.Open(cfg.StatePath)
	require.NoError(t, err)
	defer state.Close()
	cached, err := state.ServicePeers("markdown")
	require.NoError(t, err)
	require.Len(t, cached, 1)
	require.Equal(t, server.ID(), cached[0].ID)
}

func TestRPCNullResult(t *testing.T) {
	server := startServiceHost(t, func(RPCRequest) RPCResponse {
		return RPCResponse{}
	})

	cfg := testConfig(t)
	cfg.BootstrapPeers = []BootstrapPeer{{Addr: hostAddr(t, server), Services: []string{"markdown"}}}
	r := NewResolver(cfg)
	defer r.Close()

	result, err := r.SendServiceRpcRequest(context.Background(), "url://markdown/", "createFile", nil)
	require.NoError(t, err)
	require.Nil(t, result)
}

func TestRPCRemoteError(t *testing.T) {
	var calls atomic.Int32
	server := startServiceHost(t, func(RPCRequest) RPCResponse {
		calls.Add(1)
		return RPCResponse{Error: "unknown method"}
	})

	cfg := testConfig(t)
	cfg.BootstrapPeers = []BootstrapPeer{{Addr: hostAddr(t, server), Services: []string{"markdown"}}}
	r := NewResolver(cfg)
	defer r.Close()

	_, err := r.SendServiceRpcRequest(context.Background(), "url://markdown/", "bogus", nil)
	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	require.Equal(t, "unknown method", remote.Message)
	require.Equal(t, server.ID(), remote.Peer)
	require.EqualValues(t, 1, calls.Load())
}

func TestUnreachableCachedPeerIsEvicted(t *testing.T) {
	server := startServiceHost(t, func(RPCRequest) RPCResponse {
		return RPCResponse{Result: strPtr(`{"files":[]}`)}
	})
	cfg := testConfig(t)

	deadAddr, err := multiaddr.NewMultiaddr("/ip4/127.0.0.1/tcp/1")
	require.NoError(t, err)
	dead := peer.AddrInfo{ID: newPeerID(t), Addrs: []multiaddr.Multiaddr{deadAddr}}

	state, err := database.Open(cfg.StatePath)
	require.NoError(t, err)
	require.NoError(t, state.AddServicePeer("markdown", peer.AddrInfo{ID: server.ID(), Addrs: server.Addrs()}))
	time.Sleep(time.Millisecond)
	// seen last, so tried first
	require.NoError(t, state.AddServicePeer("markdown", dead))
	require.NoError(t, state.Close())

	r := NewResolver(cfg)
	result, err := r.SendServiceRpcRequest(context.Background(), "url://markdown/", "listFiles", nil)
	require.NoError(t, err)
	require.Equal(t, `{"files":[]}`, *result)
	require.NoError(t, r.Close())

	state, err = database.Open(cfg.StatePath)
	require.NoError(t, err)
	defer state.Close()
	cached, err := state.ServicePeers("markdown")
	require.NoError(t, err)
	require.Len(t, cached, 1)
	require.Equal(t, server.ID(), cached[0].ID)
}

func TestNoPeerServesService(t *testing.T) {
	cfg := testConfig(t)
	cfg.StatePath = ""
	cfg.DiscoveryTimeout = 200 * time.Millisecond
	r := NewResolver(cfg)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := r.SendServiceRpcRequest(ctx, "url://nobody-serves-this/", "health", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "nobody-serves-this")
}
