package p2p

import (
	"context"
	"encoding/json"

	"github.com/Laisky/errors/v2"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// RPCProtocol carries one request and one response per stream.
const RPCProtocol = protocol.ID("/url/rpc/1.0.0")

// RPCRequest is written by the caller, followed by CloseWrite.
type RPCRequest struct {
	Service string            `json:"service"`
	Method  string            `json:"method"`
	Params  map[string]string `json:"params"`
}

// RPCResponse carries a JSON-encoded result string, or null when the method
// produced no response.
type RPCResponse struct {
	Result *string `json:"result"`
	Error  string  `json:"error,omitempty"`
}

// RemoteError is an error reported by the serving peer. It ends resolution:
// another peer of the same service would answer the same way.
type RemoteError struct {
	Peer    peer.ID
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// call sends req to addrInfo and waits for the response.
func (p *P2PNode) call(ctx context.Context, addrInfo peer.AddrInfo, req RPCRequest) (*string, error) {
	stream, err := p.NewStreamToPeer(ctx, addrInfo, RPCProtocol)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetDeadline(deadline)
	}

	return exchange(stream, req)
}

func exchange(stream network.Stream, req RPCRequest) (*string, error) {
	encoder := json.NewEncoder(stream)
	if err := encoder.Encode(req); err != nil {
		stream.Reset()
		return nil, errors.Wrap(err, "send request")
	}
	if err := stream.CloseWrite(); err != nil {
		stream.Reset()
		return nil, errors.Wrap(err, "close request")
	}

	var resp RPCResponse
	decoder := json.NewDecoder(stream)
	if err := decoder.Decode(&resp); err != nil {
		stream.Reset()
		return nil, errors.Wrap(err, "read response")
	}

	if resp.Error != "" {
		return nil, &RemoteError{Peer: stream.Conn().RemotePeer(), Message: resp.Error}
	}
	return resp.Result, nil
}
