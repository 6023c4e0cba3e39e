package cli

import (
	"strings"

	"github.com/Laisky/errors/v2"

	"github.com/notassigned/markdowncli/internal/config"
	"github.com/notassigned/markdowncli/internal/httpclient"
	"github.com/notassigned/markdowncli/internal/markdown"
	"github.com/notassigned/markdowncli/internal/p2p"
	"github.com/notassigned/markdowncli/internal/urlclient"
)

// ServiceFactory builds the client for the configured server.
type ServiceFactory func(cfg *config.Config) (markdown.Service, error)

// NewService picks the transport from the scheme of cfg.Server. The P2P
// resolver does not join the network until the first call.
func NewService(cfg *config.Config) (markdown.Service, error) {
	scheme, err := cfg.Scheme()
	if err != nil {
		return nil, err
	}

	switch scheme {
	case p2p.ServiceScheme:
		return urlclient.New(cfg.Server, p2p.NewResolver(cfg.P2P)), nil
	case "http", "https":
		return httpclient.New(strings.TrimRight(cfg.Server, "/"), cfg.HTTP.Timeout), nil
	default:
		return nil, errors.Errorf("unsupported server URL: %s", cfg.Server)
	}
}
