// Package config loads markdown-cli settings from flags, environment and an
// optional YAML file.
package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/notassigned/markdowncli/internal/httpclient"
	"github.com/notassigned/markdowncli/internal/p2p"
)

const (
	EnvPrefix     = "MARKDOWN_CLI"
	DefaultServer = "url://markdown/"
	appDir        = "markdown-cli"
)

type Config struct {
	Server    string     `mapstructure:"server"`
	Output    string     `mapstructure:"output"`
	Editor    string     `mapstructure:"editor"`
	LogLevel  string     `mapstructure:"log_level"`
	LogFormat string     `mapstructure:"log_format"`
	LogOutput string     `mapstructure:"log_output"`
	HTTP      HTTPConfig `mapstructure:"http"`
	P2P       p2p.Config `mapstructure:"p2p"`
}

type HTTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// Dir is the per-user directory holding the config file and P2P state.
func Dir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, appDir)
}

// New returns a viper instance with defaults and environment bindings.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	// EDITOR is the conventional variable; the prefixed one wins when both are set
	_ = v.BindEnv("editor", EnvPrefix+"_EDITOR", "EDITOR")

	return v
}

func setDefaults(v *viper.Viper) {
	p2pDefaults := p2p.DefaultConfig()

	v.SetDefault("server", DefaultServer)
	v.SetDefault("output", "")
	v.SetDefault("editor", "vim")
	v.SetDefault("log_level", "warn")
	v.SetDefault("log_format", "console")
	v.SetDefault("log_output", "stderr")
	v.SetDefault("http.timeout", httpclient.DefaultTimeout)

	statePath := ""
	if dir := Dir(); dir != "" {
		statePath = filepath.Join(dir, "state.db")
	}
	v.SetDefault("p2p.state_path", statePath)
	v.SetDefault("p2p.listen_addrs", p2pDefaults.ListenAddrs)
	v.SetDefault("p2p.use_default_bootstrap", false)
	v.SetDefault("p2p.discovery_timeout", p2pDefaults.DiscoveryTimeout)
	v.SetDefault("p2p.call_timeout", p2pDefaults.CallTimeout)

	peers := make([]map[string]any, 0, len(p2pDefaults.BootstrapPeers))
	for _, bp := range p2pDefaults.BootstrapPeers {
		peers = append(peers, map[string]any{"addr": bp.Addr, "services": bp.Services})
	}
	v.SetDefault("p2p.bootstrap_peers", peers)
}

// flagKeys maps config keys to the command line flags overriding them.
var flagKeys = map[string]string{
	"server":    "server",
	"output":    "output",
	"log_level": "log-level",
	"config":    "config",
}

// BindFlags lets flags set on the command line override every other source.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for key, name := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return errors.Wrapf(err, "bind flag `%s`", name)
		}
	}
	return nil
}

// Load reads the config file, if any, and decodes and validates the result.
// Without an explicit --config the file is looked up in Dir() and its
// absence is not an error.
func Load(v *viper.Viper) (*Config, error) {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config `%s`", path)
		}
	} else if dir := Dir(); dir != "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errors.Wrap(err, "read config")
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the server URL scheme and the timeouts.
func (c *Config) Validate() error {
	if _, err := c.Scheme(); err != nil {
		return err
	}
	if c.HTTP.Timeout <= 0 {
		return errors.Errorf("http.timeout must be positive, got %s", c.HTTP.Timeout)
	}
	if c.P2P.DiscoveryTimeout <= 0 {
		return errors.Errorf("p2p.discovery_timeout must be positive, got %s", c.P2P.DiscoveryTimeout)
	}
	if c.P2P.CallTimeout <= 0 {
		return errors.Errorf("p2p.call_timeout must be positive, got %s", c.P2P.CallTimeout)
	}
	for _, bp := range c.P2P.BootstrapPeers {
		if bp.Addr == "" {
			return errors.New("p2p.bootstrap_peers entry without addr")
		}
	}
	return nil
}

// Scheme returns the lower-cased scheme of Server: url, http or https.
func (c *Config) Scheme() (string, error) {
	u, err := url.Parse(c.Server)
	if err != nil || u.Host == "" {
		return "", errors.Errorf("unsupported server URL: %s", c.Server)
	}
	switch scheme := strings.ToLower(u.Scheme); scheme {
	case p2p.ServiceScheme, "http", "https":
		return scheme, nil
	default:
		return "", errors.Errorf("unsupported server URL: %s", c.Server)
	}
}
