package node

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// NodeConfig holds the full configuration for a wdnd node, parsed from a
// TOML configuration file. Its section and field names mirror the on-disk
// config.toml schema directly: [base], [network], [node_config],
// [api_config]. It is separate from Config, which is the flat, internal
// shape App and the rest of this package actually consume; ToConfig
// translates between the two.
type NodeConfig struct {
	Base     BaseConfig     `toml:"base"`
	Network  NetworkConfig  `toml:"network"`
	Identity IdentityConfig `toml:"node_config"`
	API      APIConfig      `toml:"api_config"`
	Keeper   KeeperConfig   `toml:"keeper"`
	Log      LogConfig      `toml:"log"`
}

// BaseConfig holds filesystem-level node configuration.
type BaseConfig struct {
	// DataPath is the root directory for all data storage.
	DataPath string `toml:"data_path"`
}

// NetworkConfig holds gossip overlay networking configuration.
type NetworkConfig struct {
	// Port is the TCP port the gossip overlay transport listens on.
	Port int `toml:"port"`

	// KnownNodes lists multiaddresses of peers to dial at startup.
	KnownNodes []string `toml:"known_nodes"`

	// MaxPeers is the maximum number of P2P peers. Not part of the
	// documented schema but needed to size the overlay; defaults apply
	// when omitted from config.toml.
	MaxPeers int `toml:"max_peers"`
}

// IdentityConfig holds this node's self-identification, backing the
// Identity handed to verify_node_init and the gossip overlay.
type IdentityConfig struct {
	// PrincipalID is this node's principal identifier, checked against
	// the keeper set during verify_node_init.
	PrincipalID string `toml:"principal_id"`

	// PeerID is this node's self-identifier on the gossip overlay.
	PeerID string `toml:"peer_id"`

	// KeyFile holds the path to this node's ECDSA key file. Decrypting
	// it is out of scope; cmd/wdnd reads it as a raw hex-encoded key.
	KeyFile string `toml:"key_file"`
}

// APIConfig holds the admin HTTP API server configuration.
type APIConfig struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
}

// KeeperConfig holds the recognized keeper principal set backing a
// StaticKeeperSource. Not part of the documented api_config/node_config
// sections, but a natural home for the keeper allowlist this node needs
// to construct one.
type KeeperConfig struct {
	Principals []string `toml:"principals"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultNodeConfig returns a NodeConfig with sensible defaults.
func DefaultNodeConfig() *NodeConfig {
	return &NodeConfig{
		Base: BaseConfig{
			DataPath: defaultDataDir(),
		},
		Network: NetworkConfig{
			Port:       30303,
			KnownNodes: nil,
			MaxPeers:   50,
		},
		Identity: IdentityConfig{},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8545,
		},
		Keeper: KeeperConfig{
			Principals: nil,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ValidateNodeConfig checks the configuration for correctness.
func (nc *NodeConfig) ValidateNodeConfig() error {
	if nc.Base.DataPath == "" {
		return errors.New("config: base.data_path must not be empty")
	}

	if nc.Network.Port < 0 || nc.Network.Port > 65535 {
		return fmt.Errorf("config: invalid network.port: %d", nc.Network.Port)
	}
	if nc.Network.MaxPeers < 0 {
		return fmt.Errorf("config: invalid network.max_peers: %d", nc.Network.MaxPeers)
	}

	if nc.API.Port < 0 || nc.API.Port > 65535 {
		return fmt.Errorf("config: invalid api_config.port: %d", nc.API.Port)
	}
	if nc.API.Enabled && nc.API.Host == "" {
		return errors.New("config: api_config.host must not be empty when api_config is enabled")
	}

	switch nc.Log.Level {
	case "debug", "info", "warn", "error", "trace":
	default:
		return fmt.Errorf("config: unknown log level %q", nc.Log.Level)
	}
	switch nc.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", nc.Log.Format)
	}

	return nil
}

// ToConfig translates a parsed NodeConfig into the flat Config shape that
// App.NewApp and the rest of this package consume.
func (nc *NodeConfig) ToConfig() Config {
	return Config{
		DataDir:   nc.Base.DataPath,
		Name:      "wdnd",
		NetworkID: 1,
		PeerID:    nc.Identity.PeerID,
		KeyFile:   nc.Identity.KeyFile,
		Keepers:   nc.Keeper.Principals,
		P2PPort:   nc.Network.Port,
		AdminPort: nc.API.Port,
		MaxPeers:  nc.Network.MaxPeers,
		LogLevel:  nc.Log.Level,
		Verbosity: 3,
		Metrics:   false,
	}
}

// LoadConfigTOML parses a wdnd config.toml file into a NodeConfig using
// BurntSushi/toml. This is the primary loader; LoadConfigLegacy below is
// kept only as a dependency-free fallback for call sites that only have
// bytes, not a file path, to hand to LoadConfigTOML.
func LoadConfigTOML(path string) (*NodeConfig, error) {
	cfg := DefaultNodeConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// LoadConfigLegacy parses a TOML-like configuration from raw bytes into a
// NodeConfig by hand, without the toml module. The parser handles
// key = value pairs and [section] headers, and supports string values
// (quoted or unquoted), integers, booleans, and arrays.
func LoadConfigLegacy(data []byte) (*NodeConfig, error) {
	cfg := DefaultNodeConfig()
	section := ""

	lines := strings.Split(string(data), "\n")
	for lineNum, raw := range lines {
		line := strings.TrimSpace(raw)

		// Skip empty lines and comments.
		if line == "" || line[0] == '#' {
			continue
		}

		// Section header.
		if line[0] == '[' {
			end := strings.Index(line, "]")
			if end < 0 {
				return nil, fmt.Errorf("line %d: unclosed section header", lineNum+1)
			}
			section = strings.TrimSpace(line[1:end])
			continue
		}

		// Key = value pair.
		eqIdx := strings.Index(line, "=")
		if eqIdx < 0 {
			return nil, fmt.Errorf("line %d: expected key = value", lineNum+1)
		}
		key := strings.TrimSpace(line[:eqIdx])
		val := strings.TrimSpace(line[eqIdx+1:])

		if err := applyConfigValue(cfg, section, key, val, lineNum+1); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// applyConfigValue sets a single configuration field based on section, key, value.
func applyConfigValue(cfg *NodeConfig, section, key, val string, lineNum int) error {
	switch section {
	case "base":
		return applyBase(cfg, key, val, lineNum)
	case "network":
		return applyNetwork(cfg, key, val, lineNum)
	case "node_config":
		return applyIdentity(cfg, key, val, lineNum)
	case "api_config":
		return applyAPI(cfg, key, val, lineNum)
	case "keeper":
		return applyKeeper(cfg, key, val, lineNum)
	case "log":
		return applyLog(cfg, key, val, lineNum)
	default:
		return fmt.Errorf("line %d: unknown section [%s]", lineNum, section)
	}
}

func applyBase(cfg *NodeConfig, key, val string, lineNum int) error {
	switch key {
	case "data_path":
		cfg.Base.DataPath = unquote(val)
	default:
		return fmt.Errorf("line %d: unknown key %q in [base]", lineNum, key)
	}
	return nil
}

func applyNetwork(cfg *NodeConfig, key, val string, lineNum int) error {
	switch key {
	case "port":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("line %d: invalid network.port: %w", lineNum, err)
		}
		cfg.Network.Port = n
	case "known_nodes":
		cfg.Network.KnownNodes = parseStringArray(val)
	case "max_peers":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("line %d: invalid network.max_peers: %w", lineNum, err)
		}
		cfg.Network.MaxPeers = n
	default:
		return fmt.Errorf("line %d: unknown key %q in [network]", lineNum, key)
	}
	return nil
}

func applyIdentity(cfg *NodeConfig, key, val string, lineNum int) error {
	switch key {
	case "principal_id":
		cfg.Identity.PrincipalID = unquote(val)
	case "peer_id":
		cfg.Identity.PeerID = unquote(val)
	case "key_file":
		cfg.Identity.KeyFile = unquote(val)
	default:
		return fmt.Errorf("line %d: unknown key %q in [node_config]", lineNum, key)
	}
	return nil
}

func applyAPI(cfg *NodeConfig, key, val string, lineNum int) error {
	switch key {
	case "enabled":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("line %d: invalid api_config.enabled: %w", lineNum, err)
		}
		cfg.API.Enabled = b
	case "host":
		cfg.API.Host = unquote(val)
	case "port":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("line %d: invalid api_config.port: %w", lineNum, err)
		}
		cfg.API.Port = n
	default:
		return fmt.Errorf("line %d: unknown key %q in [api_config]", lineNum, key)
	}
	return nil
}

func applyKeeper(cfg *NodeConfig, key, val string, lineNum int) error {
	switch key {
	case "principals":
		cfg.Keeper.Principals = parseStringArray(val)
	default:
		return fmt.Errorf("line %d: unknown key %q in [keeper]", lineNum, key)
	}
	return nil
}

func applyLog(cfg *NodeConfig, key, val string, lineNum int) error {
	switch key {
	case "level":
		cfg.Log.Level = unquote(val)
	case "format":
		cfg.Log.Format = unquote(val)
	default:
		return fmt.Errorf("line %d: unknown key %q in [log]", lineNum, key)
	}
	return nil
}

// unquote strips surrounding double quotes from a string value.
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// parseStringArray parses a TOML-like array: ["a", "b", "c"].
func parseStringArray(s string) []string {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		// Single value without brackets.
		v := unquote(strings.TrimSpace(s))
		if v == "" {
			return nil
		}
		return []string{v}
	}

	inner := s[1 : len(s)-1]
	if strings.TrimSpace(inner) == "" {
		return nil
	}

	parts := strings.Split(inner, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		v := unquote(strings.TrimSpace(p))
		if v != "" {
			result = append(result, v)
		}
	}
	return result
}

// MergeNodeConfig merges an override config onto a base config.
// Non-zero/non-empty values from override take priority over base.
func MergeNodeConfig(base, override *NodeConfig) *NodeConfig {
	result := *base

	if override.Base.DataPath != "" {
		result.Base.DataPath = override.Base.DataPath
	}

	if override.Network.Port != 0 {
		result.Network.Port = override.Network.Port
	}
	if override.Network.MaxPeers != 0 {
		result.Network.MaxPeers = override.Network.MaxPeers
	}
	if len(override.Network.KnownNodes) > 0 {
		result.Network.KnownNodes = override.Network.KnownNodes
	}

	if override.Identity.PrincipalID != "" {
		result.Identity.PrincipalID = override.Identity.PrincipalID
	}
	if override.Identity.PeerID != "" {
		result.Identity.PeerID = override.Identity.PeerID
	}
	if override.Identity.KeyFile != "" {
		result.Identity.KeyFile = override.Identity.KeyFile
	}

	if override.API.Enabled {
		result.API.Enabled = true
	}
	if override.API.Host != "" {
		result.API.Host = override.API.Host
	}
	if override.API.Port != 0 {
		result.API.Port = override.API.Port
	}

	if len(override.Keeper.Principals) > 0 {
		result.Keeper.Principals = override.Keeper.Principals
	}

	if override.Log.Level != "" {
		result.Log.Level = override.Log.Level
	}
	if override.Log.Format != "" {
		result.Log.Format = override.Log.Format
	}

	return &result
}
