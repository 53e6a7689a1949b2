package node

import (
	"strings"
	"testing"
)

func TestDefaultNodeConfig(t *testing.T) {
	cfg := DefaultNodeConfig()

	if cfg.Network.Port != 30303 {
		t.Errorf("Network.Port = %d, want 30303", cfg.Network.Port)
	}
	if cfg.Network.MaxPeers != 50 {
		t.Errorf("Network.MaxPeers = %d, want 50", cfg.Network.MaxPeers)
	}
	if !cfg.API.Enabled {
		t.Error("API.Enabled should be true by default")
	}
	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want 127.0.0.1", cfg.API.Host)
	}
	if cfg.API.Port != 8545 {
		t.Errorf("API.Port = %d, want 8545", cfg.API.Port)
	}
	if len(cfg.Keeper.Principals) != 0 {
		t.Error("Keeper.Principals should be empty by default")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want text", cfg.Log.Format)
	}
}

func TestDefaultNodeConfigValidates(t *testing.T) {
	cfg := DefaultNodeConfig()
	if err := cfg.ValidateNodeConfig(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestNodeConfigToConfig(t *testing.T) {
	nc := DefaultNodeConfig()
	nc.Base.DataPath = "/data/wdnd"
	nc.Identity.PeerID = "peer-1"
	nc.Identity.KeyFile = "/data/wdnd/keystore/node.key"
	nc.Keeper.Principals = []string{"principal-a"}

	c := nc.ToConfig()
	if c.DataDir != "/data/wdnd" {
		t.Errorf("DataDir = %q, want /data/wdnd", c.DataDir)
	}
	if c.PeerID != "peer-1" {
		t.Errorf("PeerID = %q, want peer-1", c.PeerID)
	}
	if c.KeyFile != "/data/wdnd/keystore/node.key" {
		t.Errorf("KeyFile = %q", c.KeyFile)
	}
	if len(c.Keepers) != 1 || c.Keepers[0] != "principal-a" {
		t.Errorf("Keepers = %v, want [principal-a]", c.Keepers)
	}
	if c.P2PPort != nc.Network.Port {
		t.Errorf("P2PPort = %d, want %d", c.P2PPort, nc.Network.Port)
	}
	if c.AdminPort != nc.API.Port {
		t.Errorf("AdminPort = %d, want %d", c.AdminPort, nc.API.Port)
	}
}

func TestLoadConfigLegacyFull(t *testing.T) {
	input := `
# Filesystem settings
[base]
data_path = "/data/wdnd"

[network]
port = 30304
max_peers = 100
known_nodes = ["/ip4/1.2.3.4/tcp/30303/p2p/abc", "/ip4/5.6.7.8/tcp/30303/p2p/def"]

[node_config]
principal_id = "principal-self"
peer_id = "peer-self"
key_file = "/data/wdnd/keystore/node.key"

[api_config]
enabled = true
host = "0.0.0.0"
port = 8546

[keeper]
principals = ["principal-a", "principal-b"]

[log]
level = "debug"
format = "json"
`
	cfg, err := LoadConfigLegacy([]byte(input))
	if err != nil {
		t.Fatalf("LoadConfigLegacy error: %v", err)
	}

	if cfg.Base.DataPath != "/data/wdnd" {
		t.Errorf("Base.DataPath = %q", cfg.Base.DataPath)
	}
	if cfg.Network.Port != 30304 {
		t.Errorf("Network.Port = %d", cfg.Network.Port)
	}
	if cfg.Network.MaxPeers != 100 {
		t.Errorf("Network.MaxPeers = %d", cfg.Network.MaxPeers)
	}
	if len(cfg.Network.KnownNodes) != 2 {
		t.Fatalf("Network.KnownNodes len = %d, want 2", len(cfg.Network.KnownNodes))
	}
	if cfg.Identity.PrincipalID != "principal-self" {
		t.Errorf("Identity.PrincipalID = %q", cfg.Identity.PrincipalID)
	}
	if cfg.Identity.PeerID != "peer-self" {
		t.Errorf("Identity.PeerID = %q", cfg.Identity.PeerID)
	}
	if !cfg.API.Enabled {
		t.Error("API.Enabled should be true")
	}
	if cfg.API.Host != "0.0.0.0" {
		t.Errorf("API.Host = %q", cfg.API.Host)
	}
	if cfg.API.Port != 8546 {
		t.Errorf("API.Port = %d", cfg.API.Port)
	}
	if len(cfg.Keeper.Principals) != 2 {
		t.Fatalf("Keeper.Principals len = %d, want 2", len(cfg.Keeper.Principals))
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q", cfg.Log.Format)
	}
}

func TestLoadConfigLegacyEmpty(t *testing.T) {
	cfg, err := LoadConfigLegacy([]byte(""))
	if err != nil {
		t.Fatalf("LoadConfigLegacy on empty input should not error: %v", err)
	}
	if cfg.Network.Port != 30303 {
		t.Errorf("Network.Port = %d, want 30303 (default)", cfg.Network.Port)
	}
}

func TestLoadConfigLegacyComments(t *testing.T) {
	input := `# This is a comment
# Another comment
[base]
data_path = "/tmp/test"
# data_path = "/should/not/apply"
`
	cfg, err := LoadConfigLegacy([]byte(input))
	if err != nil {
		t.Fatalf("LoadConfigLegacy error: %v", err)
	}
	if cfg.Base.DataPath != "/tmp/test" {
		t.Errorf("Base.DataPath = %q", cfg.Base.DataPath)
	}
}

func TestLoadConfigLegacyInvalidSection(t *testing.T) {
	input := `[unknown_section]
foo = "bar"
`
	_, err := LoadConfigLegacy([]byte(input))
	if err == nil {
		t.Fatal("expected error for unknown section")
	}
	if !strings.Contains(err.Error(), "unknown section") {
		t.Errorf("error should mention unknown section, got: %v", err)
	}
}

func TestLoadConfigLegacyUnclosedSection(t *testing.T) {
	input := `[network
port = 30303
`
	_, err := LoadConfigLegacy([]byte(input))
	if err == nil {
		t.Fatal("expected error for unclosed section header")
	}
	if !strings.Contains(err.Error(), "unclosed") {
		t.Errorf("error should mention unclosed, got: %v", err)
	}
}

func TestLoadConfigLegacyInvalidValue(t *testing.T) {
	input := `[network]
port = notanumber
`
	_, err := LoadConfigLegacy([]byte(input))
	if err == nil {
		t.Fatal("expected error for non-numeric port")
	}
}

func TestLoadConfigLegacyMissingEquals(t *testing.T) {
	input := `data_path`
	_, err := LoadConfigLegacy([]byte(input))
	if err == nil {
		t.Fatal("expected error for missing equals sign")
	}
	if !strings.Contains(err.Error(), "key = value") {
		t.Errorf("error should mention key = value, got: %v", err)
	}
}

func TestValidateNodeConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*NodeConfig)
	}{
		{"empty data_path", func(c *NodeConfig) { c.Base.DataPath = "" }},
		{"bad network port", func(c *NodeConfig) { c.Network.Port = -1 }},
		{"bad max_peers", func(c *NodeConfig) { c.Network.MaxPeers = -5 }},
		{"bad api port", func(c *NodeConfig) { c.API.Port = 99999 }},
		{"empty api host when enabled", func(c *NodeConfig) { c.API.Enabled = true; c.API.Host = "" }},
		{"bad log level", func(c *NodeConfig) { c.Log.Level = "verbose" }},
		{"bad log format", func(c *NodeConfig) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultNodeConfig()
			tt.modify(cfg)
			if err := cfg.ValidateNodeConfig(); err == nil {
				t.Errorf("expected validation error for %s", tt.name)
			}
		})
	}
}

func TestMergeNodeConfig(t *testing.T) {
	base := DefaultNodeConfig()

	override := &NodeConfig{
		Base: BaseConfig{DataPath: "/override/path"},
		Network: NetworkConfig{
			Port:       31000,
			MaxPeers:   200,
			KnownNodes: []string{"/ip4/override/tcp/30303"},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 9000,
		},
		Keeper: KeeperConfig{
			Principals: []string{"principal-x"},
		},
		Log: LogConfig{
			Level:  "debug",
			Format: "json",
		},
	}

	merged := MergeNodeConfig(base, override)

	if merged.Base.DataPath != "/override/path" {
		t.Errorf("Base.DataPath = %q, want /override/path", merged.Base.DataPath)
	}
	if merged.Network.Port != 31000 {
		t.Errorf("Network.Port = %d, want 31000", merged.Network.Port)
	}
	if merged.Network.MaxPeers != 200 {
		t.Errorf("Network.MaxPeers = %d, want 200", merged.Network.MaxPeers)
	}
	if len(merged.Network.KnownNodes) != 1 {
		t.Fatalf("KnownNodes len = %d, want 1", len(merged.Network.KnownNodes))
	}
	if merged.API.Host != "0.0.0.0" {
		t.Errorf("API.Host = %q", merged.API.Host)
	}
	if merged.API.Port != 9000 {
		t.Errorf("API.Port = %d", merged.API.Port)
	}
	if len(merged.Keeper.Principals) != 1 {
		t.Errorf("Keeper.Principals = %v, want 1 principal", merged.Keeper.Principals)
	}
	if merged.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", merged.Log.Level)
	}
	if merged.Log.Format != "json" {
		t.Errorf("Log.Format = %q", merged.Log.Format)
	}
}

func TestMergeNodeConfigPreservesBase(t *testing.T) {
	base := DefaultNodeConfig()
	override := &NodeConfig{} // All zero values.

	merged := MergeNodeConfig(base, override)

	if merged.Base.DataPath != base.Base.DataPath {
		t.Errorf("Base.DataPath should be preserved from base")
	}
	if merged.Network.Port != base.Network.Port {
		t.Errorf("Network.Port should be preserved from base")
	}
	if merged.API.Host != base.API.Host {
		t.Errorf("API.Host should be preserved from base")
	}
	if merged.Log.Level != base.Log.Level {
		t.Errorf("Log.Level should be preserved from base")
	}
}

func TestMergeNodeConfigDoesNotMutateBase(t *testing.T) {
	base := DefaultNodeConfig()
	origDataPath := base.Base.DataPath

	override := &NodeConfig{
		Base: BaseConfig{DataPath: "/new/path"},
	}

	MergeNodeConfig(base, override)

	if base.Base.DataPath != origDataPath {
		t.Error("MergeNodeConfig should not mutate the base config")
	}
}

func TestLoadConfigLegacyEmptyArray(t *testing.T) {
	input := `[network]
known_nodes = []
`
	cfg, err := LoadConfigLegacy([]byte(input))
	if err != nil {
		t.Fatalf("LoadConfigLegacy error: %v", err)
	}
	if cfg.Network.KnownNodes != nil {
		t.Errorf("empty array should result in nil, got %v", cfg.Network.KnownNodes)
	}
}

func TestLoadConfigLegacyPartialOverride(t *testing.T) {
	// Only override a few fields; rest should be defaults.
	input := `[node_config]
principal_id = "principal-self"

[log]
level = "error"
`
	cfg, err := LoadConfigLegacy([]byte(input))
	if err != nil {
		t.Fatalf("LoadConfigLegacy error: %v", err)
	}

	if cfg.Identity.PrincipalID != "principal-self" {
		t.Errorf("Identity.PrincipalID = %q, want principal-self", cfg.Identity.PrincipalID)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("Log.Level = %q, want error", cfg.Log.Level)
	}
	// Defaults should be preserved.
	if cfg.Network.Port != 30303 {
		t.Errorf("Network.Port = %d, want 30303 (default)", cfg.Network.Port)
	}
	if cfg.API.Port != 8545 {
		t.Errorf("API.Port = %d, want 8545 (default)", cfg.API.Port)
	}
}

func TestLoadConfigLegacyUnquotedStrings(t *testing.T) {
	input := `[base]
data_path = /tmp/unquoted
`
	cfg, err := LoadConfigLegacy([]byte(input))
	if err != nil {
		t.Fatalf("LoadConfigLegacy error: %v", err)
	}
	if cfg.Base.DataPath != "/tmp/unquoted" {
		t.Errorf("Base.DataPath = %q, want /tmp/unquoted", cfg.Base.DataPath)
	}
}
