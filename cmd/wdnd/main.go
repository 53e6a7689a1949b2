// Command wdnd is the main entry point for the wdnd node.
//
// Usage:
//
//	wdnd run
//
// wdnd reads its configuration from ./config.toml; there are no other
// flags beyond the standard --help and --version urfave/cli provides.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/wdnprotocol/wdnd/crypto"
	"github.com/wdnprotocol/wdnd/node"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	app := &cli.App{
		Name:    "wdnd",
		Usage:   "run a wdn protocol node",
		Version: fmt.Sprintf("%s (commit %s)", version, commit),
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "start the node, reading ./config.toml",
				Action: func(c *cli.Context) error {
					return runNode("./config.toml")
				},
			},
		},
		// Running wdnd with no subcommand behaves like `wdnd run`.
		Action: func(c *cli.Context) error {
			return runNode("./config.toml")
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Printf("fatal: %v", err)
		os.Exit(1)
	}
}

// runNode loads config.toml, builds the node App, and runs until an
// interrupt or terminate signal requests shutdown.
func runNode(configPath string) error {
	nc, err := node.LoadConfigTOML(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := nc.ValidateNodeConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	cfg := nc.ToConfig()
	cfg.LogLevel = node.VerbosityToLogLevel(cfg.Verbosity)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.InitDataDir(); err != nil {
		return fmt.Errorf("init datadir: %w", err)
	}

	log.Printf("wdnd %s starting", version)
	log.Printf("  datadir:    %s", cfg.DataDir)
	log.Printf("  p2p port:   %d", cfg.P2PPort)
	log.Printf("  admin addr: %s", cfg.AdminAddr())
	log.Printf("  peer id:    %s", cfg.PeerID)
	log.Printf("  keepers:    %d configured", len(cfg.Keepers))

	identity, err := loadIdentity(cfg)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	keepers := node.NewStaticKeeperSource(cfg.Keepers)

	application, err := node.NewApp(&cfg, identity, keepers)
	if err != nil {
		return fmt.Errorf("build node: %w", err)
	}
	if err := application.Start(); err != nil {
		return fmt.Errorf("start node: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	if err := application.Stop(); err != nil {
		return fmt.Errorf("stop node: %w", err)
	}
	log.Println("shutdown complete")
	return nil
}

// loadIdentity reads the node's raw hex-encoded private key from
// cfg.KeyFile and derives the account address from it. Decrypting an
// encrypted key file is out of scope; operators are expected to supply
// the raw key material directly.
func loadIdentity(cfg node.Config) (node.Identity, error) {
	if cfg.KeyFile == "" {
		return node.Identity{}, fmt.Errorf("node_config.key_file must be set")
	}
	raw, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return node.Identity{}, fmt.Errorf("read key file: %w", err)
	}
	priv, err := crypto.HexToECDSA(string(raw))
	if err != nil {
		return node.Identity{}, fmt.Errorf("parse key file: %w", err)
	}
	account := crypto.PubkeyToAddress(priv.PublicKey)
	return node.LoadIdentity(cfg.PeerID, account[:], priv), nil
}
