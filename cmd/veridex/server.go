package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/credon/veridex/pkg/api"
	"github.com/credon/veridex/pkg/docstore"
	"github.com/credon/veridex/pkg/events"
	"github.com/credon/veridex/pkg/issuer"
	"github.com/credon/veridex/pkg/log"
	"github.com/credon/veridex/pkg/metrics"
	"github.com/credon/veridex/pkg/publisher"
	"github.com/credon/veridex/pkg/signer"
	"github.com/credon/veridex/pkg/types"
)

// serverConfig is the yaml configuration for the server command.
type serverConfig struct {
	Listen  string `yaml:"listen"`
	DataDir string `yaml:"dataDir"`
	// VaultPassword enables encryption at rest for the document store.
	VaultPassword string `yaml:"vaultPassword,omitempty"`
	// SigningKeySeed is the base64-encoded Ed25519 seed; a fresh key is
	// generated when absent (development only).
	SigningKeySeed     string `yaml:"signingKeySeed,omitempty"`
	VerificationMethod string `yaml:"verificationMethod"`
	// PublishInterval is a Go duration string, e.g. "30s".
	PublishInterval string                 `yaml:"publishInterval,omitempty"`
	Issuers         []types.IssuerInstance `yaml:"issuers"`

	publishInterval time.Duration
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the issuer service",
	RunE:  runServer,
}

func init() {
	serverCmd.Flags().StringP("config", "c", "veridex.yaml", "Path to server configuration file")
}

func runServer(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := loadServerConfig(configPath)
	if err != nil {
		return err
	}

	metrics.RegisterAll()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	var opts []docstore.BoltOption
	if cfg.VaultPassword != "" {
		vault, err := docstore.NewVaultFromPassword(cfg.VaultPassword)
		if err != nil {
			return err
		}
		opts = append(opts, docstore.WithVault(vault))
	}
	store, err := docstore.NewBoltStore(cfg.DataDir, opts...)
	if err != nil {
		return fmt.Errorf("failed to open document store: %w", err)
	}
	defer store.Close()

	credSigner, err := buildSigner(cfg)
	if err != nil {
		return err
	}

	broker := events.NewBroker()
	defer broker.Close()

	service, err := issuer.NewService(issuer.ServiceConfig{
		Store:  store,
		Signer: credSigner,
		Broker: broker,
	})
	if err != nil {
		return err
	}

	ctx := context.Background()
	var publishers []*publisher.Publisher
	for _, instanceCfg := range cfg.Issuers {
		instance, err := service.AddInstance(ctx, instanceCfg)
		if err != nil {
			return fmt.Errorf("failed to register issuer %s: %w", instanceCfg.ID, err)
		}
		pub := publisher.New(instance.StatusLists, cfg.publishInterval)
		pub.Start()
		publishers = append(publishers, pub)
	}
	defer func() {
		for _, pub := range publishers {
			pub.Stop()
		}
	}()

	server := api.NewServer(service, cfg.Listen)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func loadServerConfig(path string) (*serverConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg := &serverConfig{
		Listen:  ":8080",
		DataDir: "./data",
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if len(cfg.Issuers) == 0 {
		return nil, fmt.Errorf("config %s declares no issuers", path)
	}
	if cfg.VerificationMethod == "" {
		return nil, fmt.Errorf("config %s: verificationMethod is required", path)
	}
	if cfg.PublishInterval != "" {
		interval, err := time.ParseDuration(cfg.PublishInterval)
		if err != nil {
			return nil, fmt.Errorf("config %s: invalid publishInterval: %w", path, err)
		}
		cfg.publishInterval = interval
	}
	return cfg, nil
}

func buildSigner(cfg *serverConfig) (*signer.Ed25519Signer, error) {
	if cfg.SigningKeySeed == "" {
		log.Logger.Warn().Msg("No signing key configured, generating an ephemeral key")
		return signer.Generate(cfg.VerificationMethod)
	}
	seed, err := base64.StdEncoding.DecodeString(cfg.SigningKeySeed)
	if err != nil {
		return nil, fmt.Errorf("invalid signing key seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing key seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return signer.NewEd25519Signer(ed25519.NewKeyFromSeed(seed), cfg.VerificationMethod)
}
