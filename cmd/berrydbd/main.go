// berrydbd is the berrydb time-series database server daemon.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/berrydb/berrydb/config"
	"github.com/berrydb/berrydb/internal/handler"
	"github.com/berrydb/berrydb/internal/logging"
	"github.com/berrydb/berrydb/internal/server"
	"github.com/berrydb/berrydb/internal/storage"
	storageconfig "github.com/berrydb/berrydb/internal/storage/config"
)

// Version is set at build time via ldflags.
var Version = "dev"

// daemonConfig is the top-level YAML configuration. The storage section maps
// directly onto the storage service configuration.
type daemonConfig struct {
	Listen string `yaml:"listen"`

	TLS struct {
		CertFile string `yaml:"cert_file"`
		KeyFile  string `yaml:"key_file"`
	} `yaml:"tls"`

	Auth struct {
		TimeoutSec int           `yaml:"timeout_sec"`
		Tokens     []tokenConfig `yaml:"tokens"`
	} `yaml:"auth"`

	Storage *storageconfig.Config `yaml:"storage"`
}

type tokenConfig struct {
	ID    string `yaml:"id"`
	Token string `yaml:"token"`
}

// loadConfig reads the daemon YAML config. Environment variables in the file
// are expanded, so tokens can live in the environment rather than on disk.
func loadConfig(path string) (*daemonConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &daemonConfig{Storage: storageconfig.DefaultConfig()}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

func main() {
	cfgPath := flag.String("config", "berrydb.yaml", "config file path")
	listen := flag.String("listen", "", "listen address (overrides config)")
	dataDir := flag.String("data", "", "data directory (overrides config)")
	tlsCert := flag.String("tls-cert", "", "TLS certificate file")
	tlsKey := flag.String("tls-key", "", "TLS key file")
	token := flag.String("token", "", "auth token (or BERRYDB_TOKEN env)")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logJSON := flag.Bool("log-json", false, "log in JSON format")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("berrydbd %s\n", Version)
		return
	}

	logging.Init(parseLevel(*logLevel), *logJSON)
	log := logging.Component("main")

	log.Info("berrydbd starting", "version", Version)

	// Load config
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info("no config file found, using defaults", "path", *cfgPath)
			cfg = &daemonConfig{Storage: storageconfig.DefaultConfig()}
		} else {
			log.Error("load config", "error", err)
			os.Exit(1)
		}
	}

	// CLI overrides
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *dataDir != "" {
		cfg.Storage.DataDir = *dataDir
	}
	if *tlsCert != "" {
		cfg.TLS.CertFile = *tlsCert
	}
	if *tlsKey != "" {
		cfg.TLS.KeyFile = *tlsKey
	}

	// Token from flag or env
	authToken := *token
	if authToken == "" {
		authToken = os.Getenv("BERRYDB_TOKEN")
	}
	if authToken != "" && len(cfg.Auth.Tokens) == 0 {
		cfg.Auth.Tokens = []tokenConfig{{ID: "cli", Token: authToken}}
	}

	if len(cfg.Auth.Tokens) == 0 {
		log.Error("at least one auth token required (use -token or config)")
		os.Exit(1)
	}

	// =========================================================================
	// Initialize Storage
	// =========================================================================

	log.Info("initializing storage", "data_dir", cfg.Storage.DataDir)

	svc, err := storage.New(cfg.Storage)
	if err != nil {
		log.Error("create storage", "error", err)
		os.Exit(1)
	}

	// =========================================================================
	// Create Server
	// =========================================================================

	tokens := make([]handler.TokenConfig, len(cfg.Auth.Tokens))
	for i, t := range cfg.Auth.Tokens {
		tokens[i] = handler.TokenConfig{ID: t.ID, Token: t.Token}
	}

	srv := server.New(&server.Config{
		Storage:        svc,
		Listen:         cfg.Listen,
		TLSCertFile:    cfg.TLS.CertFile,
		TLSKeyFile:     cfg.TLS.KeyFile,
		Tokens:         tokens,
		AuthTimeoutSec: cfg.Auth.TimeoutSec,
	})

	// =========================================================================
	// Signal Handling and Graceful Shutdown
	// =========================================================================

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("shutting down")
		go func() {
			time.Sleep(time.Duration(config.DefaultDrainTimeoutSec) * time.Second)
			log.Error("drain timeout exceeded, forcing exit")
			os.Exit(1)
		}()
		srv.Shutdown()
	}()

	// =========================================================================
	// Run
	// =========================================================================

	if cfg.TLS.CertFile != "" {
		log.Info("TLS enabled", "cert", cfg.TLS.CertFile)
	}

	if err := srv.Run(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
