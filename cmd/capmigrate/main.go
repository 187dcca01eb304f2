package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/viper"
	"github.com/tinytelemetry/capmigrate/internal/config"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

func main() {
	var configPath string
	var showVersion bool
	var printConfig bool
	var serve bool

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/capmigrate/config.yml)")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.BoolVar(&printConfig, "print-config", false, "print a documented default config and exit")
	flag.BoolVar(&serve, "serve", false, "keep serving the accounts API after the migration")
	flag.Parse()

	if showVersion {
		fmt.Printf("capmigrate - legacy economy migration\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	cfg, v, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	parser := config.NewViperParser(v)

	if printConfig {
		// Building the plugins registers every per-source option.
		buildSourcePlugins(parser, SourcePluginConfig{DataDir: cfg.DataDir})
		out, err := parser.Render(topLevelOptions(cfg.DBPath, cfg.SnapshotDir)...)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}

	cleanupLogger := configureRuntimeLogger()
	defer cleanupLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, parser, serve, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		cleanupLogger()
		os.Exit(1)
	}
}

func loadConfig(configPath string) (appConfig, *viper.Viper, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, nil, fmt.Errorf("finding home directory: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("CAPMIGRATE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	v.SetDefault("data-dir", defaultDataDir)
	v.SetDefault("db-path", defaultDBPath(home))
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("insert-batch-size", defaultInsertBatchSize)
	v.SetDefault("insert-flush-interval", defaultInsertFlushInterval)
	v.SetDefault("insert-flush-queue-size", defaultInsertFlushQueue)
	v.SetDefault("mux-buffer-size", defaultMuxBufferSize)
	v.SetDefault("log-skips", false)
	v.SetDefault("api-enabled", false)
	v.SetDefault("api-addr", defaultAPIAddr)
	v.SetDefault("snapshot-enabled", true)
	v.SetDefault("snapshot-dir", defaultSnapshotDir(home))
	v.SetDefault("snapshot-keep-last", defaultSnapshotKeepLast)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "capmigrate", "config.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, nil, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, nil, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()
	if cfg.InsertBatchSize <= 0 {
		return cfg, nil, fmt.Errorf("invalid insert-batch-size: %d", cfg.InsertBatchSize)
	}

	cfg.DataDir = expandHome(cfg.DataDir, home)
	cfg.DBPath = expandHome(cfg.DBPath, home)
	cfg.SnapshotDir = expandHome(cfg.SnapshotDir, home)

	return cfg, v, nil
}

func defaultDBPath(home string) string {
	return filepath.Join(home, ".local", "share", "capmigrate", "accounts.duckdb")
}

func defaultSnapshotDir(home string) string {
	return filepath.Join(home, ".local", "share", "capmigrate", "snapshots")
}

func expandHome(path, home string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
