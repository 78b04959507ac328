package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/ewaller/chatrelay/pkg/datastore"
	"github.com/ewaller/chatrelay/pkg/logging"
	"github.com/ewaller/chatrelay/pkg/server"
)

func main() {
	cfg := server.DefaultConfig()

	configFile := flag.String("config", "", "YAML config file (flags override its values)")
	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "TCP bind address")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database file path")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "HTTP bind address for Prometheus /metrics (empty to disable)")
	exportRooms := flag.Bool("export-rooms", false, "Export all rooms as YAML and exit")

	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: "+logging.LevelNames())
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text or json")
	flag.Parse()

	if *configFile != "" {
		loaded, err := server.LoadConfigFile(*configFile, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
		// Flags given on the command line win over file values.
		flag.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "listen":
				cfg.ListenAddr = f.Value.String()
			case "db":
				cfg.DBPath = f.Value.String()
			case "metrics":
				cfg.MetricsAddr = f.Value.String()
			case "log-level":
				cfg.LogLevel = f.Value.String()
			case "log-format":
				cfg.LogFormat = f.Value.String()
			}
		})
	}

	// Configure structured logging
	if err := logging.Setup(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	st, err := datastore.NewProviderFactory(cfg.DBPath)
	if err != nil {
		slog.Error("open database", "err", err)
		os.Exit(1)
	}

	// Handle export command (run and exit)
	if *exportRooms {
		defer func() { _ = st.Close() }()
		data, err := server.ExportRoomsYAML(st)
		if err != nil {
			slog.Error("export rooms", "err", err)
			os.Exit(1)
		}
		fmt.Print(string(data))
		return
	}

	srv := server.New(cfg, server.Dependencies{Store: st})
	if err := srv.Run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
