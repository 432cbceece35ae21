package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/highwizardry/gameserver/config"
	"github.com/highwizardry/gameserver/logger"
	"github.com/highwizardry/gameserver/persistence"
	"github.com/highwizardry/gameserver/server"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger.Init()
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Log.Errorf("load config: %v", err)
		os.Exit(1)
	}

	store, err := openStore(cfg)
	if err != nil {
		logger.Log.Errorf("open storage backend %q: %v", cfg.Storage.Backend, err)
		os.Exit(1)
	}
	defer store.Close()

	srv := server.NewGameServer(cfg, store)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Log.Infof("received %s", sig)
		srv.Shutdown()
	}()

	if err := srv.Start(); err != nil {
		logger.Log.Errorf("server error: %v", err)
		os.Exit(1)
	}
}

func openStore(cfg *config.Config) (persistence.Store, error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		return persistence.NewGormStore(cfg.Storage.SQLitePath)
	default:
		return persistence.NewFileStore(cfg.Storage.DataDir)
	}
}
