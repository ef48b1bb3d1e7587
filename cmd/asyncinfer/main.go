package main

import (
	"context"
	"log"
	"os"

	"github.com/seantiz/asyncinfer/internal/api"
	"github.com/seantiz/asyncinfer/internal/config"
	"github.com/seantiz/asyncinfer/internal/engine"
	"github.com/seantiz/asyncinfer/internal/engine/cpu"
	"github.com/seantiz/asyncinfer/internal/service"
	"github.com/seantiz/asyncinfer/internal/store"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("asyncinfer: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"default_timeout_ms", cfg.DefaultTimeout.Milliseconds(),
		"num_streams", cfg.NumStreams,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	reg := engine.NewRegistry()
	reg.Register(cpu.DeviceName, cpu.New(logger, cpu.WithStreams(cfg.NumStreams)))

	svc := service.NewService(db, reg, logger, cfg.DefaultTimeout)

	if cfg.ModelPath != "" {
		f, err := os.Open(cfg.ModelPath)
		if err != nil {
			log.Fatalf("failed to open model: %v", err)
		}
		info, err := svc.LoadModel(context.Background(), engine.DeviceAuto, f, nil)
		f.Close()
		if err != nil {
			log.Fatalf("failed to load model: %v", err)
		}
		logger.Info("startup model ready", "model_id", info.ID, "path", cfg.ModelPath)
	}

	srv := api.NewServer(cfg.ListenAddr, db, reg, svc, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}

	// Let in-flight batches settle and persist before closing the database.
	svc.Wait()
}
