package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"modelarena/internal/api"
	"modelarena/internal/config"
	"modelarena/internal/ledger"
	"modelarena/internal/redis"
	"modelarena/internal/registry"
	"modelarena/internal/service/ai"
	"modelarena/internal/storage"
	"modelarena/internal/store"
	"modelarena/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("MODELARENA_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("MODELARENA_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	// the event mirror is optional; run without it when redis is down
	rdb, err := redis.NewRedisClient(cfg)
	if err != nil {
		log.Printf("redis unavailable, event mirror disabled: %v", err)
		rdb = nil
	} else {
		defer rdb.Close()
	}

	reg, err := registry.New(cfg.Models)
	if err != nil {
		log.Fatalf("model registry: %v", err)
	}

	ctx := context.Background()
	backends := make(map[string]ai.Backend, len(cfg.Models))
	for _, entry := range reg.Entries() {
		provCfg, ok := cfg.Providers[entry.Provider]
		if !ok {
			log.Fatalf("model %s references unknown provider %s", entry.ID, entry.Provider)
		}
		backend, err := ai.NewBackend(ctx, provCfg, entry)
		if err != nil {
			log.Fatalf("init model %s: %v", entry.ID, err)
		}
		backends[entry.ID] = backend
	}
	factory := func(modelID string) (ai.Backend, error) {
		backend, ok := backends[modelID]
		if !ok {
			return nil, fmt.Errorf("unknown model %s", modelID)
		}
		return backend, nil
	}

	ld := ledger.New(store.New(db), reg)
	if err := ld.Load(ctx); err != nil {
		log.Fatalf("load sessions: %v", err)
	}
	ld.Start()
	defer ld.Stop()

	workers := worker.NewManager(ld, factory, rdb)
	if rdb != nil && os.Getenv("MODELARENA_MIRROR_LOG") == "1" {
		err := worker.SubscribeEvents(ctx, rdb, func(ev worker.Event) {
			log.Printf("mirror: %s %s/%s/%s", ev.Type, ev.SessionID, ev.TurnID, ev.ModelID)
		})
		if err != nil {
			log.Printf("mirror subscribe failed: %v", err)
		}
	}
	handlers := api.NewHandler(ld, reg, workers)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
