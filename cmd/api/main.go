package main

import (
	"context"
	"fmt"
	"log"

	"tasknet-gateway/core"
)

func main() {
	cfg := core.Load()
	ctx := context.Background()

	logCloser, err := core.SetupLogging(cfg, "api.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	db, err := core.ConnectWithRetry(ctx, cfg.DatabaseURL, cfg.DBConnectAttempts)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer db.Close()

	redisClient, err := core.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer redisClient.Close()

	accountRepo := core.NewPgAccountRepository(db)
	accounts := core.NewAccountService(accountRepo, cfg.DigestSalt)
	resolver := core.NewUsernameResolver(accountRepo, redisClient, cfg.UsernameCacheTTL)

	// Backend clients are created once and shared across requests.
	tasks := core.NewHTTPTaskClient(cfg.TaskServiceURL, cfg.BackendTimeout)
	stats := core.NewHTTPStatsClient(cfg.StatsServiceURL, cfg.BackendTimeout)

	router := core.NewRouter(cfg, accounts, resolver, tasks, stats)

	addr := fmt.Sprintf(":%s", cfg.Port)
	log.Printf("starting gateway on %s", addr)
	if err := router.Run(addr); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
