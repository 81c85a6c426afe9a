package server

import (
	"fmt"
	"net/http"
	"screener/internal/cache"
	"screener/internal/config"
	"screener/internal/controller"
	"time"
)

const defaultStreamInterval = time.Second

// CacheStats exposes the market data cache counters
type CacheStats interface {
	Stats() cache.Stats
}

type Server struct {
	sc     controller.ServerController
	scans  controller.ScanController
	cache  CacheStats
	config config.Config

	keyHashes      map[string]struct{}
	streamInterval time.Duration
}

func New(config config.Config, sc controller.ServerController, scans controller.ScanController, cacheStats CacheStats) *http.Server {
	server := newServer(config, sc, scans, cacheStats)

	return &http.Server{
		Addr:              fmt.Sprintf(":%v", config.Port),
		Handler:           server.RegisterRoutes(),
		IdleTimeout:       time.Minute,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// no write timeout: progress streams stay open until the scan finishes
	}
}

func newServer(config config.Config, sc controller.ServerController, scans controller.ScanController, cacheStats CacheStats) *Server {
	return &Server{
		sc:             sc,
		scans:          scans,
		cache:          cacheStats,
		config:         config,
		keyHashes:      keyHashSet(config.Auth.APIKeyHashes),
		streamInterval: defaultStreamInterval,
	}
}
