package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func (s *Server) RegisterRoutes() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger())
	r.Use(cors.New(s.corsConfig()))

	r.GET("/health", s.healthHandler)
	r.GET("/online", s.onlineHandler)

	api := r.Group("/", s.AuthMiddleware())

	scans := api.Group("/scans")
	scans.POST("", s.createScanHandler)
	scans.GET("/stats", s.statsHandler)
	scans.GET("/history", s.historyHandler)
	scans.GET("/:id", s.statusHandler)
	scans.GET("/:id/partial", s.partialResultsHandler)
	scans.GET("/:id/results", s.resultsHandler)
	scans.GET("/:id/stream", s.streamHandler)
	scans.DELETE("/:id", s.cancelScanHandler)

	api.GET("/cache/stats", s.cacheStatsHandler)

	return r
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowOrigins:     s.config.CORS.AllowedOrigins,
		AllowMethods:     s.config.CORS.AllowedMethods,
		AllowHeaders:     s.config.CORS.AllowedHeaders,
		AllowCredentials: s.config.CORS.AllowCredentials,
		MaxAge:           time.Duration(s.config.CORS.MaxAge) * time.Second,
	}

	allowAll := len(cfg.AllowOrigins) == 0
	for _, origin := range cfg.AllowOrigins {
		if origin == "*" {
			allowAll = true
		}
	}
	if allowAll {
		cfg.AllowOrigins = nil
		cfg.AllowAllOrigins = true
	}

	if len(cfg.AllowMethods) == 0 {
		cfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	}
	if len(cfg.AllowHeaders) == 0 {
		cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-API-Key"}
	}
	return cfg
}
