package registry

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
	"github.com/repovista/repovista/internal/config"
	"github.com/repovista/repovista/internal/registry/api"
	"github.com/repovista/repovista/internal/registry/service"
	"github.com/rs/zerolog/log"
)

// Server owns the process-wide registry instance and its liveness monitor.
type Server struct {
	registry *service.Registry
	cfg      *config.RegistryConfig
	api      *api.Api
}

func NewServer(cfg *config.RegistryConfig, client *resty.Client) *Server {
	ttl := parseDuration(cfg.DefaultPingTTL, 30*time.Second)
	return &Server{
		registry: service.New(client, ttl),
		cfg:      cfg,
	}
}

// Registry exposes the directory to the scheduler subsystem.
func (s *Server) Registry() *service.Registry { return s.registry }

// UseApi binds the registry HTTP surface onto the shared router.
func (s *Server) UseApi(router *gin.Engine) error {
	s.api = api.NewApi(router, s.registry, s.cfg.BearerToken)
	return nil
}

// Start launches the background liveness monitor.
func (s *Server) Start(ctx context.Context) {
	interval := parseDuration(s.cfg.ScanInterval, 2*time.Second)
	go s.registry.StartMonitor(ctx, interval)
	log.Info().Dur("interval", interval).Msg("registry liveness monitor started")
}

func parseDuration(s string, d time.Duration) time.Duration {
	if s == "" {
		return d
	}
	if v, err := time.ParseDuration(s); err == nil {
		return v
	}
	return d
}
