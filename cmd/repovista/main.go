package main

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/repovista/repovista/internal/config"
	"github.com/repovista/repovista/internal/registry"
	"github.com/repovista/repovista/internal/scheduler"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// load config first
	log.Info().Msg("Starting repovista control plane")
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// configure log level from config
	switch strings.ToLower(cfg.Logging.Level) {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// one outbound client shared by broadcasts, snapshot requests and callbacks
	client := resty.New()

	registrySrv := registry.NewServer(&cfg.Registry, client)
	schedulerSrv := scheduler.NewServer(cfg, registrySrv.Registry(), client)

	registrySrv.Start(ctx)
	schedulerSrv.Start(ctx)

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	if err := registrySrv.UseApi(router); err != nil {
		log.Fatal().Err(err).Msg("bind registry api failed.")
	}
	if err := schedulerSrv.UseApi(router); err != nil {
		log.Fatal().Err(err).Msg("bind scheduler api failed.")
	}
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, map[string]any{"ok": true}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	log.Info().Msgf("Starting server on %s", cfg.Server.BindAddr)
	if err := router.Run(cfg.Server.BindAddr); err != nil {
		log.Fatal().Err(err).Msg("start repovista api server failed.")
	}
	log.Info().Msg("repovista api server exit...")
}
