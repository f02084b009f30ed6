package scheduler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
	"github.com/repovista/repovista/internal/config"
	"github.com/repovista/repovista/internal/scheduler/api"
	"github.com/repovista/repovista/internal/scheduler/service"
	"github.com/rs/zerolog/log"
)

// Server wires the scheduler, its schedule store, and the distributed task
// state store.
type Server struct {
	scheduler *service.Scheduler
	state     *service.TaskStateStore
	api       *api.Api
}

func NewServer(cfg *config.Config, directory service.ServiceDirectory, client *resty.Client) *Server {
	state := service.NewTaskStateStore(
		service.NewRedisClientFromConfig(&cfg.Redis),
		parseDuration(cfg.Scheduler.StateTTL, 20*time.Minute),
	)
	deps := service.TaskDeps{
		Client:             client,
		Directory:          directory,
		State:              state,
		ApiService:         cfg.Scheduler.ApiService,
		RepoService:        cfg.Scheduler.RepoService,
		VisualizationGroup: cfg.Scheduler.VisualizationGroup,
		QueueTimeout:       parseDuration(cfg.Scheduler.QueueTimeout, 60*time.Second),
	}
	store := service.NewScheduleStore(cfg.Scheduler.ScheduleFile)
	sched := service.NewScheduler(deps, store, parseDuration(cfg.Scheduler.TickInterval, 5*time.Second))
	return &Server{scheduler: sched, state: state}
}

// Scheduler exposes the coordinator, mainly for tests and the HTTP layer.
func (s *Server) Scheduler() *service.Scheduler { return s.scheduler }

// UseApi binds the scheduler HTTP surface onto the shared router.
func (s *Server) UseApi(router *gin.Engine) error {
	s.api = api.NewApi(router, s.scheduler, s.state)
	return nil
}

// Start reloads persisted schedules and launches the tick loop.
func (s *Server) Start(ctx context.Context) {
	if err := s.scheduler.LoadSchedules(); err != nil {
		log.Error().Err(err).Msg("failed to load persisted schedules; starting empty")
	}
	s.scheduler.Start(ctx)
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
