package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/periop/periop/internal/config"
	"github.com/periop/periop/internal/domain/occupancy"
	"github.com/periop/periop/internal/domain/roster"
	"github.com/periop/periop/internal/domain/staff"
	"github.com/periop/periop/internal/domain/surgery"
	"github.com/periop/periop/internal/platform/archive"
	"github.com/periop/periop/internal/platform/auth"
	"github.com/periop/periop/internal/platform/db"
	"github.com/periop/periop/internal/platform/events"
	"github.com/periop/periop/internal/platform/metrics"
	"github.com/periop/periop/internal/platform/middleware"
	"github.com/periop/periop/internal/platform/scheduler"
	"github.com/periop/periop/internal/platform/websocket"
)

const (
	eventsChannel      = "periop:events"
	staffLookupTimeout = 5 * time.Second
)

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := newLogger("")
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	loc, _ := cfg.Location()
	morning, afternoon, night, _ := cfg.ShiftStarts()
	boundaries, err := roster.NewBoundaries(loc, morning, afternoon, night)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid shift boundaries")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Database
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:            cfg.DatabaseURL,
		MaxConns:       cfg.DBMaxConns,
		MinConns:       cfg.DBMinConns,
		ConnectTimeout: 10 * time.Second,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	m := metrics.New()

	store, err := archive.Open(ctx, archiveConfig(cfg))
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.ArchiveDriver).Msg("failed to open snapshot archive")
	}
	defer store.Close()

	publisher, subscriber, closeEvents, err := buildEvents(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect event transport")
	}
	defer closeEvents()
	publisher = events.Observed(publisher, func(t events.Type, err error) {
		m.ObserveEvent(string(t), err)
	})

	// Domain services
	staffSvc := staff.NewService(staff.NewRepoPG(pool))
	var directory staff.Directory = staffSvc
	if cfg.StaffDirectoryURL != "" {
		directory = staff.NewHTTPDirectory(cfg.StaffDirectoryURL, staffLookupTimeout)
		logger.Info().Str("url", cfg.StaffDirectoryURL).Msg("using remote staff directory")
	}

	surgerySvc := surgery.NewService(
		surgery.NewORRoomRepoPG(pool),
		surgery.NewScheduledCaseRepoPG(pool),
		surgery.NewLiveCaseRepoPG(pool),
		logger,
	)
	surgerySvc.SetTransactor(db.NewTxRunner(pool))
	surgerySvc.SetDirectory(directory)
	surgerySvc.SetPublisher(publisher)
	surgerySvc.SetMetrics(m)

	rosterSvc := roster.NewService(roster.NewShiftRepoPG(pool), roster.NewRoomRepoPG(pool), logger)
	rosterSvc.SetDirectory(directory)
	rosterSvc.SetPublisher(publisher)
	rosterSvc.SetMetrics(m)

	archiver := roster.NewArchiver(roster.NewShiftRepoPG(pool), store, logger)
	occupancySvc := occupancy.NewService(surgerySvc, rosterSvc, directory, boundaries, logger)

	hub := websocket.NewHub(logger)

	// Background refreshes
	scope := db.PoolScope(pool)
	sched := scheduler.New(logger, cfg.RequestTimeout)
	sched.OnResult(m.ObserveRefresh)
	if err := sched.Add(occupancy.NewBroadcaster(occupancySvc, hub, cfg.Facilities, scope), cfg.RefreshInterval); err != nil {
		logger.Fatal().Err(err).Msg("failed to schedule occupancy refresh")
	}
	if err := sched.Add(roster.NewActiveDayRefresher(archiver, boundaries, cfg.Facilities, scope), cfg.ArchiveInterval); err != nil {
		logger.Fatal().Err(err).Msg("failed to schedule shift archive")
	}
	waitBackground := startBackground(ctx, sched, subscriber, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", db.FacilityHeader},
	}))
	e.Use(m.Middleware())
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	if cfg.ResolvedAuthMode() == "development" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	// Keyed by facility claim, so after auth.
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	rateLimitCfg.Skip = auth.AuthSkipper
	e.Use(middleware.RateLimit(rateLimitCfg))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.ReadyHandler(pool, 2*time.Second))
	e.GET("/metrics", m.Handler())

	facilityMW := db.FacilityMiddleware(pool, cfg.DefaultFacility)
	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(e, facilityMW)

	apiV1 := e.Group("/api/v1", facilityMW)

	staff.NewHandler(directory).RegisterRoutes(apiV1)
	surgery.NewHandler(surgerySvc).RegisterRoutes(apiV1)

	rosterHandler := roster.NewHandler(rosterSvc, boundaries)
	rosterHandler.SetArchiver(archiver)
	rosterHandler.RegisterRoutes(apiV1)

	occupancy.NewHandler(occupancySvc).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Strs("facilities", cfg.Facilities).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stop()
	waitBackground()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// startBackground runs the scheduler and, when configured, the event
// subscriber in their own goroutines and returns at once. The returned func
// blocks until both have stopped after ctx is cancelled.
func startBackground(ctx context.Context, sched *scheduler.Scheduler, subscriber *events.RedisSubscriber, logger zerolog.Logger) func() {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	if subscriber != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := subscriber.Run(ctx, nil, func(ev events.Event) {
				sched.Trigger("occupancy")
			})
			if err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("event subscriber stopped")
			}
		}()
	}
	return wg.Wait
}

func archiveConfig(cfg *config.Config) archive.Config {
	return archive.Config{
		Driver:     cfg.ArchiveDriver,
		SQLitePath: cfg.ArchiveSQLitePath,
		S3: archive.S3Config{
			Bucket:    cfg.ArchiveS3Bucket,
			Region:    cfg.ArchiveS3Region,
			Endpoint:  cfg.ArchiveS3Endpoint,
			PathStyle: cfg.ArchiveS3PathStyle,
			Prefix:    "snapshots",
		},
	}
}

// buildEvents connects the configured transports. With neither Redis nor
// MQTT configured events are dropped and the subscriber is nil.
func buildEvents(cfg *config.Config, logger zerolog.Logger) (events.Publisher, *events.RedisSubscriber, func(), error) {
	var (
		publishers events.Multi
		subscriber *events.RedisSubscriber
		closers    []func()
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.RedisURL != "" {
		client, err := events.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, nil, closeAll, fmt.Errorf("redis: %w", err)
		}
		closers = append(closers, func() { _ = client.Close() })
		publishers = append(publishers, events.NewRedisPublisher(client, eventsChannel))
		subscriber = events.NewRedisSubscriber(client, eventsChannel, logger)
	}

	if cfg.MQTTBrokerURL != "" {
		client, err := events.NewMQTTClient(cfg.MQTTBrokerURL, cfg.MQTTClientID)
		if err != nil {
			closeAll()
			return nil, nil, func() {}, fmt.Errorf("mqtt: %w", err)
		}
		closers = append(closers, func() { client.Disconnect(250) })
		publishers = append(publishers, events.NewMQTTPublisher(client, ""))
	}

	if len(publishers) == 0 {
		return events.Nop{}, nil, closeAll, nil
	}
	return publishers, subscriber, closeAll, nil
}

// readStaffFile decodes a JSON array of staff members. Members without an
// id are rejected so repeated imports stay idempotent.
func readStaffFile(r io.Reader) ([]*staff.StaffMember, error) {
	var members []*staff.StaffMember
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&members); err != nil {
		return nil, fmt.Errorf("decode staff file: %w", err)
	}
	for i, m := range members {
		if m == nil {
			return nil, fmt.Errorf("record %d: empty", i+1)
		}
		if m.ID == uuid.Nil {
			return nil, fmt.Errorf("record %d: id is required", i+1)
		}
	}
	return members, nil
}
