package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"rtc-continuity/config"
	"rtc-continuity/constant"
	"rtc-continuity/dto"
	contHandler "rtc-continuity/handler"
	"rtc-continuity/pkg/continuity"
	"rtc-continuity/pkg/framebuffer"
	"rtc-continuity/pkg/rabbitmq"
	"rtc-continuity/pkg/reconnect"
	"rtc-continuity/service"
)

func RunHttp(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	log := zerolog.Ctx(ctx)

	buffers := framebuffer.New(framebuffer.Options{
		MaxFrames:     cfg.Continuity.MaxFrameCount,
		MaxBytes:      cfg.Continuity.MaxBufferBytes,
		IdleTimeout:   cfg.Continuity.BufferIdleTimeout,
		SweepInterval: cfg.Continuity.BufferSweepInterval,
	}, *log)

	tracker := continuity.NewTracker(continuity.Options{
		GracePeriod:       cfg.Continuity.GracePeriod,
		InactivityTimeout: cfg.Continuity.InactivityTimeout,
		SweepInterval:     cfg.Continuity.SessionSweepInterval,
	}, buffers, *log)

	scheduler := reconnect.NewScheduler(reconnect.Options{
		InitialInterval: cfg.Continuity.InitialRetryInterval,
		MaxInterval:     cfg.Continuity.MaxRetryInterval,
		MaxTimeout:      cfg.Continuity.MaxReconnectTimeout,
		MaxAttempts:     cfg.Continuity.MaxRetryAttempts,
	}, *log)

	var notifier rabbitmq.Notifier = rabbitmq.NoopNotifier{}
	conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("NewRabbitMQConn, events will not be fanned out")
	} else {
		notifier, err = rabbitmq.NewNotifier(conn, cfg.Queue)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("failed to create notifier")
			notifier = rabbitmq.NoopNotifier{}
		}
	}

	continuityService := service.NewContinuityService(ctx, cfg.Continuity, buffers, tracker, scheduler, notifier)
	recoveryService := service.NewRecoveryService(cfg.Continuity, buffers)

	buffers.Start(ctx)
	tracker.Start(ctx)

	serviceDeps := contHandler.ServiceDependencies{
		ContinuityService: continuityService,
		RecoveryService:   recoveryService,
	}

	if conn != nil {
		// Inbound transport events from edge nodes: media frames on one
		// queue, control ops on another.
		frameConsumer := rabbitmq.NewConsumer(conn, cfg.Queue, rabbitmq.Binding{
			Queue:      "continuity_frames",
			RoutingKey: "continuity.frame",
		}, cfg.Server.Workers, contHandler.FrameHandler)
		go func() {
			if err := frameConsumer.Consume(ctx, serviceDeps); err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Msg("Frame consumer error")
			}
		}()

		controlConsumer := rabbitmq.NewConsumer(conn, cfg.Queue, rabbitmq.Binding{
			Queue:      "continuity_control",
			RoutingKey: "continuity.control",
		}, cfg.Server.Workers, contHandler.ControlHandler)
		go func() {
			if err := controlConsumer.Consume(ctx, serviceDeps); err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Msg("Control consumer error")
			}
		}()
	}

	r := gin.Default()
	addHealth(r)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	addRoutes(r, ctx, continuityService, recoveryService)

	gateway := NewWSGateway(continuityService, recoveryService, *log)
	r.GET("/ws", gateway.Handle)

	handler := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("start http server")
		if err := handler.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
		}
	}()

	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down server")
	if err := handler.Shutdown(ctx); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})
}

func addRoutes(r *gin.Engine, ctx context.Context, svc service.ContinuityService, rec service.RecoveryService) {
	v1 := r.Group("/v1")

	v1.GET("/status/video/:group/:participant", func(c *gin.Context) {
		status, ok := svc.VideoStatus(c.Param("group"), c.Param("participant"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusOK, status)
	})

	v1.GET("/status/buffer/:group/:participant", func(c *gin.Context) {
		status, ok := svc.BufferStatus(c.Param("group"), c.Param("participant"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusOK, status)
	})

	v1.GET("/status/session/:id", func(c *gin.Context) {
		status, ok := svc.SessionStatus(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusOK, status)
	})

	v1.POST("/recover", func(c *gin.Context) {
		var req dto.RecoveryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rec.Recover(c.Request.Context(), req))
	})

	v1.DELETE("/groups/:group", func(c *gin.Context) {
		svc.RemoveGroup(ctx, c.Param("group"))
		c.Status(http.StatusNoContent)
	})

	v1.DELETE("/groups/:group/participants/:participant", func(c *gin.Context) {
		svc.Leave(ctx, dto.LeaveMessage{
			GroupId:       c.Param("group"),
			ParticipantId: c.Param("participant"),
			SessionId:     c.Query("sessionId"),
		})
		c.Status(http.StatusNoContent)
	})
}

func setupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Log to standard output
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
