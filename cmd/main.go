package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tabi/docs"
	"tabi/internal/appointments"
	"tabi/internal/auth"
	"tabi/internal/business"
	"tabi/internal/config"
	"tabi/internal/dashboard"
	"tabi/internal/handlers"
	"tabi/internal/lines"
	"tabi/internal/logger"
	"tabi/internal/metrics"
	"tabi/internal/notify"
	"tabi/internal/otp"
	"tabi/internal/payments"
	"tabi/internal/queue"
	"tabi/internal/response"
	"tabi/internal/reviews"
	"tabi/internal/storage"
	"tabi/internal/subscriptions"
	"tabi/internal/tasks"
	"tabi/internal/ws"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

// @Title						Tabi API
// @Version					1.0
// @Description				Virtual queues and appointments for walk-in businesses.
// @securityDefinitions.apikey	BearerAuth
// @in							header
// @name						Authorization
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.ServiceName, cfg.Server.Env, cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	log.Info("Starting service", cfg.LogFields()...)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	response.ExposeDetails = cfg.Server.IsDevelopment()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.ConnectDatabase(cfg.DB, log)
	if err != nil {
		return err
	}
	if err := storage.Migrate(db); err != nil {
		return err
	}

	rdb, err := storage.InitRedis(ctx, cfg.Redis, log)
	if err != nil {
		return err
	}
	var limiter otp.Limiter
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
		limiter = otp.NewRedisLimiter(rdb)
	}

	hub := ws.NewHub(log.Named("ws"))
	go hub.Run(ctx)

	sms := notify.New(cfg.SMS, log.Named("sms"))

	subs := subscriptions.NewService(db, subscriptions.Deps{Location: loc, Logger: log})
	stats := dashboard.NewService(db, dashboard.Deps{Location: loc, Logger: log})
	biz := business.NewService(db, business.Deps{Stats: stats, Logger: log})
	appts := appointments.NewService(db, appointments.Deps{
		Location:           loc,
		CancellationCutoff: cfg.Appointment.CancellationCutoff,
		Logger:             log,
	})
	queueSvc := queue.NewService(db, queue.Deps{Quota: subs, Publisher: hub, SMS: sms, Location: loc, Logger: log})
	otps := otp.NewService(db, otp.Deps{
		Limiter: limiter,
		SMS:     sms,
		Config:  cfg.OTP,
		Dev:     cfg.Server.IsDevelopment(),
		Logger:  log,
	})
	tokens := auth.NewTokens(cfg.JWT, nil)

	h := &handlers.Handlers{
		Auth:   auth.NewService(db, otps, tokens, log),
		Tokens: tokens,
		Lines: lines.NewService(db, lines.Deps{
			Limits:                   subs,
			Members:                  biz,
			Cache:                    rdb,
			Location:                 loc,
			Logger:                   log,
			CodeAttempts:             cfg.Queue.CodeAttempts,
			DefaultAutoRemoveMinutes: cfg.Queue.DefaultAutoRemoveMinutes,
		}),
		Queue:        queueSvc,
		Dashboard:    stats,
		Business:     biz,
		Appointments: appts,
		Payments: payments.NewService(db, payments.Deps{
			Subscriptions: subs,
			Businesses:    biz,
			Appointments:  appts,
			Config:        cfg.Payment,
			Logger:        log,
		}),
		Reviews: reviews.NewService(db, log),
		Hub:     hub,
	}

	planner, err := tasks.InitScheduler(log, loc, tasks.Jobs(cfg.Queue, queueSvc, subs, otps))
	if err != nil {
		return err
	}

	if !cfg.Server.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), logger.Middleware(log), metrics.Middleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", logger.RequestIDHeader, payments.SignatureHeader},
		ExposeHeaders:    []string{"Content-Length", logger.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	docs.SwaggerInfo.BasePath = "/"
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.GET("/metrics", metrics.Handler())
	h.Register(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	planner.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	return nil
}
