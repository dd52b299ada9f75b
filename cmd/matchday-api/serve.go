package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/matchday/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/matchday/backend/internal/config"
	"github.com/MarcoPoloResearchLab/matchday/backend/internal/database"
	"github.com/MarcoPoloResearchLab/matchday/backend/internal/jobs"
	"github.com/MarcoPoloResearchLab/matchday/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/matchday/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/matchday/backend/internal/permissions"
	"github.com/MarcoPoloResearchLab/matchday/backend/internal/principals"
	"github.com/MarcoPoloResearchLab/matchday/backend/internal/scoring"
	"github.com/MarcoPoloResearchLab/matchday/backend/internal/server"
	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := openDatabase(appConfig, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	roles, err := newRoleService(db, logger)
	if err != nil {
		return err
	}

	scoreStore, err := scoring.NewGormStore(db)
	if err != nil {
		return err
	}
	dispatcher := server.NewRealtimeDispatcher()
	scoringService, err := scoring.NewService(scoring.ServiceConfig{
		Store:              scoreStore,
		Authorizer:         roles,
		Publisher:          dispatcher,
		Metrics:            metrics.NewService(),
		Clock:              time.Now,
		IDProvider:         scoring.NewUUIDProvider(),
		PersistenceTimeout: appConfig.PersistenceTimeout,
		Logger:             logger,
	})
	if err != nil {
		return err
	}

	principalService, err := principals.NewService(principals.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.Issuer,
		CookieName:    appConfig.CookieName,
	})
	if err != nil {
		return err
	}

	reconciler, err := jobs.NewReconciler(jobs.ReconcilerConfig{
		Reconciler: scoringService,
		Interval:   appConfig.ReconcileInterval,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	handler, err := server.NewHTTPHandler(server.Dependencies{
		Scoring:        scoringService,
		Roles:          roles,
		Sessions:       sessionValidator,
		Principals:     principalService,
		Realtime:       dispatcher,
		MetricsHandler: metrics.NewMetricsHandler(),
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		return reconciler.Run(groupCtx)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func openDatabase(appConfig config.AppConfig, logger *zap.Logger) (*gorm.DB, error) {
	return database.Open(database.Options{
		Driver: appConfig.DatabaseDriver,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
}

func newRoleService(db *gorm.DB, logger *zap.Logger) (*permissions.Service, error) {
	roleStore, err := permissions.NewGormRoleStore(db)
	if err != nil {
		return nil, err
	}
	return permissions.NewService(permissions.ServiceConfig{
		Store:  roleStore,
		Clock:  time.Now,
		Logger: logger,
	})
}
