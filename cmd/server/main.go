package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/courseloop/courseloop/pkg/config"
	"github.com/courseloop/courseloop/pkg/httpserver"
	"github.com/courseloop/courseloop/pkg/logger"
	"github.com/courseloop/courseloop/pkg/mongo"
	"github.com/courseloop/courseloop/pkg/plan"
	"github.com/courseloop/courseloop/pkg/schedule"
	"github.com/courseloop/courseloop/pkg/subscription"
	"github.com/courseloop/courseloop/pkg/usage"
	"github.com/courseloop/courseloop/svc/billing"
)

type appConfig struct {
	PlansFile string `env:"PLANS_FILE"` // optional catalog override
}

func main() {
	var (
		logCfg  logger.Config
		appCfg  appConfig
		dbCfg   mongo.Config
		httpCfg httpserver.Config
		svcCfg  billing.Config
	)
	config.MustLoad(&logCfg)
	config.MustLoad(&appCfg)
	config.MustLoad(&dbCfg)
	config.MustLoad(&httpCfg)
	config.MustLoad(&svcCfg)

	log := logger.New(logCfg, os.Stdout)
	logger.SetAsDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	catalog := plan.Default()
	if appCfg.PlansFile != "" {
		var err error
		catalog, err = plan.LoadYAMLFile(appCfg.PlansFile)
		if err != nil {
			log.Error("failed to load plan catalog override", logger.Error(err))
			os.Exit(1)
		}
		log.Info("plan catalog loaded from file", slog.String("path", appCfg.PlansFile))
	}

	client, err := mongo.Connect(ctx, dbCfg)
	if err != nil {
		log.Error("failed to connect to document store", logger.Error(err))
		os.Exit(1)
	}
	defer func() {
		_ = client.Disconnect(context.Background())
	}()
	db := client.Database(dbCfg.Database)

	userStore := subscription.NewMongoStore(db)
	usageStore := usage.NewMongoStore(db)

	indexCtx, indexCancel := context.WithTimeout(ctx, 30*time.Second)
	defer indexCancel()
	if err := userStore.EnsureIndexes(indexCtx); err != nil {
		log.Error("failed to ensure user indexes", logger.Error(err))
		os.Exit(1)
	}
	if err := usageStore.EnsureIndexes(indexCtx); err != nil {
		log.Error("failed to ensure usage indexes", logger.Error(err))
		os.Exit(1)
	}

	svc := billing.NewService(svcCfg, userStore, usageStore, catalog, log)

	// In-process schedules mirror the HTTP sweep endpoints; the operations
	// are idempotent, so an external orchestrator may trigger them too.
	runner := schedule.NewRunner(log)
	runner.Add("expiry-sweep", schedule.Daily(3, 0), func(ctx context.Context) error {
		_, err := svc.RunExpirySweep(ctx, time.Now().UTC())
		return err
	})
	runner.Add("reminder-sweep", schedule.Daily(9, 0), func(ctx context.Context) error {
		_, err := svc.RunReminderSweep(ctx, time.Now().UTC())
		return err
	})
	runner.Add("usage-purge", schedule.Monthly(1, 4), func(ctx context.Context) error {
		_, err := svc.RunUsagePurge(ctx)
		return err
	})
	go func() {
		if err := runner.Start(ctx); err != nil && ctx.Err() == nil {
			log.Error("sweep runner stopped", logger.Error(err))
		}
	}()

	healthcheck := mongo.Healthcheck(client)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := healthcheck(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	router.Mount("/", svc.Handle())

	srv := httpserver.New(httpCfg, log)
	if err := srv.Run(ctx, router); err != nil {
		log.Error("server exited with error", logger.Error(err))
		os.Exit(1)
	}
}
