// Package bootstrap wires configuration into the running service: storage,
// model clients, notification transports, pipelines, the job scheduler and
// the HTTP router.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-automation/internal/api/router"
	"github.com/wolfman30/clinic-automation/internal/archive"
	"github.com/wolfman30/clinic-automation/internal/booking"
	"github.com/wolfman30/clinic-automation/internal/calendar"
	appconfig "github.com/wolfman30/clinic-automation/internal/config"
	"github.com/wolfman30/clinic-automation/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/clinic-automation/internal/http/middleware"
	"github.com/wolfman30/clinic-automation/internal/intake"
	"github.com/wolfman30/clinic-automation/internal/observability/metrics"
	"github.com/wolfman30/clinic-automation/internal/records"
	"github.com/wolfman30/clinic-automation/internal/reminders"
	"github.com/wolfman30/clinic-automation/internal/reports"
	"github.com/wolfman30/clinic-automation/internal/scheduler"
	"github.com/wolfman30/clinic-automation/internal/triage"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

// Alert kinds sent when a scheduled job fails.
const (
	AlertReminderSweep = "reminder_sweep_error"
	AlertFollowUpSweep = "follow_up_sweep_error"
	AlertWeeklyReport  = "weekly_report_error"
)

const limiterEvictInterval = 5 * time.Minute

// App is the assembled service.
type App struct {
	Handler   http.Handler
	Scheduler *scheduler.Scheduler
	Limiter   *httpmiddleware.RateLimiter
	Storage   *Storage
	Redis     *redis.Client

	Intake   *intake.Pipeline
	Booking  *booking.Pipeline
	Sweeps   *reminders.Engine
	Reports  *reports.Engine
	Registry *prometheus.Registry

	schedulerEnabled bool
	logger           *logging.Logger
}

// Build constructs every component from cfg. awsCfg is only consulted for
// the backends that need it (bedrock, ses, s3).
func Build(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	loc := cfg.Location()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pipelineMetrics := metrics.NewPipelineMetrics(registry)

	storage, err := BuildStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	repo := records.NewRepository(storage.Store)
	if err := repo.EnsureSchema(ctx); err != nil {
		storage.Close()
		return nil, fmt.Errorf("bootstrap: ensure schema: %w", err)
	}

	redisClient := BuildRedisClient(ctx, cfg, logger, true)

	modelClient, err := BuildModelClient(ctx, cfg, awsCfg, logger)
	if err != nil {
		storage.Close()
		return nil, err
	}

	notifier, err := BuildNotifier(cfg, awsCfg, pipelineMetrics, logger)
	if err != nil {
		storage.Close()
		return nil, err
	}

	var cal calendar.Creator
	if cfg.GoogleCalendarID != "" {
		gcal, err := calendar.NewFromCredentials(ctx, cfg.GoogleCredentialsFile, cfg.GoogleCalendarID)
		if err != nil {
			logger.Warn("google calendar unavailable; events will not be created", "error", err)
		} else {
			cal = gcal
		}
	}

	var resolver booking.EventTypeResolver
	if cfg.CalendlyAPIToken != "" {
		resolver = booking.NewCalendlyResolver(cfg.CalendlyAPIToken, nil, logger)
	}

	var archiver reports.Archiver
	if cfg.ReportArchiveBucket != "" {
		s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = cfg.AWSEndpointOverride != ""
		})
		archiver = archive.NewStore(s3Client, cfg.ReportArchiveBucket, logger)
	}

	classifier := triage.NewClassifier(modelClient,
		triage.WithTimeout(cfg.ModelTimeout),
		triage.WithLogger(logger),
		triage.WithObserver(pipelineMetrics),
	)
	narrator := triage.NewNarrator(modelClient, "", cfg.ModelTimeout, logger)

	intakePipeline := intake.New(repo, classifier, notifier, cal, intake.Config{
		Location:        loc,
		ClinicAddress:   cfg.Clinic.Address,
		DuplicatePolicy: cfg.DuplicateIntakePolicy,
		IOTimeout:       cfg.IOTimeout,
		Budget:          cfg.WebhookBudget,
		MaxRetries:      cfg.MaxPipelineRetries,
		RetryBaseDelay:  cfg.RetryBaseDelay,
	}, logger)

	bookingPipeline := booking.New(repo, notifier, cal, resolver,
		BuildProcessedStore(redisClient, storage.Pool, logger),
		booking.Config{Location: loc, ClinicAddress: cfg.Clinic.Address, IOTimeout: cfg.IOTimeout},
		logger)

	sweeps := reminders.New(repo, notifier, reminders.Config{
		Location:    loc,
		HoursBefore: cfg.ReminderHoursBefore,
	}, pipelineMetrics, logger)

	reportEngine := reports.New(repo, notifier, narrator, archiver, reports.Config{
		Location:   loc,
		ClinicName: cfg.Clinic.Name,
		IOTimeout:  cfg.IOTimeout,
	}, logger)

	var locker scheduler.Locker
	if redisClient != nil {
		locker = scheduler.NewRedisLocker(redisClient)
	}
	jobs := scheduler.New(scheduler.Config{Location: loc}, locker, pipelineMetrics, notifier, logger)
	if err := registerJobs(jobs, cfg, sweeps, reportEngine); err != nil {
		storage.Close()
		return nil, err
	}

	var limiter *httpmiddleware.RateLimiter
	if cfg.WebhookRatePerMinute > 0 {
		limiter = httpmiddleware.NewRateLimiter(float64(cfg.WebhookRatePerMinute)/60, cfg.WebhookBurst)
	}

	handler := router.New(&router.Config{
		Logger:             logger,
		Webhooks:           handlers.NewWebhookHandler(intakePipeline, bookingPipeline, pipelineMetrics, logger),
		Triggers:           handlers.NewTriggerHandler(jobs, reportEngine, bookingPipeline, loc, logger),
		Dashboard:          handlers.NewDashboardHandler(reportEngine, jobs, logger),
		Health:             handlers.NewHealthHandler(storage.Backend, storage.Check),
		MetricsHandler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		AdminAuthSecret:    cfg.AdminJWTSecret,
		WebhookSecret:      cfg.WebhookSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		WebhookLimiter:     limiter,
	})

	return &App{
		Handler:          handler,
		Scheduler:        jobs,
		Limiter:          limiter,
		Storage:          storage,
		Redis:            redisClient,
		Intake:           intakePipeline,
		Booking:          bookingPipeline,
		Sweeps:           sweeps,
		Reports:          reportEngine,
		Registry:         registry,
		schedulerEnabled: cfg.SchedulerEnabled,
		logger:           logger,
	}, nil
}

func registerJobs(jobs *scheduler.Scheduler, cfg *appconfig.Config, sweeps *reminders.Engine, reportEngine *reports.Engine) error {
	spec := func(s string) string {
		if !cfg.SchedulerEnabled {
			return ""
		}
		return s
	}
	all := []scheduler.Job{
		{
			Name:      handlers.JobReminders,
			Spec:      spec(cfg.ReminderSchedule),
			AlertKind: AlertReminderSweep,
			Run:       func(ctx context.Context) (any, error) { return sweeps.ReminderSweep(ctx) },
		},
		{
			Name:      handlers.JobFollowUps,
			Spec:      spec(cfg.FollowUpSchedule),
			AlertKind: AlertFollowUpSweep,
			Run:       func(ctx context.Context) (any, error) { return sweeps.FollowUpSweep(ctx) },
		},
		{
			Name:      handlers.JobWeeklyReport,
			Spec:      spec(cfg.WeeklyReportSchedule),
			AlertKind: AlertWeeklyReport,
			Run:       func(ctx context.Context) (any, error) { return reportEngine.GenerateWeekly(ctx) },
		},
	}
	for _, job := range all {
		if err := jobs.Register(job); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
	}
	return nil
}

// Start launches background loops. They stop when ctx is cancelled or Close
// is called.
func (a *App) Start(ctx context.Context) {
	if a.Limiter != nil {
		go a.Limiter.RunEviction(ctx, limiterEvictInterval)
	}
	if a.schedulerEnabled {
		a.Scheduler.Start(ctx)
	}
}

// Close stops the scheduler, waiting up to ctx for running jobs, then
// releases connections.
func (a *App) Close(ctx context.Context) {
	if a.schedulerEnabled {
		select {
		case <-a.Scheduler.Stop().Done():
		case <-ctx.Done():
			a.logger.Warn("scheduler jobs still running at shutdown")
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.logger.Warn("redis close failed", "error", err)
		}
	}
	a.Storage.Close()
}
