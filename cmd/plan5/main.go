package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Plan5/app/controllers"
	"github.com/ManuelReschke/Plan5/app/repository"
	"github.com/ManuelReschke/Plan5/internal/pkg/apperror"
	"github.com/ManuelReschke/Plan5/internal/pkg/audit"
	"github.com/ManuelReschke/Plan5/internal/pkg/cache"
	"github.com/ManuelReschke/Plan5/internal/pkg/compliance"
	"github.com/ManuelReschke/Plan5/internal/pkg/database"
	"github.com/ManuelReschke/Plan5/internal/pkg/env"
	"github.com/ManuelReschke/Plan5/internal/pkg/errorreport"
	"github.com/ManuelReschke/Plan5/internal/pkg/idempotency"
	"github.com/ManuelReschke/Plan5/internal/pkg/invoice"
	"github.com/ManuelReschke/Plan5/internal/pkg/mail"
	"github.com/ManuelReschke/Plan5/internal/pkg/payments"
	"github.com/ManuelReschke/Plan5/internal/pkg/providers"
	"github.com/ManuelReschke/Plan5/internal/pkg/reminders"
	"github.com/ManuelReschke/Plan5/internal/pkg/router"
	"github.com/ManuelReschke/Plan5/internal/pkg/s3archive"
)

type application struct {
	app       *fiber.App
	scheduler *reminders.Scheduler
	reporter  errorreport.Reporter
}

func main() {
	a := newApplication()

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
		if err := a.app.Listen(addr); err != nil {
			log.Fatalf("[Server] listen failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("[Server] Shutting down...")

	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if err := a.app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Errorf("[Server] shutdown: %v", err)
	}
	if sentry, ok := a.reporter.(*errorreport.SentryReporter); ok {
		sentry.Flush(2 * time.Second)
	}
	if sqlDB, err := database.GetDB().DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info("[Server] Stopped")
}

func newApplication() *application {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	cfg := env.Source{}
	db := database.GetDB()
	reporter := errorreport.NewFromEnv(cfg)

	repos := repository.NewFactory(db).GetRepositories()
	recorder := audit.NewRecorder(db)
	ledger := newLedger(db)

	registry := providers.NewRegistry(paymentAdapters(cfg)...)
	mailer := newMailer(cfg)
	archive := newArchive(cfg)

	creditor, err := invoice.CreditorFromEnv(cfg)
	if err != nil {
		log.Warnf("[Invoices] invoicing disabled: %v", err)
	}

	paymentSvc := payments.NewService(repos, registry, ledger, recorder).WithReporter(reporter)
	var invoiceArchive invoice.ArchiveStore
	if archive != nil {
		invoiceArchive = archive
	}
	invoiceSvc := invoice.NewService(repos, ledger, creditor, invoiceArchive, mailer)
	var exportStore compliance.ArtifactStore
	if archive != nil {
		exportStore = archive
	}
	complianceSvc := compliance.NewService(repos, ledger, recorder, exportStore)
	dispatcher := reminders.NewDispatcher(repos.Reminder, recorder,
		reminders.NewEmailChannel(mailer),
		reminders.NewWebhookChannel(nil),
	).WithReporter(reporter).WithStaleAfter(reminders.StaleAfterFromEnv(cfg))

	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
			}
			return c.Status(apperror.HTTPStatus(err)).JSON(fiber.Map{"error": apperror.Kind(err)})
		},
	})
	app.Use(recover.New(), logger.New())

	cacheConn := cacheClient()
	var limiterStorage fiber.Storage
	if cacheConn != nil {
		limiterStorage = cache.NewLimiterStorage()
	}

	router.InstallRouter(app, router.Dependencies{
		Payments:         controllers.NewPaymentController(paymentSvc, reporter),
		Invoices:         controllers.NewInvoiceController(invoiceSvc, reporter),
		Compliance:       controllers.NewComplianceController(complianceSvc, reporter),
		Reminders:        controllers.NewReminderController(dispatcher, reporter),
		Health:           controllers.NewHealthController(db, cacheConn),
		CronSecret:       cfg.Optional("REMINDER_CRON_SECRET", ""),
		MetricsUsers:     metricsUsers(cfg),
		RateLimit:        env.Int(cfg, "API_RATE_LIMIT_PER_MINUTE", 0),
		RateLimitStorage: limiterStorage,
	})

	a := &application{app: app, reporter: reporter}
	if sc := reminders.LoadSchedulerConfig(cfg); sc.Enabled {
		a.scheduler = reminders.NewScheduler(dispatcher, ledger, sc)
		a.scheduler.Start()
	}
	return a
}

// newLedger puts the Redis replay cache in front of the database store when
// the cache answers at startup.
func newLedger(db *gorm.DB) *idempotency.Ledger {
	store := idempotency.Store(idempotency.NewGormStore(db))
	if client := cacheClient(); client != nil {
		store = idempotency.NewCachedStore(store, client)
		log.Info("[Idempotency] replay cache enabled")
	}
	return idempotency.NewLedger(store)
}

func cacheClient() *redis.Client {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !cache.Available(ctx) {
		return nil
	}
	return cache.GetClient()
}

func paymentAdapters(cfg env.Provider) []providers.Adapter {
	var adapters []providers.Adapter
	if stripe, err := providers.NewStripeAdapterFromEnv(cfg); err == nil {
		adapters = append(adapters, stripe)
	} else {
		log.Warnf("[Payments] stripe disabled: %v", err)
	}
	if sumup, err := providers.NewSumUpAdapterFromEnv(cfg); err == nil {
		adapters = append(adapters, sumup)
	} else {
		log.Warnf("[Payments] sumup disabled: %v", err)
	}
	return adapters
}

func newMailer(cfg env.Provider) mail.Sender {
	sender, err := mail.NewSenderFromEnv(cfg)
	if err != nil {
		log.Warnf("[Mail] email disabled: %v", err)
		return mail.DisabledSender{}
	}
	return sender
}

func newArchive(cfg env.Provider) *s3archive.Client {
	s3cfg, err := s3archive.LoadConfig(cfg)
	if err != nil {
		log.Warnf("[S3Archive] archive disabled: %v", err)
		return nil
	}
	if !s3cfg.Enabled {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := s3archive.NewClient(ctx, s3cfg)
	if err != nil {
		log.Warnf("[S3Archive] archive disabled: %v", err)
		return nil
	}
	return client
}

func metricsUsers(cfg env.Provider) map[string]string {
	user := cfg.Optional("METRICS_USER", "")
	password := cfg.Optional("METRICS_PASSWORD", "")
	if user == "" || password == "" {
		return nil
	}
	return map[string]string{user: password}
}
