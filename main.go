package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/docsignal/DocSignal/app/controllers"
	"github.com/docsignal/DocSignal/app/models"
	"github.com/docsignal/DocSignal/internal/pkg/billing"
	"github.com/docsignal/DocSignal/internal/pkg/cache"
	"github.com/docsignal/DocSignal/internal/pkg/database"
	"github.com/docsignal/DocSignal/internal/pkg/docstate"
	"github.com/docsignal/DocSignal/internal/pkg/env"
	"github.com/docsignal/DocSignal/internal/pkg/eventstore"
	"github.com/docsignal/DocSignal/internal/pkg/router"
	"github.com/docsignal/DocSignal/internal/pkg/statushub"
	"github.com/docsignal/DocSignal/internal/pkg/webhook"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	store := eventstore.NewStore(db)
	sweeper := eventstore.NewSweeper(db, time.Hour)
	sweeper.Start()

	machineRepo := docstate.NewRepository(db)

	// The hub baselines subscriptions through the machine's status lookup
	// while the machine publishes commits back into the hub.
	var machine *docstate.Machine
	hub := statushub.NewHub(statushub.Options{
		CurrentStatus: func(ctx context.Context, documentID string) (string, error) {
			return machine.CurrentStatus(ctx, documentID)
		},
	})
	machine = docstate.NewMachine(machineRepo, hub, cache.Default())
	hub.Start()

	worker := billing.NewWorker(billing.NewRepository(db))

	processorGateway := webhook.NewGateway(
		models.EventSourceProcessor,
		webhook.HMACVerifier{Secret: env.GetEnv("PROCESSOR_WEBHOOK_SECRET", "")},
		store,
	)
	processorGateway.Register("document_status_updated", machine.HandleStatusEvent)
	processorGateway.Register("document_deleted", machine.HandleDeleteEvent)

	billingGateway := webhook.NewGateway(
		models.EventSourceBilling,
		webhook.TimestampedVerifier{Secret: env.GetEnv("BILLING_WEBHOOK_SECRET", "")},
		store,
	)
	billingGateway.Register("subscription.created", worker.HandleSubscriptionEvent)
	billingGateway.Register("subscription.updated", worker.HandleSubscriptionEvent)
	billingGateway.Register("subscription.deleted", worker.HandleSubscriptionEvent)

	for _, gw := range []*webhook.Gateway{processorGateway, billingGateway} {
		log.Printf("[Webhook] %s gateway handling %v", gw.Source(), gw.RegisteredTypes())
	}

	controllers.SetupWebhookGateways(processorGateway, billingGateway)
	controllers.SetupDocumentControllers(hub, machine)

	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20, // webhook payloads are small
	})

	app.Use(recover.New(), logger.New())

	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			"admin": env.GetEnv("METRICS_PASSWORD", "test"),
		},
	}), monitor.New())

	router.InstallRouter(app)

	return app
}
