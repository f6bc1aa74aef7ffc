// Command dentaldesk runs the clinic's WhatsApp assistant: the webhook HTTP
// server, the single-worker orchestration engine, and the idle conversation
// sweep.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/go-co-op/gocron/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"

	"github.com/dentaldesk/dentaldesk/clinic"
	"github.com/dentaldesk/dentaldesk/config"
	"github.com/dentaldesk/dentaldesk/engine"
	"github.com/dentaldesk/dentaldesk/logging"
	"github.com/dentaldesk/dentaldesk/model"
	anthropicmodel "github.com/dentaldesk/dentaldesk/model/anthropic"
	openaimodel "github.com/dentaldesk/dentaldesk/model/openai"
	"github.com/dentaldesk/dentaldesk/store"
	"github.com/dentaldesk/dentaldesk/tool"
	"github.com/dentaldesk/dentaldesk/whatsapp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "dentaldesk:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	// Secrets commonly live in .env during development; absence is fine.
	_ = godotenv.Load()

	path, err := config.FindConfig(*configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.NewSlogLogger(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format, false)
	logger.Info("starting dentaldesk",
		"config", path, "provider", cfg.Planner.Provider, "port", cfg.Listen.Port)

	db, err := store.NewSQLiteStore(cfg.Database.Path, logger.WithComponent("store"))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	planner, err := buildPlanner(cfg)
	if err != nil {
		return err
	}

	sender := whatsapp.NewSender(whatsapp.SenderConfig{
		AccessToken:   cfg.WhatsApp.AccessToken,
		PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
		APIVersion:    cfg.WhatsApp.APIVersion,
	}, logger.WithComponent("whatsapp"))

	eng, err := engine.New(engine.Options{
		Model:         planner,
		Store:         db,
		Sender:        sender,
		Tools:         tool.NewRegistry(clinic.Toolset(db, nil)...),
		Instructions:  clinic.SystemPrompt,
		AssistantName: clinic.AssistantName,
		MaxToolRounds: cfg.Engine.MaxToolRounds,
		IdleTimeout:   cfg.IdleTimeout(),
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Worker.
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		_ = eng.Run(ctx)
	}()

	// Idle sweep.
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(cfg.SweepInterval()),
		gocron.NewTask(func() { eng.SweepIdle(ctx) }),
		gocron.WithName("idle-sweep"),
	)
	if err != nil {
		return fmt.Errorf("scheduling sweep: %w", err)
	}
	scheduler.Start()
	defer func() { _ = scheduler.Shutdown() }()

	app := newWebhookApp(eng, cfg, logger.WithComponent("webhook"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port))
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err.Error())
	}
	<-workerDone
	return nil
}

// buildPlanner selects the model backend. An explicit api_key in the config
// wins over the provider's environment variable. The mock provider exists for
// local smoke tests without credentials.
func buildPlanner(cfg *config.Config) (model.Model, error) {
	switch cfg.Planner.Provider {
	case "openai":
		var clientOpts []openaioption.RequestOption
		if cfg.Planner.APIKey != "" {
			clientOpts = append(clientOpts, openaioption.WithAPIKey(cfg.Planner.APIKey))
		}
		client := openai.NewClient(clientOpts...)
		return openaimodel.NewModelFromClient(&client, func(o *openaimodel.Options) {
			if cfg.Planner.Model != "" {
				o.Model = cfg.Planner.Model
			}
		}), nil
	case "anthropic":
		var clientOpts []anthropicoption.RequestOption
		if cfg.Planner.APIKey != "" {
			clientOpts = append(clientOpts, anthropicoption.WithAPIKey(cfg.Planner.APIKey))
		}
		client := anthropic.NewClient(clientOpts...)
		return anthropicmodel.NewModelFromClient(&client, func(o *anthropicmodel.Options) {
			if cfg.Planner.Model != "" {
				o.Model = anthropic.Model(cfg.Planner.Model)
			}
		}), nil
	case "mock":
		return model.NewMockModel("mock").
			AddTextTurn("Hello! I'm Sia, the clinic assistant. How can I help you today?"), nil
	default:
		return nil, fmt.Errorf("unknown planner provider %q", cfg.Planner.Provider)
	}
}

// newWebhookApp builds the Fiber app serving the Meta webhook endpoints.
func newWebhookApp(eng *engine.Engine, cfg *config.Config, logger logging.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "dentaldesk",
		DisableStartupMessage: true,
	})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "queue_len": eng.QueueLen()})
	})

	// Cloud API subscription handshake.
	app.Get("/webhook", func(c *fiber.Ctx) error {
		challenge, ok := whatsapp.VerifyHandshake(
			c.Query("hub.mode"),
			c.Query("hub.verify_token"),
			c.Query("hub.challenge"),
			cfg.WhatsApp.VerifyToken,
		)
		if !ok {
			logger.Warn("webhook verification failed")
			return c.SendStatus(fiber.StatusForbidden)
		}
		logger.Info("webhook verified")
		return c.SendString(challenge)
	})

	app.Post("/webhook", func(c *fiber.Ctx) error {
		payload, err := whatsapp.ParsePayload(c.Body())
		if err != nil {
			logger.Warn("rejecting malformed webhook body", "error", err.Error())
			return c.SendStatus(fiber.StatusBadRequest)
		}

		if payload.IsStatusUpdate() {
			if status, ok := payload.StatusUpdate(); ok {
				logger.Debug("delivery status update", "status", status.Status)
			}
			return c.JSON(fiber.Map{"status": "ok"})
		}

		phone, text, err := payload.TextMessage()
		if err != nil {
			logger.Warn("ignoring unsupported webhook event", "error", err.Error())
			return c.JSON(fiber.Map{"status": "ignored"})
		}

		conv, err := eng.HandleInbound(c.Context(), phone, text)
		if err != nil {
			logger.Error("intake failed", "error", err.Error())
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		logger.Info("inbound message accepted", "conversation_id", conv.ID)
		return c.JSON(fiber.Map{"status": "ok"})
	})

	return app
}
