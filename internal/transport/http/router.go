package http

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/pipedash/backend/internal/config"
	"github.com/pipedash/backend/internal/core/events"
	"github.com/pipedash/backend/internal/core/ports"
	"github.com/pipedash/backend/internal/core/services"
	"github.com/pipedash/backend/internal/infrastructure/db"
	"github.com/pipedash/backend/internal/infrastructure/logger"
	"github.com/pipedash/backend/internal/infrastructure/runner"
	"github.com/pipedash/backend/internal/transport/http/handlers"
	httpmw "github.com/pipedash/backend/internal/transport/http/middleware"
)

type RouterConfig struct {
	DB     *gorm.DB
	Logger *logger.Logger
	Config *config.Config
}

func SetupRoutes(app *fiber.App, cfg RouterConfig) ports.RunService {
	// Initialize repositories
	runRepo := db.NewRunRepository(cfg.DB, cfg.Logger)
	logRepo := db.NewLogRepository(cfg.DB, cfg.Logger)

	broker := events.NewBroker(cfg.Logger)

	var phaseRunner ports.PhaseRunner
	var remoteRunner *runner.RemoteRunner
	if cfg.Config.Runner.Mode == "ssh" {
		remoteRunner = runner.NewRemoteRunner(cfg.Config.Runner, cfg.Logger)
		phaseRunner = remoteRunner
	} else {
		phaseRunner = runner.NewLocalRunner(cfg.Config.Runner, cfg.Logger)
	}

	runService := services.NewRunService(services.RunServiceConfig{
		Runner:        phaseRunner,
		RunRepo:       runRepo,
		LogRepo:       logRepo,
		Broker:        broker,
		Logger:        cfg.Logger,
		UnwindTimeout: cfg.Config.Unwind.Timeout,
	})

	// Initialize handlers
	deployHandler := handlers.NewDeployHandler(runService, cfg.Logger)
	unwindHandler := handlers.NewUnwindHandler(runService, cfg.Logger)
	statusHandler := handlers.NewStatusHandler(runService)
	runHandler := handlers.NewRunHandler(runService)
	eventsHandler := handlers.NewEventsHandler(broker)
	logTailHandler := handlers.NewLogTailHandler(broker, cfg.Logger)

	// Websocket log tail
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})
	app.Get("/ws/logs", websocket.New(logTailHandler.Handle))

	// API v1 routes
	api := app.Group("/api/v1")

	// Run-triggering routes
	api.Post("/deploy", httpmw.AdminAuth(cfg.Config), deployHandler.StartDeploy)
	api.Post("/unwind", httpmw.AdminAuth(cfg.Config), unwindHandler.Teardown)
	api.Post("/unwind/stream", httpmw.AdminAuth(cfg.Config), deployHandler.StartUnwindStream)

	// Read-only dashboard routes
	api.Get("/status", statusHandler.GetStatus)
	api.Get("/events", eventsHandler.Subscribe)

	runs := api.Group("/runs")
	runs.Get("/", runHandler.GetRuns)
	runs.Get("/:id", runHandler.GetRun)
	runs.Get("/:id/logs", runHandler.GetRunLogs)

	// The deployment log file lives on the remote host in ssh mode.
	if remoteRunner != nil {
		artifactHandler := handlers.NewArtifactHandler(remoteRunner, cfg.Logger)
		api.Get("/logs/artifact", artifactHandler.GetDeployLog)
	}

	return runService
}
