package main

import (
	"log"
	"time"

	"github.com/facturaqr/facturas-backend/config"
	"github.com/facturaqr/facturas-backend/database"
	"github.com/facturaqr/facturas-backend/handlers"
	"github.com/facturaqr/facturas-backend/jobs"
	"github.com/facturaqr/facturas-backend/services"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load config
	cfg := config.LoadConfig()

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}

	// Connect to database
	if err := database.Connect(cfg.DatabasePath); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	// Run additive migration
	if err := database.Migrate(database.DB); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	location := cfg.Location()
	extractorConfig := cfg.ExtractorConfiguration()

	// Initialize services
	fetcher := services.NewPageFetcher(extractorConfig)
	extractor := services.NewBillExtractor(extractorConfig, fetcher)
	billService := services.NewBillService(database.DB, location)
	sessionService := services.NewSessionService(cfg.AdminSecret, cfg.SessionTTL)
	exportService := services.NewExportService()

	log.Println("Bill backend services initialized:")
	log.Printf("  - Extractor (host marker: %s, fetch timeout: %v, render JS: %t)",
		extractorConfig.HostMarker, extractorConfig.FetchTimeout, extractorConfig.RenderJS)
	log.Printf("  - Record store (%s, timezone: %s)", cfg.DatabasePath, location)
	log.Printf("  - Access gate (session TTL: %v)", cfg.SessionTTL)

	// Initialize handlers
	billHandler := handlers.NewBillHandler(billService, extractor)
	authHandler := handlers.NewAuthHandler(sessionService)
	exportHandler := handlers.NewExportHandler(billService, exportService, location)

	// Start background maintenance
	cleanupJob := jobs.NewSessionCleanupJob(sessionService)
	go func() {
		cleanupTicker := time.NewTicker(1 * time.Hour)
		metricsTicker := time.NewTicker(6 * time.Hour)

		for {
			select {
			case <-cleanupTicker.C:
				cleanupJob.Run()
			case <-metricsTicker.C:
				extractor.Metrics().LogSummary()
			}
		}
	}()

	// Setup Fiber
	app := fiber.New()

	// Middleware
	app.Use(logger.New())
	app.Use(cors.New())

	// Health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		if err := database.HealthCheck(); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "unavailable",
			})
		}
		return c.JSON(fiber.Map{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
		})
	})

	// Routes
	api := app.Group("/api")

	// Public submission routes
	api.Post("/scrape", billHandler.ScrapeBill)
	api.Post("/check-qr", billHandler.CheckQR)

	// Auth routes
	api.Post("/auth/login", authHandler.Login)
	api.Post("/auth/logout", authHandler.Logout)
	api.Get("/auth/check", authHandler.Check)

	// Admin routes, session-gated
	api.Get("/bills", authHandler.RequireSession, billHandler.GetBills)
	api.Delete("/bills/:id", authHandler.RequireSession, billHandler.DeleteBill)
	api.Delete("/bills", authHandler.RequireSession, billHandler.ClearBills)
	api.Get("/download/:format", authHandler.RequireSession, exportHandler.Download)

	// Start server
	log.Printf("Server starting on port %s", cfg.ServerPort)
	if err := app.Listen(":" + cfg.ServerPort); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
