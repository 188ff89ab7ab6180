package main

import (
	"net/http"

	"agency-service/internal/activity"
	"agency-service/internal/authz"
	"agency-service/internal/handler"
	"agency-service/internal/middleware"
	"agency-service/internal/model"
	"agency-service/internal/presence"
	"agency-service/internal/scheduler"
	"agency-service/internal/security"
	"agency-service/pkg/config"
	"agency-service/pkg/database"
	"agency-service/pkg/fieldcrypt"
	"agency-service/pkg/jwtutil"
	"agency-service/pkg/logger"
	"agency-service/prometheus"

	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

func main() {
	// Load configuration from .env file and environment variables
	cfg, err := config.Load("agency-service")
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger with config
	if err := logger.InitLogger(&logger.LogConfig{
		Level:       cfg.Log.Level,
		Environment: cfg.Server.Env,
		ServiceName: cfg.ServiceName,
	}); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	log := logger.GetLogger()
	log.Info("Starting agency service...", cfg.LogConfig()...)

	// Initialize database
	db, err := database.InitDB(&cfg.DB)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	if err := database.MigrateModels(db,
		&model.User{},
		&model.Agency{},
		&model.Membership{},
		&model.Todo{},
		&model.Reminder{},
		&model.ContactHistory{},
		&model.Opportunity{},
		&model.ActivityLog{},
		&model.SecurityEvent{},
	); err != nil {
		log.Fatal("Failed to migrate database models", zap.Error(err))
	}
	log.Info("Database connection established")

	// Initialize redis for the presence store
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Initialize JWT utility
	jwt := jwtutil.New(&cfg.JWT)

	// Initialize field-level encryption for task notes and transcriptions
	cipher, err := fieldcrypt.New(cfg.Crypto.FieldKey)
	if err != nil {
		log.Fatal("Failed to initialize field encryption", zap.Error(err))
	}

	mode := authz.ModeMultiTenant
	if !cfg.Tenancy.MultiTenant {
		mode = authz.ModeLegacy
		log.Warn("Running in legacy single-tenant mode; agency scoping is disabled")
	}

	events := security.NewRecorder(db, log)
	feed := activity.NewRecorder(db, log)
	presenceStore := presence.NewStore(redisClient, cfg.Redis.PresenceTTL)

	processor := scheduler.NewProcessor(db, log)
	sched, err := scheduler.NewScheduler(processor, cfg.Cron.Schedule, log)
	if err != nil {
		log.Fatal("Failed to initialize reminder scheduler", zap.Error(err))
	}

	// Handlers
	authHandler := handler.NewAuthHandler(db, jwt)
	agencyHandler := handler.NewAgencyHandler(db, events)
	memberHandler := handler.NewMemberHandler(db, events, feed)
	todoHandler := handler.NewTodoHandler(db, cipher, feed)
	reminderHandler := handler.NewReminderHandler(db, events, feed, processor, cfg.Cron.Secret)
	contactHandler := handler.NewContactHandler(db, feed)
	opportunityHandler := handler.NewOpportunityHandler(db, feed)
	activityHandler := handler.NewActivityHandler(db)
	presenceHandler := handler.NewPresenceHandler(presenceStore)
	healthHandler := handler.NewHealthHandler(db)

	// Middleware
	authenticator := middleware.NewAuthenticator(db, jwt)
	resolver := middleware.NewAgencyResolver(db, mode, events)

	// Initialize Echo framework
	e := echo.New()
	e.HideBanner = true

	// Internal error details stay in the log; clients get a generic envelope
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		message := "internal server error"
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if msg, ok := he.Message.(string); ok && code < http.StatusInternalServerError {
				message = msg
			}
		}
		if code >= http.StatusInternalServerError {
			logger.FromEcho(c).Error("Unhandled request error", zap.Error(err))
		}
		_ = c.JSON(code, echo.Map{"success": false, "error": message})
	}

	// Apply global middleware - order matters
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(middleware.RequestIDMiddleware)
	e.Use(logger.Middleware())
	e.Use(prometheus.MetricsMiddleware())

	// Public routes - no authentication required
	e.GET("/health", healthHandler.Health)
	e.GET("/metrics", healthHandler.Metrics)

	// Authentication routes
	auth := e.Group("/auth")
	auth.POST("/register", authHandler.Register)
	auth.POST("/login", authHandler.Login)

	// Cron endpoint - authenticated by shared secret, deliberately outside
	// the per-agency scoping chain
	e.GET("/reminders/process", reminderHandler.ProcessReminders)
	e.POST("/reminders/process", reminderHandler.ProcessReminders)

	// API routes - all require authentication
	api := e.Group("/api")
	api.Use(authenticator.Middleware())

	// Agency management - no agency context required yet
	agencies := api.Group("/agencies")
	agencies.GET("", agencyHandler.ListAgencies)
	agencies.POST("", agencyHandler.CreateAgency)

	// Agency-scoped operations - requires an active membership in the
	// session's agency; the :agencyId param is checked against the session
	scoped := api.Group("/agencies/:agencyId", resolver.RequireAgency())

	scoped.GET("/members", memberHandler.ListMembers)
	scoped.POST("/members", memberHandler.AddMember)
	scoped.PATCH("/members", memberHandler.UpdateMemberRole)
	scoped.DELETE("/members", memberHandler.RemoveMember)

	scoped.GET("/todos", todoHandler.ListTodos)
	scoped.POST("/todos", todoHandler.CreateTodo)
	scoped.PUT("/todos", todoHandler.UpdateTodo)
	scoped.PATCH("/todos", todoHandler.UpdateTodo)
	scoped.DELETE("/todos", todoHandler.DeleteTodo)
	scoped.POST("/todos/reorder", todoHandler.ReorderTodos)

	scoped.GET("/reminders", reminderHandler.ListReminders)
	scoped.POST("/reminders", reminderHandler.CreateReminder)
	scoped.PATCH("/reminders", reminderHandler.UpdateReminder)
	scoped.DELETE("/reminders", reminderHandler.DeleteReminder)

	scoped.GET("/contacts", contactHandler.ListContacts)
	scoped.POST("/contacts", contactHandler.CreateContact)

	scoped.GET("/opportunities", opportunityHandler.ListOpportunities)
	scoped.POST("/opportunities", opportunityHandler.CreateOpportunity)

	scoped.GET("/activity", activityHandler.ListActivity,
		resolver.RequireRoles(authz.RoleOwner, authz.RoleManager))

	scoped.POST("/presence/heartbeat", presenceHandler.Heartbeat)
	scoped.GET("/presence", presenceHandler.ListActive)

	// Start the in-process reminder scheduler
	sched.Start()
	defer sched.Stop()
	log.Info("Reminder scheduler started", zap.String("schedule", cfg.Cron.Schedule))

	// Start server
	port := cfg.Server.Port
	log.Info("Starting server", zap.String("port", port))
	if err := e.Start(":" + port); err != nil {
		log.Fatal("Failed to start server", zap.Error(err))
	}
}
