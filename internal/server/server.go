// Package server contains the HTTP handlers for the request queue API.
package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"requestdesk/internal/cache"
	"requestdesk/internal/config"
	"requestdesk/internal/database"
	"requestdesk/internal/gate"
	"requestdesk/internal/listing"
	"requestdesk/internal/metadata"
	"requestdesk/internal/middleware"
	"requestdesk/internal/models"
	"requestdesk/internal/notify"
	"requestdesk/internal/observability"
	"requestdesk/internal/platform"
	"requestdesk/internal/repository"
	"requestdesk/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers.
type Server struct {
	config   *config.Config
	db       *gorm.DB
	redis    *redis.Client
	repo     repository.RequestRepository
	svc      *service.RequestService
	gate     *gate.Gate
	channels *platform.Channels
	app      *fiber.App
}

// NewServer wires the full dependency graph over the given chat platform
// client. The client is injected because the platform adapter lives outside
// this service.
func NewServer(cfg *config.Config, client platform.Client) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	cache.InitRedis(cfg.RedisURL)
	redisClient := cache.GetClient()

	channels, err := platform.ResolveChannels(context.Background(), client,
		cfg.SubmissionChannel, cfg.ListingChannel, cfg.TalkChannel, cfg.MembersRole)
	if err != nil {
		return nil, fmt.Errorf("channel resolution failed: %w", err)
	}

	repo := repository.NewRequestRepository(db)
	resolver := metadata.NewResolver(cfg.CatalogAPIURL, cfg.CatalogAPIKey, cfg.CatalogDomain,
		redisClient, time.Duration(cfg.CatalogCacheTTL)*time.Minute)
	publisher := listing.NewPublisher(client, channels, resolver)
	g := gate.New(repo, client, channels, cfg.PendingLimit)
	notifier := notify.New(client, channels, cfg.MaintainerID)
	svc := service.NewRequestService(db, repo, publisher, g, notifier, resolver)

	return &Server{
		config:   cfg,
		db:       db,
		redis:    redisClient,
		repo:     repo,
		svc:      svc,
		gate:     g,
		channels: channels,
	}, nil
}

// SetupMiddleware configures middleware for the Fiber app.
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.ContextMiddleware())
	app.Use(middleware.TracingMiddleware())

	prom := middleware.InitMetrics("requestdesk")
	prom.RegisterAt(app, "/metrics")
	app.Use(middleware.MetricsMiddleware(prom))

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	// Global rate limit per IP; per-route limits are Redis-backed.
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))

	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           86400,
	}))
}

// SetupRoutes configures all routes for the application.
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.Liveness)
	app.Get("/health/ready", s.Readiness)

	api := app.Group("/api")

	api.Get("/", s.HealthCheck)
	api.Get("/monitor", monitor.New(monitor.Config{
		Title: "Requestdesk Metrics",
	}))

	protected := api.Group("/requests", s.AuthRequired())
	protected.Get("/", s.ListRequests)
	protected.Get("/me", s.MyRequestSummary)
	protected.Post("/", middleware.RateLimit(s.redis, 3, time.Minute, "submit_request"), s.SubmitRequest)

	staff := protected.Group("", s.StaffRequired())
	staff.Post("/refresh", s.RefreshListing)
	staff.Get("/:id", s.GetRequest)
	staff.Post("/:id/hold", s.HoldRequest)
	staff.Post("/:id/complete", s.CompleteRequest)
	staff.Post("/:id/reject", s.RejectRequest)
}

// Liveness reports that the process is up.
func (s *Server) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "alive"})
}

// Readiness reports whether the database is reachable.
func (s *Server) Readiness(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not ready",
		})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}

// HealthCheck handles health check requests.
func (s *Server) HealthCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "healthy"
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	} else {
		redisStatus = "unavailable"
	}

	status := fiber.StatusOK
	if dbStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
	}

	return c.Status(status).JSON(fiber.Map{
		"message": "Requestdesk",
		"status":  "healthy",
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// identity is the authenticated caller extracted from JWT claims. Roles come
// from the chat platform and are minted into the token by the gateway that
// fronts this API.
type identity struct {
	UserID  string
	UserTag string
	Donator bool
	Staff   bool
}

// AuthRequired returns the authentication middleware.
func (s *Server) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		tokenString := ""
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}

		if tokenString == "" {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Authorization required"))
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
			}
			return []byte(s.config.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid or expired token"))
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid token claims"))
		}

		sub, ok := claims["sub"].(string)
		if !ok || sub == "" {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid subject claim"))
		}

		id := identity{UserID: sub}
		if tag, ok := claims["tag"].(string); ok {
			id.UserTag = tag
		}
		if roles, ok := claims["roles"].([]any); ok {
			for _, r := range roles {
				switch r {
				case "donator":
					id.Donator = true
				case "staff":
					id.Staff = true
				}
			}
		}

		c.Locals("identity", id)
		c.Locals("userID", id.UserID)
		return c.Next()
	}
}

// StaffRequired gates lifecycle transitions to staff callers. Must run after
// AuthRequired.
func (s *Server) StaffRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := c.Locals("identity").(identity)
		if !ok || !id.Staff {
			return models.RespondWithError(c, fiber.StatusForbidden,
				models.NewUnauthorizedError("Staff role required"))
		}
		return c.Next()
	}
}

// Start starts the server.
func (s *Server) Start() error {
	app := fiber.New(fiber.Config{
		AppName: "Requestdesk API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			middleware.Logger.Error("unhandled request error", "error", err)
			return models.RespondWithError(c, models.StatusForError(err), err)
		},
	})

	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app

	// Reconcile the gate on boot so a restart cannot strand the submission
	// channel in a stale permission state.
	ctx := observability.WithCorrelationID(context.Background(), observability.NewCorrelationID())
	if err := s.gate.Recheck(ctx); err != nil {
		middleware.Logger.ErrorContext(ctx, "initial gate recheck failed", "error", err)
	}

	return app.Listen(":" + s.config.Port)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			return err
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			middleware.Logger.Error("redis close failed", "error", err)
		}
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
