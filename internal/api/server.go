// Package api serves the users/projects REST surface. Everything except
// registration and login sits behind the session gate.
package api

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/devsync-io/devsync/internal/auth"
	"github.com/devsync-io/devsync/internal/metrics"
	"github.com/devsync-io/devsync/internal/project"
	"github.com/devsync-io/devsync/internal/requestid"
	"github.com/devsync-io/devsync/internal/store"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	ListenAddr  string
	CORSOrigins string
	RateLimit   RateLimitConfig
}

// Handlers holds dependencies for the HTTP handlers.
type Handlers struct {
	store    *store.Store
	gate     *auth.Gate
	projects *project.Service
	logger   zerolog.Logger
}

// NewHandlers creates a Handlers instance.
func NewHandlers(st *store.Store, gate *auth.Gate, projects *project.Service, logger zerolog.Logger) *Handlers {
	return &Handlers{
		store:    st,
		gate:     gate,
		projects: projects,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// Server is the REST API Fiber application.
type Server struct {
	app    *fiber.App
	config ServerConfig
	logger zerolog.Logger
}

// NewServer creates and configures the API server.
func NewServer(
	cfg ServerConfig,
	handlers *Handlers,
	gate *auth.Gate,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             8 << 20, // file trees arrive in request bodies
	})

	s := &Server{
		app:    app,
		config: cfg,
		logger: logger.With().Str("component", "api_server").Logger(),
	}

	s.setupMiddleware(cfg, m, logger)
	s.setupRoutes(handlers, gate, m, logger)

	return s
}

func (s *Server) setupMiddleware(cfg ServerConfig, m *metrics.Metrics, logger zerolog.Logger) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// Request ID middleware
	s.app.Use(func(c *fiber.Ctx) error {
		_, reqID := requestid.New(c.Context())
		c.Set("X-Request-ID", reqID)
		c.Locals("request_id", reqID)
		return c.Next()
	})

	if cfg.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSOrigins,
			AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Request-ID",
			AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
			AllowCredentials: true,
		}))
	}

	if cfg.RateLimit.RPS > 0 {
		s.app.Use(NewRateLimitMiddleware(cfg.RateLimit))
	}

	// Audit + metrics middleware
	s.app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		route := c.Route().Path
		status := c.Response().StatusCode()
		if m != nil {
			m.RecordRequest(route, strconv.Itoa(status))
			m.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}

		logger.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Str("ip", c.IP()).
			Dur("duration", time.Since(start)).
			Str("request_id", fmt.Sprintf("%v", c.Locals("request_id"))).
			Msg("api request")

		return err
	})
}

func (s *Server) setupRoutes(h *Handlers, gate *auth.Gate, m *metrics.Metrics, logger zerolog.Logger) {
	gated := auth.Middleware(gate, m, logger)

	users := s.app.Group("/users")
	users.Post("/register", h.Register)
	users.Post("/login", h.Login)
	users.Post("/logout", gated, h.Logout)
	users.Get("/profile", gated, h.Profile)
	users.Get("/all", gated, h.AllUsers)

	projects := s.app.Group("/projects", gated)
	projects.Post("/create", h.CreateProject)
	projects.Get("/all", h.AllProjects)
	projects.Get("/get-project/:id", h.GetProject)
	projects.Put("/add-user", h.AddUser)
	projects.Put("/update-file-tree", h.UpdateFileTree)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	s.logger.Info().Str("addr", addr).Msg("API server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("API server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}

		logger.Error().
			Err(err).
			Int("status", code).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Msg("unhandled error")

		detail := err.Error()
		if code == fiber.StatusInternalServerError {
			detail = "An internal error occurred"
		}

		return respondError(c, code, detail, "INTERNAL_ERROR")
	}
}
