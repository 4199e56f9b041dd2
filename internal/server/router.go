package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// FileHandler serves the handle-oriented file API. It allows injecting fake
// handlers during tests.
type FileHandler interface {
	Open(fiber.Ctx) error
	Read(fiber.Ctx) error
	Write(fiber.Ctx) error
	Sync(fiber.Ctx) error
	Close(fiber.Ctx) error
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger         *logrus.Logger
	Files          FileHandler
	ListenPort     int
	RequestTimeout time.Duration
	// BodyLimit caps PUT payloads; fiber's default applies when zero.
	BodyLimit int
}

const contextKeyRequestID = "_bufcache_request_id"

// NewApp builds a Fiber application with request-ID middleware, panic
// recovery and the /v1/handles routes. Diagnostics routes under /-/ are
// registered separately by the routes package.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Files == nil {
		return nil, errors.New("file handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ReadTimeout:   opts.RequestTimeout,
		WriteTimeout:  opts.RequestTimeout,
		BodyLimit:     opts.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	handles := app.Group("/v1/handles")
	handles.Post("/", opts.Files.Open)
	handles.Get("/:id", opts.Files.Read)
	handles.Put("/:id", opts.Files.Write)
	handles.Post("/:id/sync", opts.Files.Sync)
	handles.Delete("/:id", opts.Files.Close)

	return app, nil
}

// RegisterFallback renders a JSON 404 for unmatched paths. Call it after every other route is registered.
func RegisterFallback(app *fiber.App, logger *logrus.Logger) {
	app.Use(func(c fiber.Ctx) error {
		return renderRouteNotFound(c, logger)
	})
}

// requestIDMiddleware assigns each request an ID and stores it in Locals and the X-Request-ID header.
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

func renderRouteNotFound(c fiber.Ctx, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"action":     "route_lookup",
		"method":     c.Method(),
		"path":       c.Path(),
		"request_id": RequestID(c),
	}).Warn("route not found")

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "route_not_found",
	})
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
