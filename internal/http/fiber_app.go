package http

import (
	"context"
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	mw "github.com/open-builders/knock-backend/internal/http/middleware"
	"github.com/open-builders/knock-backend/internal/metrics"
)

const readyTimeout = 2 * time.Second

// ReadinessCheck reports whether a dependency is reachable.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps are the collaborators of the HTTP surface.
type Deps struct {
	PublicKey ed25519.PublicKey
	// Relay backs /interactions. Nil disables the route.
	Relay  CommandSubmitter
	Checks []ReadinessCheck
	// Gatherer backs /metrics. Nil disables the route.
	Gatherer prometheus.Gatherer
	Log      zerolog.Logger
	Metrics  *metrics.Metrics
}

// NewFiberApp builds a Fiber application with routes and middlewares wired.
func NewFiberApp(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	app.Use(recover.New())
	app.Use(mw.RequestLogger(d.Log))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/ready", readyHandler(d.Checks))
	if d.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	// The worker serves the same app without a relay, for probes and metrics.
	if d.Relay != nil {
		ih := NewInteractionHandlers(d.Relay, d.Log, d.Metrics)
		app.Post("/interactions", mw.SignatureMiddleware(d.PublicKey), ih.Handle)
	}

	return app
}

func readyHandler(checks []ReadinessCheck) fiber.Handler {
	return func(c *fiber.Ctx) error {
		for _, rc := range checks {
			ctx, cancel := context.WithTimeout(c.UserContext(), readyTimeout)
			err := rc.Check(ctx)
			cancel()
			if err != nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable", "failed": rc.Name})
			}
		}
		return c.JSON(fiber.Map{"status": "ready"})
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "internal error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}
