// Package admin exposes the out-of-band observability surface on its own
// port: liveness, readiness, prometheus metrics and a status snapshot. It is
// deliberately separate from the RPC listener so probes keep answering while
// the dispatcher drains.
package admin

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sentivec/embedd/internal/server"
)

// Info is the static part of the /statusz payload.
type Info struct {
	Model    string `json:"model"`
	Reranker string `json:"reranker,omitempty"`
	Version  string `json:"version"`
	TLS      bool   `json:"tls"`
}

type statusResponse struct {
	Info
	State string `json:"state"`
}

// New builds the fiber app. stateFn is sampled per request so readiness
// flips as soon as the lifecycle leaves Serving.
func New(stateFn func() server.State, info Info) *fiber.App {
	app := fiber.New(fiber.Config{
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
		DisableStartupMessage: true,
	})
	app.Use(logger.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	app.Get("/readyz", func(c *fiber.Ctx) error {
		if stateFn() == server.Serving {
			return c.SendString("ready")
		}
		return c.Status(fiber.StatusServiceUnavailable).SendString("not ready")
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/statusz", func(c *fiber.Ctx) error {
		return c.JSON(statusResponse{Info: info, State: stateFn().String()})
	})

	return app
}

// Start runs the app in the background; admin listener failures are logged,
// never fatal to serving.
func Start(app *fiber.App, port int, log *zap.Logger) {
	go func() {
		addr := fmt.Sprintf(":%d", port)
		log.Info("admin listener started", zap.String("addr", addr))
		if err := app.Listen(addr); err != nil {
			log.Error("admin listener error", zap.Error(err))
		}
	}()
}
