package server

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	prommetrics "github.com/guardmesh/sentinel/pkg/infra/prometheus"
	"github.com/guardmesh/sentinel/pkg/registry"
	"github.com/guardmesh/sentinel/pkg/scanner"
	"github.com/guardmesh/sentinel/pkg/state"
	"github.com/guardmesh/sentinel/pkg/types"
)

// Server is the thin collaborator API: metrics snapshot, event tail, model
// registry bookkeeping and manual triggers. No rendering, no sessions.
type Server struct {
	app     *fiber.App
	state   *state.State
	sources []scanner.Source
	logger  *logrus.Logger
}

func New(st *state.State, sources []scanner.Source, logger *logrus.Logger) *Server {
	s := &Server{
		app:     fiber.New(fiber.Config{DisableStartupMessage: true}),
		state:   st,
		sources: sources,
		logger:  logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/health", s.health)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(
		prommetrics.Registry(),
		promhttp.HandlerOpts{},
	)))
	s.app.Get("/metrics-snapshot", s.metricsSnapshot)
	s.app.Get("/events", s.events)

	s.app.Get("/models", s.listModels)
	s.app.Post("/models", s.createModel)
	s.app.Get("/models/:id", s.getModel)
	s.app.Put("/models/:id", s.updateModel)

	s.app.Post("/scan", s.triggerScan)
	s.app.Post("/probe/:id", s.triggerProbe)
}

func (s *Server) Listen(host string, port int) error {
	return s.app.Listen(fmt.Sprintf("%s:%d", host, port))
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) metricsSnapshot(c *fiber.Ctx) error {
	return c.JSON(s.state.Metrics())
}

func (s *Server) events(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	return c.JSON(s.state.EventsTail(limit))
}

func (s *Server) listModels(c *fiber.Ctx) error {
	return c.JSON(s.state.Registry.List())
}

func (s *Server) getModel(c *fiber.Ctx) error {
	model, err := s.state.Registry.Get(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(model)
}

func (s *Server) createModel(c *fiber.Ctx) error {
	var m types.TargetModel
	if err := c.BodyParser(&m); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid model descriptor"})
	}
	if m.Endpoint == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "endpoint is required"})
	}
	if m.Flavor == "" {
		m.Flavor = types.FlavorOpenAIChat
	}
	created := s.state.Registry.Create(m)
	return c.Status(fiber.StatusCreated).JSON(created)
}

func (s *Server) updateModel(c *fiber.Ctx) error {
	var in types.TargetModel
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid model descriptor"})
	}
	updated, err := s.state.Registry.Update(c.Params("id"), func(m *types.TargetModel) {
		if in.Name != "" {
			m.Name = in.Name
		}
		if in.Endpoint != "" {
			m.Endpoint = in.Endpoint
		}
		if in.Flavor != "" {
			m.Flavor = in.Flavor
		}
		if in.APIKey != "" {
			m.APIKey = in.APIKey
		}
		if in.ModelID != "" {
			m.ModelID = in.ModelID
		}
		m.Monitoring = in.Monitoring
	})
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(updated)
}

func (s *Server) triggerScan(c *fiber.Ctx) error {
	enriched := s.state.ScanNow(c.Context(), s.sources)
	return c.JSON(fiber.Map{"enriched": enriched})
}

func (s *Server) triggerProbe(c *fiber.Ctx) error {
	result, err := s.state.ProbeNow(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, registry.ErrModelNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(result)
}
