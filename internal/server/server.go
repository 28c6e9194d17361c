package server

import (
	"log"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"ragcore-service/internal/bootstrap"
	"ragcore-service/internal/config"
	"ragcore-service/internal/handler"
	"ragcore-service/internal/pkg/serverutils"
)

type Server struct {
	app       *fiber.App
	cfg       *config.Config
	container *bootstrap.Container
}

func New(cfg *config.Config, container *bootstrap.Container) *Server {
	app := fiber.New(fiber.Config{
		BodyLimit: 10 * 1024 * 1024, // 10MB, large enough for a document upload's raw text
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.App.CorsAllowedOrigins,
		AllowCredentials: true,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET, POST, PUT, PATCH, DELETE, OPTIONS",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization",
	}))

	// traces every HTTP request; exports to the global (no-op by default)
	// TracerProvider the way the teacher's otelfiber middleware does.
	app.Use(otelfiber.Middleware())

	registerRoutes(app, cfg, container)

	return &Server{app: app, cfg: cfg, container: container}
}

func (s *Server) GetApp() *fiber.App {
	return s.app
}

func (s *Server) Run() error {
	log.Printf("ragcore server listening on :%s", s.cfg.App.Port)
	return s.app.Listen(":" + s.cfg.App.Port)
}

func registerRoutes(app *fiber.App, cfg *config.Config, c *bootstrap.Container) {
	api := app.Group("/api")

	// the chat socket authenticates itself (it needs to accept the token
	// as a query param since browsers can't set Authorization on the
	// websocket handshake), so it isn't behind TenantMiddleware.
	chatHandler := handler.NewRagChatHandler(c.Orchestrator, c.Logger, cfg.Persona)
	chatHandler.RegisterRoutes(api)

	ingest := api.Group("", serverutils.TenantMiddleware)
	ingestHandler := handler.NewIngestionHandler(c.JobStore, c.JobQueue, c.VectorStore, c.LexicalStore, cfg.App.UploadDir, c.Logger)
	ingestHandler.RegisterRoutes(ingest)
}
