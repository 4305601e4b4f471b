package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/docsignal/DocSignal/app/controllers"
	"github.com/docsignal/DocSignal/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	app.Get("/healthz", controllers.HandleHealthz)

	documents := app.Group("/documents", middleware.APIKeyAuthMiddleware())
	documents.Get("/:uuid", controllers.HandleGetDocument)
	documents.Get("/:uuid/updates", controllers.HandleDocumentUpdates)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
