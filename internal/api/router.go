package api

import "github.com/gofiber/fiber/v2"

// RegisterRoutes mounts the editor API. protect runs in front of every route
// except file serving.
func RegisterRoutes(app *fiber.App, h *Handler, protect ...fiber.Handler) {
	app.Get("/api/files/*", h.ServeFile)

	api := app.Group("/api", protect...)

	api.Get("/editors", h.ListEditors)
	api.Get("/editors/:kind/records", h.ListRecords)
	api.Post("/editors/:kind/sessions", h.OpenSession)

	api.Get("/sessions/:sid", h.GetSession)
	api.Delete("/sessions/:sid", h.DiscardSession)
	api.Put("/sessions/:sid/status", h.SetStatus)
	api.Post("/sessions/:sid/validate", h.Validate)
	api.Post("/sessions/:sid/save", h.Save)

	sec := api.Group("/sessions/:sid/sections/:section")
	sec.Put("/", h.SetValues)
	sec.Post("/items", h.AddItem)
	sec.Patch("/items/:item", h.UpdateItem)
	sec.Delete("/items/:item", h.RemoveItem)
	sec.Post("/reorder", h.ReorderItems)
	sec.Post("/images", h.UploadImage)
	sec.Post("/images/queue", h.EnqueueImages)
	sec.Post("/images/queue/crop", h.CropNext)
	sec.Delete("/images/queue/head", h.SkipNext)
	sec.Post("/images/raw", h.UploadRaw)

	api.Post("/uploads", h.Upload)
}
