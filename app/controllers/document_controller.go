package controllers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	"github.com/docsignal/DocSignal/app/models"
	"github.com/docsignal/DocSignal/internal/pkg/database"
	"github.com/docsignal/DocSignal/internal/pkg/docstate"
	"github.com/docsignal/DocSignal/internal/pkg/middleware"
	"github.com/docsignal/DocSignal/internal/pkg/statushub"
)

var (
	statusHub    *statushub.Hub
	stateMachine *docstate.Machine
)

// SetupDocumentControllers wires the hub and state machine used by the
// document status endpoints. Called once during application startup.
func SetupDocumentControllers(hub *statushub.Hub, machine *docstate.Machine) {
	statusHub = hub
	stateMachine = machine
}

// HandleGetDocument is the status point query:
// GET /documents/:uuid -> {"id":..., "status":..., "chunk_count":..., "filename":...}
func HandleGetDocument(c *fiber.Ctx) error {
	uuid := c.Params("uuid")
	if uuid == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "document id missing"})
	}

	doc, err := findOwnedDocument(c, uuid)
	if err != nil {
		return respondDocumentError(c, err)
	}

	status := doc.Status
	if doc.Deleted {
		status = docstate.STATUS_DELETED
	} else if cached, cerr := stateMachine.CurrentStatus(c.Context(), uuid); cerr == nil {
		status = cached
	}

	return c.JSON(fiber.Map{
		"id":          doc.UUID,
		"status":      status,
		"chunk_count": doc.ChunkCount,
		"filename":    doc.FileName,
	})
}

// HandleDocumentUpdates is the server-push status stream:
// GET /documents/:uuid/updates, SSE frames of statushub.Frame JSON.
func HandleDocumentUpdates(c *fiber.Ctx) error {
	uuid := c.Params("uuid")
	if uuid == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "document id missing"})
	}

	if _, err := findOwnedDocument(c, uuid); err != nil {
		return respondDocumentError(c, err)
	}

	sub, err := statusHub.Subscribe(context.Background(), uuid)
	if err != nil {
		log.Errorf("[Documents] Subscribe failed for %s: %v", uuid, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "subscribe_failed"})
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set("Connection", "keep-alive")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer sub.Close()

		if err := writeFrame(w, statushub.Frame{Event: statushub.EventConnected}); err != nil {
			return
		}

		for frame := range sub.C {
			if err := writeFrame(w, frame); err != nil {
				// Client went away; the hub drops us on its next write.
				return
			}
		}
	}))
	return nil
}

func writeFrame(w *bufio.Writer, frame statushub.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return w.Flush()
}

// errDocumentNotFound also covers documents owned by someone else, so the
// endpoint does not leak which document ids exist.
var (
	errDocumentNotFound = errors.New("document not found")
	errDocumentLookup   = errors.New("document lookup failed")
)

func findOwnedDocument(c *fiber.Ctx, uuid string) (*models.Document, error) {
	doc, err := models.FindDocumentByUUID(database.GetDB(), uuid)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errDocumentNotFound
		}
		log.Errorf("[Documents] Lookup failed for %s: %v", uuid, err)
		return nil, errDocumentLookup
	}

	user := middleware.AuthenticatedUser(c)
	if user == nil || doc.UserID != user.ID {
		return nil, errDocumentNotFound
	}
	return doc, nil
}

func respondDocumentError(c *fiber.Ctx, err error) error {
	if errors.Is(err, errDocumentNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Document not found"})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
}

// HandleHealthz reports readiness of the database and cache connections.
func HandleHealthz(c *fiber.Ctx) error {
	db := database.GetDB()
	if db == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable", "reason": "database"})
	}
	sqlDB, err := db.DB()
	if err != nil || sqlDB.Ping() != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable", "reason": "database"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pingCache(ctx); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable", "reason": "cache"})
	}

	return c.JSON(fiber.Map{"status": "ok"})
}
