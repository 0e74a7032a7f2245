package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"scrollfeed/db"
	"scrollfeed/feed"
	"scrollfeed/media"
	"scrollfeed/models"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

type ServerConfig struct {
	// Origins allowed to call the API from a browser
	AllowOrigins string

	// Open profile views
	Views *Views

	// Read and saved state used to decorate items
	Marks db.Marks

	// View settings used when a client sends none
	DefaultMode feed.FilterMode
	DefaultSide feed.SideConfig

	// Interval between SSE keep-alive pings
	PingInterval time.Duration
}

type handlers struct {
	views        *Views
	marks        db.Marks
	defaultMode  feed.FilterMode
	defaultSide  feed.SideConfig
	pingInterval time.Duration
}

func errorResponse(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(models.ErrorResponse{Error: message})
}

// Returns a fiber.App serving profile views over HTTP
func Server(config *ServerConfig) *fiber.App {
	h := &handlers{
		views:        config.Views,
		marks:        config.Marks,
		defaultMode:  config.DefaultMode,
		defaultSide:  config.DefaultSide,
		pingInterval: config.PingInterval,
	}
	if h.pingInterval <= 0 {
		h.pingInterval = 5 * time.Second
	}

	app := fiber.New()

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		log.WithFields(log.Fields{
			"method":  c.Method(),
			"route":   c.Route().Path,
			"status":  c.Response().StatusCode(),
			"latency": time.Since(start),
		}).Info("Request")
		return err
	})

	app.Use(requestid.New(requestid.ConfigDefault))
	app.Use(compress.New(compress.Config{
		Next: func(c *fiber.Ctx) bool {
			// Compressing would buffer the event stream
			return c.Get(fiber.HeaderAccept) == "text/event-stream"
		},
	}))

	allowOrigins := config.AllowOrigins
	if allowOrigins == "" {
		allowOrigins = "http://localhost:3001"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowHeaders:     "Cache-Control, Content-Type",
		AllowCredentials: allowOrigins != "*",
	}))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Post("/profiles/:subject/views", h.createView)

	views := app.Group("/views/:id", h.lookupView)
	views.Get("/", h.getView)
	views.Post("/visible", h.itemVisible)
	views.Put("/filter", h.changeFilter)
	views.Post("/reload", h.reload)
	views.Delete("/", h.closeView)
	views.Get("/sse", h.stream)
	views.Delete("/sse", h.disconnect)

	app.Put("/marks/read", h.markRead)
	app.Delete("/marks/read", h.unmarkRead)
	app.Put("/marks/saved", h.save)
	app.Delete("/marks/saved", h.unsave)

	return app
}

func (h *handlers) lookupView(c *fiber.Ctx) error {
	view, ok := h.views.Get(c.Params("id"))
	if !ok {
		return errorResponse(c, fiber.StatusNotFound, "Unknown view")
	}
	c.Locals("view", view)
	return c.Next()
}

func viewFrom(c *fiber.Ctx) *View {
	return c.Locals("view").(*View)
}

// render decorates a snapshot with read and saved marks
func (h *handlers) render(ctx context.Context, viewID string, state feed.State) (models.StateView, error) {
	postIDs, keys := models.MarkKeys(state.Items)
	read, err := h.marks.ReadSet(ctx, postIDs)
	if err != nil {
		return models.StateView{}, fmt.Errorf("failed to load read marks: %w", err)
	}
	saved, err := h.marks.SavedSet(ctx, keys)
	if err != nil {
		return models.StateView{}, fmt.Errorf("failed to load saved marks: %w", err)
	}
	return models.NewStateView(viewID, state, read, saved), nil
}

func (h *handlers) respondState(c *fiber.Ctx, status int, view *View) error {
	state, err := h.render(c.UserContext(), view.ID, view.Controller.State())
	if err != nil {
		log.WithFields(log.Fields{
			"view":  view.ID,
			"error": err,
		}).Error("Error rendering view")
		return errorResponse(c, fiber.StatusInternalServerError, "Error rendering view")
	}
	return c.Status(status).JSON(state)
}

func (h *handlers) createView(c *fiber.Ctx) error {
	var req models.CreateViewRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return errorResponse(c, fiber.StatusBadRequest, "Invalid request body")
		}
	}

	mode := h.defaultMode
	if req.Filter != "" {
		parsed, err := feed.ParseFilterMode(req.Filter)
		if err != nil {
			return errorResponse(c, fiber.StatusBadRequest, err.Error())
		}
		mode = parsed
	}

	side := h.defaultSide
	if req.IncludeAdult != nil {
		side.IncludeAdult = *req.IncludeAdult
	}
	if req.RemoveTracking != nil {
		side.RemoveTrackingParams = *req.RemoveTracking
	}

	view := h.views.Open(c.Params("subject"), mode, side)
	state, err := h.render(c.UserContext(), view.ID, view.Controller.State())
	if err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "Error rendering view")
	}
	return c.Status(fiber.StatusCreated).JSON(models.CreateViewResponse{ID: view.ID, State: state})
}

func (h *handlers) getView(c *fiber.Ctx) error {
	return h.respondState(c, fiber.StatusOK, viewFrom(c))
}

func (h *handlers) itemVisible(c *fiber.Ctx) error {
	var req models.VisibleRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body")
	}
	item, err := req.Item()
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error())
	}

	triggered := viewFrom(c).Controller.OnItemBecameVisible(item)
	return c.JSON(models.VisibleResponse{Triggered: triggered})
}

func (h *handlers) changeFilter(c *fiber.Ctx) error {
	var req models.FilterRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body")
	}
	mode, err := feed.ParseFilterMode(req.Filter)
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error())
	}

	view := viewFrom(c)
	view.Controller.OnFilterModeChanged(mode)
	return h.respondState(c, fiber.StatusOK, view)
}

func (h *handlers) reload(c *fiber.Ctx) error {
	view := viewFrom(c)
	view.Controller.Reload()
	return h.respondState(c, fiber.StatusOK, view)
}

func (h *handlers) closeView(c *fiber.Ctx) error {
	h.views.Close(viewFrom(c).ID)
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handlers) disconnect(c *fiber.Ctx) error {
	viewFrom(c).Broadcaster.RemoveClient(c.Query("key", ""))
	return c.SendStatus(fiber.StatusOK)
}

func writeEvent(w *bufio.Writer, name string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("error marshalling %s event: %w", name, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return err
	}
	return w.Flush()
}

func (h *handlers) stream(c *fiber.Ctx) error {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Transfer-Encoding", "chunked")

	view := viewFrom(c)
	key := uuid.New().String()
	events := make(chan Event, 16)
	view.Broadcaster.AddClient(key, events)

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer view.Broadcaster.RemoveClient(key)

		alive := time.NewTicker(h.pingInterval)
		defer alive.Stop()

		if _, err := fmt.Fprintf(w, "event: init\ndata: %s\n\n", key); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			log.Errorf("Failed to send init event: %v", err)
			return
		}

		sendState := func(state feed.State) bool {
			rendered, err := h.render(context.Background(), view.ID, state)
			if err != nil {
				log.Errorf("Error rendering state for client %s: %v", key, err)
				return true
			}
			if err := writeEvent(w, EventState, rendered); err != nil {
				log.Warnf("Failed to send state event to client %s: %v", key, err)
				return false
			}
			return true
		}

		if !sendState(view.Controller.State()) {
			return
		}

		for {
			select {
			case <-alive.C:
				if _, err := fmt.Fprintf(w, "event: ping\ndata: \n\n"); err != nil {
					log.Warnf("Failed to send ping to client %s: %v", key, err)
					return
				}
				if err := w.Flush(); err != nil {
					log.Warnf("Failed to flush ping for client %s: %v", key, err)
					return
				}

			case event, ok := <-events:
				if !ok {
					log.Infof("Event channel closed for client %s", key)
					return
				}
				switch event.Name {
				case EventState:
					if !sendState(event.State) {
						return
					}
				case EventFetchFailed:
					if err := writeEvent(w, EventFetchFailed, models.NewFetchFailedEvent(view.ID, event.Failure)); err != nil {
						log.Warnf("Failed to send fetch-failed event to client %s: %v", key, err)
						return
					}
				}
			}
		}
	}))

	return nil
}

func markQuery(c *fiber.Ctx) (string, error) {
	id := c.Query("id", "")
	if id == "" {
		return "", fmt.Errorf("missing id")
	}
	return id, nil
}

func savedQuery(c *fiber.Ctx) (string, media.Variant, error) {
	id, err := markQuery(c)
	if err != nil {
		return "", 0, err
	}
	variant, err := media.ParseVariant(c.Query("variant", ""))
	if err != nil {
		return "", 0, err
	}
	if variant == media.VariantOther {
		return "", 0, fmt.Errorf("%s items cannot be saved", variant)
	}
	return id, variant, nil
}

func (h *handlers) markRead(c *fiber.Ctx) error {
	id, err := markQuery(c)
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error())
	}
	if err := h.marks.MarkRead(c.UserContext(), id); err != nil {
		log.WithFields(log.Fields{"id": id, "error": err}).Error("Error marking post read")
		return errorResponse(c, fiber.StatusInternalServerError, "Error marking post read")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handlers) unmarkRead(c *fiber.Ctx) error {
	id, err := markQuery(c)
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error())
	}
	if err := h.marks.UnmarkRead(c.UserContext(), id); err != nil {
		log.WithFields(log.Fields{"id": id, "error": err}).Error("Error unmarking post read")
		return errorResponse(c, fiber.StatusInternalServerError, "Error unmarking post read")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handlers) save(c *fiber.Ctx) error {
	id, variant, err := savedQuery(c)
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error())
	}
	if err := h.marks.Save(c.UserContext(), id, variant); err != nil {
		log.WithFields(log.Fields{"id": id, "error": err}).Error("Error saving item")
		return errorResponse(c, fiber.StatusInternalServerError, "Error saving item")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handlers) unsave(c *fiber.Ctx) error {
	id, variant, err := savedQuery(c)
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error())
	}
	if err := h.marks.Unsave(c.UserContext(), id, variant); err != nil {
		log.WithFields(log.Fields{"id": id, "error": err}).Error("Error unsaving item")
		return errorResponse(c, fiber.StatusInternalServerError, "Error unsaving item")
	}
	return c.SendStatus(fiber.StatusNoContent)
}
