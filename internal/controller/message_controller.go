// internal/controller/message_controller.go
package controller

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/unclebandit/smsleopard-dispatch/internal/logger"
	"github.com/unclebandit/smsleopard-dispatch/internal/model"
	"github.com/unclebandit/smsleopard-dispatch/internal/service"
)

// Dispatcher is implemented by *service.DispatchService.
type Dispatcher interface {
	Send(ctx context.Context, userID, messageID int, recipients []string) (*service.DispatchReport, error)
	Resend(ctx context.Context, userID, messageID int) (*service.DispatchReport, error)
	RecipientOutcomes(ctx context.Context, userID, messageID int) ([]model.RecipientOutcome, error)
}

type MessageController struct {
	Dispatch Dispatcher
	Log      *zap.Logger
}

func NewMessageController(d Dispatcher, log *zap.Logger) *MessageController {
	return &MessageController{Dispatch: d, Log: logger.OrNop(log)}
}

// Routes mounts the message endpoints under /messages.
func (c *MessageController) Routes(r chi.Router) {
	r.Post("/messages/{id}/send", c.Send)
	r.Post("/messages/{id}/resend", c.Resend)
	r.Get("/messages/{id}/recipients", c.Recipients)
}

func (c *MessageController) Send(w http.ResponseWriter, r *http.Request) {
	uid, id, err := c.ids(r)
	if err != nil {
		WriteError(w, r, c.Log, err)
		return
	}

	var body struct {
		Recipients []string `json:"recipients"`
	}
	if err := decodeBody(r, &body); err != nil {
		WriteError(w, r, c.Log, err)
		return
	}

	report, err := c.Dispatch.Send(r.Context(), uid, id, body.Recipients)
	c.writeReport(w, r, report, err)
}

func (c *MessageController) Resend(w http.ResponseWriter, r *http.Request) {
	uid, id, err := c.ids(r)
	if err != nil {
		WriteError(w, r, c.Log, err)
		return
	}
	report, err := c.Dispatch.Resend(r.Context(), uid, id)
	c.writeReport(w, r, report, err)
}

func (c *MessageController) Recipients(w http.ResponseWriter, r *http.Request) {
	uid, id, err := c.ids(r)
	if err != nil {
		WriteError(w, r, c.Log, err)
		return
	}
	outcomes, err := c.Dispatch.RecipientOutcomes(r.Context(), uid, id)
	if err != nil {
		WriteError(w, r, c.Log, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"message_id": id,
		"data":       outcomes,
	})
}

func (c *MessageController) ids(r *http.Request) (int, int, error) {
	uid, err := UserID(r)
	if err != nil {
		return 0, 0, err
	}
	id, err := intParam(chi.URLParam(r, "id"), "message id")
	if err != nil {
		return 0, 0, err
	}
	return uid, id, nil
}

// writeReport still returns the partial report when the caller went away mid-dispatch.
func (c *MessageController) writeReport(w http.ResponseWriter, r *http.Request, report *service.DispatchReport, err error) {
	if err != nil && report == nil {
		WriteError(w, r, c.Log, err)
		return
	}
	if err != nil {
		c.Log.Warn("dispatch interrupted", zap.Int("message_id", report.MessageID), zap.Error(err))
	}
	writeJSON(w, r, http.StatusOK, report)
}
