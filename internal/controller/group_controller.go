// internal/controller/group_controller.go
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

// GroupManager is implemented by *service.GroupService.
type GroupManager interface {
	JoinGroup(ctx context.Context, userID, platformID int, invite string) (*service.JoinResult, error)
	LeaveGroup(ctx context.Context, userID, platformID int, jid string) (*model.LeftGroup, error)
	ListGroups(ctx context.Context, userID int) (*service.GroupList, error)
}

type GroupController struct {
	Groups GroupManager
	Log    *zap.Logger
}

func NewGroupController(g GroupManager, log *zap.Logger) *GroupController {
	return &GroupController{Groups: g, Log: logger.OrNop(log)}
}

func (c *GroupController) Routes(r chi.Router) {
	r.Get("/groups", c.List)
	r.Post("/groups/join", c.Join)
	r.Post("/groups/{jid}/leave", c.Leave)
}

func (c *GroupController) Join(w http.ResponseWriter, r *http.Request) {
	uid, err := UserID(r)
	if err != nil {
		WriteError(w, r, c.Log, err)
		return
	}

	var body struct {
		Invite     string `json:"invite"`
		PlatformID int    `json:"platform_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		WriteError(w, r, c.Log, err)
		return
	}
	if body.PlatformID == 0 {
		body.PlatformID = defaultPlatformID
	}

	res, err := c.Groups.JoinGroup(r.Context(), uid, body.PlatformID, body.Invite)
	if err != nil {
		WriteError(w, r, c.Log, err)
		return
	}
	status := http.StatusOK
	if res.Consumed {
		status = http.StatusCreated
	}
	writeJSON(w, r, status, res)
}

func (c *GroupController) Leave(w http.ResponseWriter, r *http.Request) {
	uid, err := UserID(r)
	if err != nil {
		WriteError(w, r, c.Log, err)
		return
	}

	platformID := defaultPlatformID
	if raw := r.URL.Query().Get("platform_id"); raw != "" {
		if platformID, err = intParam(raw, "platform_id"); err != nil {
			WriteError(w, r, c.Log, err)
			return
		}
	}

	rec, err := c.Groups.LeaveGroup(r.Context(), uid, platformID, chi.URLParam(r, "jid"))
	if err != nil {
		WriteError(w, r, c.Log, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

func (c *GroupController) List(w http.ResponseWriter, r *http.Request) {
	uid, err := UserID(r)
	if err != nil {
		WriteError(w, r, c.Log, err)
		return
	}
	list, err := c.Groups.ListGroups(r.Context(), uid)
	if err != nil {
		WriteError(w, r, c.Log, err)
		return
	}
	writeJSON(w, r, http.StatusOK, list)
}
