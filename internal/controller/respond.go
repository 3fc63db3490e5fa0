package controller

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/render"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/smsleopard-dispatch/internal/errors"
)

// UserIDHeader carries the authenticated operator's user id, set upstream.
const UserIDHeader = "X-User-ID"

const defaultPlatformID = 1

type errorBody struct {
	Code          appErrors.Code `json:"code"`
	Message       string         `json:"message"`
	GatewayStatus int            `json:"gateway_status,omitempty"`
	GatewayBody   string         `json:"gateway_body,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

// WriteError renders err as {"error":{...}} with a status derived from its code.
func WriteError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	body := errorBody{Code: appErrors.CodeOf(err), Message: err.Error()}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		body.Message = appErr.Message
		body.GatewayStatus = appErr.Status
		body.GatewayBody = appErr.Body
	}

	status := StatusFor(err)
	if status >= http.StatusInternalServerError && log != nil {
		log.Error("request failed", zap.String("code", string(body.Code)), zap.Error(err))
	}
	if body.Code == appErrors.CodeInternal {
		body.Message = "internal error"
	}
	writeJSON(w, r, status, map[string]errorBody{"error": body})
}

// StatusFor maps an error code to the HTTP status returned to operators.
func StatusFor(err error) int {
	switch appErrors.CodeOf(err) {
	case appErrors.CodeInvalidRequest:
		return http.StatusBadRequest
	case appErrors.CodeQuotaExhausted:
		return http.StatusConflict
	case appErrors.CodeNoActiveAccount:
		return http.StatusPreconditionFailed
	case appErrors.CodeOrchestrationFault:
		// A fault without an underlying cause means the message or its
		// history does not exist for this user.
		var appErr *appErrors.Error
		if errors.As(err, &appErr) && appErr.Err == nil {
			return http.StatusNotFound
		}
		return http.StatusInternalServerError
	case appErrors.CodeGatewayBusiness, appErrors.CodeRateLimited:
		return http.StatusBadGateway
	case appErrors.CodeGatewayTransport:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// UserID reads the operator id from UserIDHeader.
func UserID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(r.Header.Get(UserIDHeader)))
	if err != nil || id <= 0 {
		return 0, appErrors.NewInvalidRequest("missing or invalid " + UserIDHeader + " header")
	}
	return id, nil
}

func intParam(raw, name string) (int, error) {
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, appErrors.NewInvalidRequest("invalid " + name)
	}
	return id, nil
}

// decodeBody allows an empty body.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := render.DecodeJSON(r.Body, v); err != nil && !errors.Is(err, io.EOF) {
		return appErrors.NewInvalidRequest("invalid body: " + err.Error())
	}
	return nil
}
