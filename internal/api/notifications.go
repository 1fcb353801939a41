package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/schoolhub/schoolhub/internal/core"
	"github.com/schoolhub/schoolhub/internal/notifications"
	"github.com/schoolhub/schoolhub/internal/realtime"
)

// NotificationsAPI handles notification endpoints
type NotificationsAPI struct {
	service *notifications.Service
	hub     *Hub
}

// NewNotificationsAPI creates a new notifications API
func NewNotificationsAPI(service *notifications.Service, hub *Hub) *NotificationsAPI {
	return &NotificationsAPI{service: service, hub: hub}
}

// RegisterRoutes registers the user-scoped routes. Callers wrap r with
// authentication.
func (api *NotificationsAPI) RegisterRoutes(r chi.Router) {
	r.Get("/notifications", api.handleGetNotifications)
	r.Get("/notifications/stats", api.handleGetNotificationStats)
	r.Post("/notifications/read-all", api.handleMarkAllNotificationsRead)
	r.Get("/notifications/{id}", api.handleGetNotification)
	r.Post("/notifications/{id}/read", api.handleMarkNotificationRead)
	r.Post("/notifications/{id}/click", api.handleMarkNotificationClicked)
}

// RegisterAdminRoutes registers the routes that create and push content.
func (api *NotificationsAPI) RegisterAdminRoutes(r chi.Router) {
	r.Post("/notifications", api.handleCreateNotification)
	r.Post("/alerts", api.handleCreateAlert)
	r.Post("/data-changes", api.handlePublishDataChange)
}

func userID(r *http.Request) string {
	if c, ok := ClaimsFromContext(r.Context()); ok {
		return c.UserID()
	}
	return ""
}

// handleGetNotifications returns the caller's notifications as REST records
func (api *NotificationsAPI) handleGetNotifications(w http.ResponseWriter, r *http.Request) {
	filter := notifications.Filter{UserID: userID(r)}

	q := r.URL.Query()
	if v := q.Get("unread_only"); v != "" {
		filter.UnreadOnly, _ = strconv.ParseBool(v)
	}
	if p := q.Get("priority"); p != "" {
		filter.Priority = notifications.ParsePriority(p)
	}
	filter.Category = q.Get("category")
	if l := q.Get("limit"); l != "" {
		filter.Limit, _ = strconv.Atoi(l)
	}
	if o := q.Get("offset"); o != "" {
		filter.Offset, _ = strconv.Atoi(o)
	}

	list, err := api.service.List(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	records := make([]notifications.Record, 0, len(list))
	for _, n := range list {
		records = append(records, notifications.ToRecord(n))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": records,
		"count":         len(records),
	})
}

// handleGetNotification returns a single notification
func (api *NotificationsAPI) handleGetNotification(w http.ResponseWriter, r *http.Request) {
	n, err := api.service.Get(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, notifications.ToRecord(*n))
}

// handleMarkNotificationRead marks a notification as read
func (api *NotificationsAPI) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	user := userID(r)
	if err := api.service.MarkRead(r.Context(), user, id); err != nil {
		respondServiceError(w, err)
		return
	}
	if api.hub != nil {
		api.hub.EchoRead(user, nil, id)
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleMarkAllNotificationsRead marks all notifications as read
func (api *NotificationsAPI) handleMarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	count, err := api.service.MarkAllRead(r.Context(), user)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if api.hub != nil {
		api.hub.EchoReadAll(user, nil)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "updated": count})
}

func (api *NotificationsAPI) handleMarkNotificationClicked(w http.ResponseWriter, r *http.Request) {
	if err := api.service.MarkClicked(r.Context(), userID(r), chi.URLParam(r, "id")); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleGetNotificationStats returns notification statistics
func (api *NotificationsAPI) handleGetNotificationStats(w http.ResponseWriter, r *http.Request) {
	stats, err := api.service.Stats(r.Context(), userID(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// CreateNotificationBody is the admin create payload.
type CreateNotificationBody struct {
	notifications.CreateRequest
	ExpiresInSeconds int `json:"expires_in_seconds,omitempty"`
}

// handleCreateNotification creates and pushes a notification
func (api *NotificationsAPI) handleCreateNotification(w http.ResponseWriter, r *http.Request) {
	var body CreateNotificationBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req := body.CreateRequest
	if body.ExpiresInSeconds > 0 {
		req.ExpiresIn = time.Duration(body.ExpiresInSeconds) * time.Second
	}

	n, err := api.service.Create(r.Context(), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, n)
}

// CreateAlertBody is the system alert payload.
type CreateAlertBody struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	Message       string `json:"message"`
	AutoDismissMS int64  `json:"auto_dismiss_ms,omitempty"`
}

// handleCreateAlert broadcasts a system alert to every connection
func (api *NotificationsAPI) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var body CreateAlertBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Title == "" {
		respondError(w, http.StatusBadRequest, "title required")
		return
	}

	alert := notifications.SystemAlert{
		ID:           uuid.NewString(),
		Type:         notifications.ParseAlertType(body.Type),
		Title:        body.Title,
		Message:      body.Message,
		Timestamp:    time.Now().UTC(),
		AutoDismiss:  body.AutoDismissMS > 0,
		DismissAfter: time.Duration(body.AutoDismissMS) * time.Millisecond,
	}
	delivered := 0
	if api.hub != nil {
		delivered = api.hub.BroadcastAlert(alert)
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"alert": alert, "delivered": delivered})
}

// DataChangeBody announces a server-side data mutation.
type DataChangeBody struct {
	Kind string `json:"kind"`
	realtime.DataChangePayload
}

func (api *NotificationsAPI) handlePublishDataChange(w http.ResponseWriter, r *http.Request) {
	var body DataChangeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Table == "" {
		respondError(w, http.StatusBadRequest, "kind and table required")
		return
	}
	if api.hub == nil {
		respondJSON(w, http.StatusAccepted, map[string]int{"delivered": 0})
		return
	}
	delivered, err := api.hub.PublishDataChange(realtime.MessageType(body.Kind), body.DataChangePayload)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]int{"delivered": delivered})
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrRecordNotFound):
		respondError(w, http.StatusNotFound, "notification not found")
	case errors.Is(err, core.ErrMissingRequired), errors.Is(err, core.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
