package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"deskwire/internal/auth"
	"deskwire/internal/delivery"
	"deskwire/internal/notification"
)

// maxBatchDelete caps a single batch delete request.
const maxBatchDelete = 100

// NotificationHandler serves the notification API surface.
type NotificationHandler struct {
	ledger      *notification.Ledger
	coordinator *delivery.Coordinator
}

func NewNotificationHandler(ledger *notification.Ledger, coordinator *delivery.Coordinator) *NotificationHandler {
	return &NotificationHandler{ledger: ledger, coordinator: coordinator}
}

type listResponse struct {
	Items       []notification.Notification `json:"items"`
	Total       int64                       `json:"total"`
	UnreadCount int                         `json:"unreadCount"`
	Page        int                         `json:"page"`
	Limit       int                         `json:"limit"`
	HasMore     bool                        `json:"hasMore"`
}

// List returns one page of the caller's notifications.
func (h *NotificationHandler) List(c echo.Context) error {
	userID := auth.UserID(c)
	ctx := c.Request().Context()

	filter, err := parseListFilter(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	items, total, err := h.ledger.List(ctx, userID, filter)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to list notifications"})
	}
	unread, err := h.ledger.CountUnread(ctx, userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to count notifications"})
	}

	if items == nil {
		items = []notification.Notification{}
	}
	return c.JSON(http.StatusOK, listResponse{
		Items:       items,
		Total:       total,
		UnreadCount: unread,
		Page:        filter.Page,
		Limit:       filter.Limit,
		HasMore:     int64(filter.Page*filter.Limit) < total,
	})
}

func parseListFilter(c echo.Context) (notification.ListFilter, error) {
	f := notification.ListFilter{Page: 1, Limit: 20}

	if v := c.QueryParam("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			return f, errors.New("invalid page")
		}
		f.Page = page
	}
	if v := c.QueryParam("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > 100 {
			return f, errors.New("invalid limit")
		}
		f.Limit = limit
	}
	if v := c.QueryParam("type"); v != "" {
		t := notification.Type(v)
		if !t.Valid() {
			return f, errors.New("invalid type")
		}
		f.Type = t
	}
	if v := c.QueryParam("read"); v != "" {
		read, err := strconv.ParseBool(v)
		if err != nil {
			return f, errors.New("invalid read flag")
		}
		f.Read = &read
	}
	if v := c.QueryParam("startDate"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("invalid startDate")
		}
		f.StartDate = &t
	}
	if v := c.QueryParam("endDate"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("invalid endDate")
		}
		f.EndDate = &t
	}
	f.Search = c.QueryParam("search")

	return f, nil
}

// UnreadCount returns the caller's unread total.
func (h *NotificationHandler) UnreadCount(c echo.Context) error {
	count, err := h.ledger.CountUnread(c.Request().Context(), auth.UserID(c))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to count notifications"})
	}
	return c.JSON(http.StatusOK, map[string]int{"count": count})
}

// MarkRead marks one notification read. Idempotent: marking an already
// read notification reports updated=false with status 200.
func (h *NotificationHandler) MarkRead(c echo.Context) error {
	userID := auth.UserID(c)
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid notification id"})
	}

	ctx := c.Request().Context()
	changed, err := h.ledger.MarkRead(ctx, id, userID)
	if errors.Is(err, notification.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Notification not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to mark notification read"})
	}

	if changed {
		h.coordinator.NotifyRead(ctx, userID, id)
	}
	return c.JSON(http.StatusOK, map[string]bool{"updated": changed})
}

// MarkAllRead marks every unread notification of the caller as read.
func (h *NotificationHandler) MarkAllRead(c echo.Context) error {
	userID := auth.UserID(c)
	ctx := c.Request().Context()

	updated, err := h.ledger.MarkAllRead(ctx, userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to mark notifications read"})
	}
	if updated > 0 {
		h.coordinator.NotifyRead(ctx, userID)
	}
	return c.JSON(http.StatusOK, map[string]int64{"updated": updated})
}

// Delete permanently removes one owned notification.
func (h *NotificationHandler) Delete(c echo.Context) error {
	userID := auth.UserID(c)
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid notification id"})
	}

	ctx := c.Request().Context()
	err = h.ledger.Delete(ctx, id, userID)
	if errors.Is(err, notification.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Notification not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to delete notification"})
	}

	h.coordinator.NotifyDeleted(ctx, userID, id)
	return c.JSON(http.StatusOK, map[string]int64{"deleted": 1})
}

type batchDeleteRequest struct {
	IDs []int64 `json:"ids"`
}

// DeleteBatch removes up to 100 owned notifications, reporting partial
// success as a count.
func (h *NotificationHandler) DeleteBatch(c echo.Context) error {
	userID := auth.UserID(c)

	var req batchDeleteRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if len(req.IDs) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "ids is required"})
	}
	if len(req.IDs) > maxBatchDelete {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "At most 100 ids per request"})
	}

	ctx := c.Request().Context()
	deleted, err := h.ledger.DeleteBatch(ctx, userID, req.IDs)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to delete notifications"})
	}
	if deleted > 0 {
		h.coordinator.NotifyDeleted(ctx, userID, req.IDs...)
	}
	return c.JSON(http.StatusOK, map[string]int64{"deleted": deleted})
}

// Record is the internal trigger endpoint: workflow components post a
// fully-formed event here. The ledger write completes before any
// delivery attempt starts; delivery failures never surface to the
// caller.
func (h *NotificationHandler) Record(c echo.Context) error {
	var in notification.CreateInput
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	ctx := c.Request().Context()
	n, err := h.ledger.Record(ctx, in)
	if err != nil {
		if notification.IsValidation(err) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to record notification"})
	}

	h.coordinator.Dispatch(ctx, n)
	return c.JSON(http.StatusCreated, n)
}
