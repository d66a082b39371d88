package handlers

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"deskwire/internal/auth"
	"deskwire/internal/subscription"
)

// PushHandler serves push subscription management.
type PushHandler struct {
	registry  *subscription.Registry
	publicKey string
	validate  *validator.Validate
}

func NewPushHandler(registry *subscription.Registry, publicKey string) *PushHandler {
	return &PushHandler{
		registry:  registry,
		publicKey: publicKey,
		validate:  validator.New(),
	}
}

type subscribeRequest struct {
	Endpoint string            `json:"endpoint" validate:"required,url"`
	Keys     subscription.Keys `json:"keys" validate:"required"`
}

// Subscribe registers or refreshes the caller's push endpoint.
// 201 on a fresh endpoint, 200 when an existing one was updated.
func (h *PushHandler) Subscribe(c echo.Context) error {
	userID := auth.UserID(c)

	var req subscribeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "endpoint and keys (p256dh, auth) are required"})
	}

	created, err := h.registry.Subscribe(c.Request().Context(), userID, req.Endpoint, req.Keys, c.Request().UserAgent())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to store subscription"})
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, map[string]string{"message": "Subscription stored"})
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint" validate:"required"`
}

// Unsubscribe removes the caller's endpoint. Idempotent: unknown or
// foreign endpoints return 200 without effect.
func (h *PushHandler) Unsubscribe(c echo.Context) error {
	userID := auth.UserID(c)

	var req unsubscribeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "endpoint is required"})
	}

	if err := h.registry.Unsubscribe(c.Request().Context(), userID, req.Endpoint); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to remove subscription"})
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Subscription removed"})
}

// PublicKey hands browsers the VAPID public key.
func (h *PushHandler) PublicKey(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"publicKey": h.publicKey})
}
