package http

import (
	"context"
	"errors"
	"log"
	"net/http"

	"nero/internal/domain/notification"
	"nero/internal/shared/middleware"
)

// DeviceRegistry stores the push tokens of a user's devices
type DeviceRegistry interface {
	RegisterDevice(ctx context.Context, params notification.CreateDeviceTokenParams) (*notification.DeviceToken, error)
	DeactivateToken(ctx context.Context, token string) error
}

type NotificationHandler struct {
	devices DeviceRegistry
}

func NewNotificationHandler(devices DeviceRegistry) *NotificationHandler {
	return &NotificationHandler{devices: devices}
}

type RegisterDeviceRequest struct {
	Token      string `json:"token"`
	DeviceType string `json:"device_type"`
}

type UnregisterDeviceRequest struct {
	Token string `json:"token"`
}

// HandleRegisterDevice handles POST /api/notifications/devices
func (h *NotificationHandler) HandleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not authenticated", "")
		return
	}

	var req RegisterDeviceRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation error", "invalid request body")
		return
	}

	token, err := h.devices.RegisterDevice(r.Context(), notification.CreateDeviceTokenParams{
		UserID:     userID,
		Token:      req.Token,
		DeviceType: req.DeviceType,
	})
	if err != nil {
		if errors.Is(err, notification.ErrInvalidToken) || errors.Is(err, notification.ErrInvalidDeviceType) {
			writeError(w, http.StatusBadRequest, "Validation error", err.Error())
			return
		}
		log.Printf("Error registering device for user %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "Failed to register device", "")
		return
	}

	writeData(w, http.StatusCreated, token)
}

// HandleUnregisterDevice handles DELETE /api/notifications/devices, called on logout
func (h *NotificationHandler) HandleUnregisterDevice(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.UserIDFromContext(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "User not authenticated", "")
		return
	}

	var req UnregisterDeviceRequest
	if err := decodeBody(w, r, &req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "Validation error", "token is required")
		return
	}

	if err := h.devices.DeactivateToken(r.Context(), req.Token); err != nil {
		if errors.Is(err, notification.ErrDeviceTokenNotFound) {
			writeError(w, http.StatusNotFound, "Device not found", "")
			return
		}
		log.Printf("Error deactivating device token: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to unregister device", "")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
