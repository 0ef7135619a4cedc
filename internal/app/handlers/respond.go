package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/linemk/resale-orders/internal/jwt-new/jwtmiddleware"
	"github.com/linemk/resale-orders/internal/service"
)

const maxBodySize = 1 << 20

var validate = validator.New()

// ErrorBody - тело ответа с ошибкой: {"error": {"kind": ..., "message": ...}}.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// statusFor сопоставляет тег ошибки и HTTP-статус.
func statusFor(kind string) int {
	switch kind {
	case service.KindInvalidRequest, service.KindSelfPurchase, service.KindMissingTrackingCode,
		service.KindInvalidTrackingCode, service.KindInvalidRating, service.KindNotEligible:
		return http.StatusBadRequest
	case service.KindAddressInvalid:
		return http.StatusUnprocessableEntity
	case service.KindForbidden:
		return http.StatusForbidden
	case service.KindOrderNotFound:
		return http.StatusNotFound
	case service.KindInvalidTransition, service.KindDuplicateReview, service.KindProductUnavailable:
		return http.StatusConflict
	case service.KindPaymentNotVerified:
		return http.StatusPaymentRequired
	case service.KindGatewayUnavailable, service.KindTryAgain:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", slog.Any("error", err))
	}
}

// writeError пишет ошибку сервиса. Внутренние ошибки логируются целиком, клиент видит только тег.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	kind, message := service.Describe(err)
	status := statusFor(kind)
	retryable := kind == service.KindGatewayUnavailable || kind == service.KindTryAgain
	if status >= http.StatusInternalServerError && !retryable {
		logger.Error("request failed", slog.String("kind", kind), slog.Any("error", err))
	} else {
		logger.Warn("request rejected", slog.String("kind", kind), slog.Any("error", err))
	}
	if retryable {
		w.Header().Set("Retry-After", "30")
	}
	writeJSON(w, logger, status, ErrorBody{Error: ErrorDetail{Kind: kind, Message: message}})
}

func badRequest(w http.ResponseWriter, logger *slog.Logger, message string) {
	logger.Warn("invalid request", slog.String("reason", message))
	writeJSON(w, logger, http.StatusBadRequest, ErrorBody{Error: ErrorDetail{Kind: service.KindInvalidRequest, Message: message}})
}

// decodeRequest читает JSON и проверяет теги validate. Пустое тело допустимо, если allowEmpty.
func decodeRequest(r *http.Request, dst any, allowEmpty bool) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(dst)
	if err != nil && !(allowEmpty && errors.Is(err, io.EOF)) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	return nil
}

// actor извлекает пользователя, установленного JWT middleware.
func actor(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (uuid.UUID, bool) {
	userID, ok := jwtmiddleware.FromContext(r.Context())
	if !ok {
		logger.Error("userID not found in context")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return uuid.Nil, false
	}
	return userID, true
}

func orderIDParam(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, logger, "invalid order id")
		return uuid.Nil, false
	}
	return id, true
}
