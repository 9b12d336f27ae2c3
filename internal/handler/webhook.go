package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/subscription-storefront/internal/gateway"
	"github.com/mmeshcher/subscription-storefront/internal/metrics"
	"github.com/mmeshcher/subscription-storefront/internal/service"
)

const maxWebhookBody = 1 << 20

type webhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome,omitempty"`
}

// PaymentWebhook принимает уведомление платёжного шлюза и сверяет состояние заказа.
// Шлюз повторяет доставку при любом ответе, кроме 2xx, поэтому 500 возвращается
// только для временных сбоев.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "")
		return
	}

	var n gateway.Notification
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &n); err != nil {
			h.logger.Warn("malformed payment notification body", zap.Error(err))
			metrics.WebhookNotifications.WithLabelValues("malformed").Inc()
			writeJSON(w, http.StatusOK, webhookResponse{Received: true})
			return
		}
	}
	if n.PaymentID() == "" {
		n.Data.ID = gateway.NotificationID(r.URL.Query().Get("data.id"))
	}

	if h.webhookSecret != "" {
		sig := r.Header.Get(gateway.SignatureHeader)
		reqID := r.Header.Get(gateway.RequestIDHeader)
		if !gateway.VerifySignature(sig, reqID, n.PaymentID(), h.webhookSecret) {
			h.logger.Warn("payment notification signature mismatch",
				zap.String("payment_id", n.PaymentID()),
				zap.String("request_id", reqID),
			)
			metrics.WebhookNotifications.WithLabelValues("invalid_signature").Inc()
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	res, err := h.service.HandlePaymentNotification(r.Context(), n)
	if err != nil {
		if errors.Is(err, service.ErrMalformedNotification) {
			h.logger.Warn("payment notification acknowledged without processing",
				zap.Error(err),
				zap.String("payment_id", n.PaymentID()),
			)
			writeJSON(w, http.StatusOK, webhookResponse{Received: true})
			return
		}
		if errors.Is(err, service.ErrPaymentNotVisible) {
			h.logger.Warn("payment notification deferred", zap.String("payment_id", n.PaymentID()))
			writeError(w, http.StatusServiceUnavailable, "")
			return
		}
		h.logger.Error("payment notification error", zap.Error(err), zap.String("payment_id", n.PaymentID()))
		writeError(w, http.StatusInternalServerError, "")
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{Received: true, Outcome: string(res.Outcome)})
}
