// internal/handler/callback_handler.go
package handler

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"money-service/internal/domain"
	"money-service/internal/pkg/response"
	"money-service/internal/provider/gateway"
	"money-service/internal/usecase"
)

const webhookSecretHeader = "X-Webhook-Secret"

type CallbackHandler struct {
	paymentUC *usecase.PaymentUsecase
	secret    string
	logger    *zap.Logger
}

func NewCallbackHandler(paymentUC *usecase.PaymentUsecase, secret string, logger *zap.Logger) *CallbackHandler {
	return &CallbackHandler{
		paymentUC: paymentUC,
		secret:    secret,
		logger:    logger,
	}
}

// HandleGatewayWebhook applies a gateway status callback. Callbacks for references we
// never issued are acknowledged so the gateway stops retrying them; a failed apply
// answers 500 so the gateway delivers it again.
func (h *CallbackHandler) HandleGatewayWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.secret == "" {
		h.logger.Error("gateway webhook received but no webhook secret is configured")
		response.Error(w, http.StatusServiceUnavailable, response.CodeUnavailable, "webhooks are not configured")
		return
	}
	if subtle.ConstantTimeCompare([]byte(r.Header.Get(webhookSecretHeader)), []byte(h.secret)) != 1 {
		h.logger.Warn("gateway webhook with bad secret", zap.String("remote_addr", r.RemoteAddr))
		response.Error(w, http.StatusUnauthorized, response.CodeUnauthenticated, "invalid webhook secret")
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Error("failed to read webhook payload", zap.Error(err))
		response.Error(w, http.StatusBadRequest, response.CodeInvalidArgument, "failed to read payload")
		return
	}

	report, err := gateway.ParseWebhook(payload)
	if err != nil {
		h.logger.Warn("malformed gateway webhook",
			zap.Int("payload_size", len(payload)),
			zap.String("payload", domain.Truncate(string(payload), 512)),
			zap.Error(err))
		response.Error(w, http.StatusBadRequest, response.CodeInvalidArgument, err.Error())
		return
	}

	h.logger.Info("received gateway webhook",
		zap.String("reference", report.Reference),
		zap.String("status", string(report.Status)))

	p, err := h.paymentUC.HandleGatewayWebhook(ctx, report)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.logger.Warn("webhook for unknown reference", zap.String("reference", report.Reference))
		response.Result(w, map[string]string{"reference": report.Reference, "status": "ignored"})
		return
	case err != nil:
		h.logger.Error("failed to apply gateway webhook",
			zap.String("reference", report.Reference),
			zap.Error(err))
		response.Error(w, http.StatusInternalServerError, response.CodeInternal, "failed to apply callback")
		return
	}

	response.Result(w, map[string]string{"reference": p.Reference, "status": string(p.Status)})
}
