package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"smartengo-backend/internal/model"
	"smartengo-backend/internal/session"
)

type paymentWebhookRequest struct {
	ToiletID         string          `json:"toilet_id"`
	Amount           json.RawMessage `json:"amount"`
	PaymentMethod    string          `json:"payment_method"`
	PaymentReference string          `json:"payment_reference"`
}

// PaymentWebhook confirms a payment and opens the door.
func (h *Handler) PaymentWebhook(c *gin.Context) {
	var req paymentWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	payment := session.PaymentRequest{
		ToiletID:  strings.TrimSpace(req.ToiletID),
		Method:    model.PaymentMethod(req.PaymentMethod),
		Reference: req.PaymentReference,
	}
	if err := payment.SetAmountLiteral(string(req.Amount)); err != nil {
		h.paymentError(c, err)
		return
	}

	res, err := h.svc.ConfirmPayment(c.Request.Context(), payment)
	if err != nil {
		h.paymentError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    "Payment verified and door opened",
		"payment_id": res.Payment.ID,
	})
}

func (h *Handler) paymentError(c *gin.Context, err error) {
	if errors.Is(err, session.ErrTariffMismatch) {
		h.logger.Info("Payment rejected", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	h.webhookError(c, err)
}

type sensorWebhookRequest struct {
	ToiletID     string `json:"toilet_id"`
	SensorStatus string `json:"sensor_status"`
}

// SensorWebhook applies an occupancy report from the hardware sensor.
func (h *Handler) SensorWebhook(c *gin.Context) {
	var req sensorWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	toilet, err := h.svc.HandleSensorEvent(c.Request.Context(), req.ToiletID, req.SensorStatus)
	if err != nil {
		h.webhookError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": toilet})
}
