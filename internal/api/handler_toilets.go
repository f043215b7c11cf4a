package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"smartengo-backend/internal/model"
	"smartengo-backend/internal/session"
)

// ListToilets returns every toilet, ordered by name.
func (h *Handler) ListToilets(c *gin.Context) {
	toilets, err := h.svc.ListToilets(c.Request.Context())
	if err != nil {
		h.adminError(c, err)
		return
	}
	c.JSON(http.StatusOK, toilets)
}

func (h *Handler) GetToilet(c *gin.Context) {
	toilet, err := h.svc.GetToilet(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.adminError(c, err)
		return
	}
	c.JSON(http.StatusOK, toilet)
}

type createToiletRequest struct {
	Name     string  `json:"name" binding:"required"`
	Location *string `json:"location"`
}

func (h *Handler) CreateToilet(c *gin.Context) {
	var req createToiletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	toilet, err := h.svc.CreateToilet(c.Request.Context(), req.Name, req.Location)
	if err != nil {
		h.adminError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toilet)
}

type updateToiletRequest struct {
	Name              *string             `json:"name"`
	Location          *string             `json:"location"`
	Status            *model.ToiletStatus `json:"status"`
	ManualOpenEnabled *bool               `json:"manual_open_enabled"`

	// ExpectedRevisions maps a field group to the revision the client last saw.
	ExpectedRevisions map[string]int64 `json:"expected_revisions"`
}

// UpdateToilet applies an admin edit. Edits carrying expected_revisions are
// rejected with 409 when a group they touch changed since.
func (h *Handler) UpdateToilet(c *gin.Context) {
	var req updateToiletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	var expected map[session.FieldGroup]int64
	if len(req.ExpectedRevisions) > 0 {
		expected = make(map[session.FieldGroup]int64, len(req.ExpectedRevisions))
		for name, rev := range req.ExpectedRevisions {
			g, ok := session.ParseFieldGroup(name)
			if !ok {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown field group " + strconv.Quote(name)})
				return
			}
			expected[g] = rev
		}
	}

	edit := session.AdminEdit{
		Name:              req.Name,
		Location:          req.Location,
		Status:            req.Status,
		ManualOpenEnabled: req.ManualOpenEnabled,
	}
	toilet, err := h.svc.UpdateToilet(c.Request.Context(), c.Param("id"), edit, expected)
	if err != nil {
		h.adminError(c, err)
		return
	}
	c.JSON(http.StatusOK, toilet)
}

func (h *Handler) DeleteToilet(c *gin.Context) {
	if err := h.svc.DeleteToilet(c.Request.Context(), c.Param("id")); err != nil {
		h.adminError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ManualOpen opens the door of an unpaid toilet on the operator's behalf.
func (h *Handler) ManualOpen(c *gin.Context) {
	toilet, err := h.svc.ManualOpen(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.adminError(c, err)
		return
	}
	c.JSON(http.StatusOK, toilet)
}

type doorRequest struct {
	Open *bool `json:"open" binding:"required"`
}

func (h *Handler) ToggleDoor(c *gin.Context) {
	var req doorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open is required"})
		return
	}

	toilet, err := h.svc.ToggleDoor(c.Request.Context(), c.Param("id"), *req.Open)
	if err != nil {
		h.adminError(c, err)
		return
	}
	c.JSON(http.StatusOK, toilet)
}

type manualPaymentRequest struct {
	Amount           int64  `json:"amount"`
	PaymentMethod    string `json:"payment_method"`
	PaymentReference string `json:"payment_reference"`
}

// RecordPayment records a payment entered on the dashboard form.
func (h *Handler) RecordPayment(c *gin.Context) {
	var req manualPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	res, err := h.svc.RecordManualPayment(c.Request.Context(), session.PaymentRequest{
		ToiletID:  c.Param("id"),
		Amount:    req.Amount,
		Method:    model.PaymentMethod(req.PaymentMethod),
		Reference: req.PaymentReference,
	})
	if err != nil {
		h.adminError(c, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"payment": res.Payment, "toilet": res.Toilet})
}

// GetAlert reports whether the toilet is in overstay right now.
func (h *Handler) GetAlert(c *gin.Context) {
	toilet, alert, err := h.svc.OccupancyAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.adminError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"toilet_id":        toilet.ID,
		"is_occupied":      toilet.IsOccupied,
		"occupied_since":   toilet.OccupiedSince,
		"overstay":         alert.Overstay,
		"occupied_minutes": alert.Minutes,
		"reason":           alert.Reason,
	})
}
