package payments

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"lovepage-backend/internal/plans"
	"lovepage-backend/internal/shared/server/middleware"
	"lovepage-backend/internal/shared/server/respond"
)

// Handler exposes payment routes.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches payment routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/payments/orders", h.createOrder)
	rg.POST("/payments/confirm", h.confirm)
	rg.GET("/payments", h.list)
}

func (h *Handler) createOrder(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	if userID == "" {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
		return
	}
	var req OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "planType is required", nil)
		return
	}
	order, err := h.Svc.CreateOrder(c.Request.Context(), userID, req.PlanType)
	if err != nil {
		writeError(c, err)
		return
	}
	respond.Created(c, order)
}

func (h *Handler) confirm(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	if userID == "" {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
		return
	}
	var req ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "orderId, paymentId and signature are required", nil)
		return
	}

	p, err := h.Svc.Confirm(c.Request.Context(), userID, middleware.RequestIDFromContext(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	if !p.Applied() {
		respond.Accepted(c, p)
		return
	}
	respond.OK(c, p)
}

func (h *Handler) list(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	if userID == "" {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
		return
	}
	list, err := h.Svc.List(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	if list == nil {
		list = []Payment{}
	}
	respond.OK(c, gin.H{"payments": list})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidSignature):
		respond.Error(c, http.StatusBadRequest, "invalid_signature", "payment signature mismatch", nil)
	case errors.Is(err, plans.ErrUnknownPlan):
		respond.Error(c, http.StatusUnprocessableEntity, "unknown_plan", "plan is not in the catalog", nil)
	case errors.Is(err, ErrNotPurchasable):
		respond.Error(c, http.StatusUnprocessableEntity, "not_purchasable", "plan is not purchasable", nil)
	case errors.Is(err, ErrOrderNotFound):
		respond.Error(c, http.StatusNotFound, "order_not_found", "order not found", nil)
	case errors.Is(err, ErrPlanMismatch):
		respond.Error(c, http.StatusConflict, "plan_mismatch", "plan does not match the order", nil)
	case errors.Is(err, ErrOrderPaid):
		respond.Error(c, http.StatusConflict, "order_already_paid", "order already paid", nil)
	case errors.Is(err, ErrPaymentMismatch):
		respond.Error(c, http.StatusConflict, "payment_mismatch", "payment does not belong to this account", nil)
	case errors.Is(err, ErrNotConfigured):
		respond.Error(c, http.StatusServiceUnavailable, "payments_unavailable", "payments are not configured", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", "payment request failed", nil)
	}
}
