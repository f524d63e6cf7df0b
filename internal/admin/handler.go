package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"lovepage-backend/internal/plans"
	"lovepage-backend/internal/quota"
	"lovepage-backend/internal/shared/auth"
	"lovepage-backend/internal/shared/server/middleware"
	"lovepage-backend/internal/shared/server/respond"
)

// Handler exposes admin routes.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches admin routes, restricted to the admin role.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/admin", middleware.RequireRole(auth.RoleAdmin))
	g.GET("/plans", h.listPlans)
	g.GET("/stats", h.stats)
	g.GET("/accounts", h.listAccounts)
	g.GET("/items", h.listItems)
	g.GET("/payments", h.listPayments)
	g.GET("/accounts/:id", h.getAccount)
	g.PUT("/accounts/:id/plan", h.setPlan)
	g.POST("/accounts/:id/reset", h.reset)
	g.DELETE("/items/:id", h.deleteItem)
}

type setPlanRequest struct {
	PlanType string `json:"planType" binding:"required,max=64"`
	Balance  *int   `json:"balance" binding:"required,min=0"`
}

func (h *Handler) listPlans(c *gin.Context) {
	respond.OK(c, gin.H{"plans": h.Svc.Catalog.List()})
}

// limitParam reads ?limit=. Missing means the service default.
func limitParam(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		respond.Error(c, http.StatusBadRequest, "validation_error", "limit must be a positive integer", gin.H{"limit": raw})
		return 0, false
	}
	return n, true
}

func (h *Handler) stats(c *gin.Context) {
	st, err := h.Svc.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err, "failed to compute stats")
		return
	}
	respond.OK(c, st)
}

func (h *Handler) listAccounts(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	out, err := h.Svc.Accounts(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err, "failed to list accounts")
		return
	}
	respond.OK(c, gin.H{"accounts": out})
}

func (h *Handler) listItems(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	out, err := h.Svc.Items(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err, "failed to list items")
		return
	}
	respond.OK(c, gin.H{"items": out})
}

func (h *Handler) listPayments(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		return
	}
	out, err := h.Svc.RecentPayments(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err, "failed to list payments")
		return
	}
	respond.OK(c, gin.H{"payments": out})
}

func (h *Handler) getAccount(c *gin.Context) {
	view, err := h.Svc.Account(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, "failed to fetch account")
		return
	}
	respond.OK(c, view)
}

func (h *Handler) setPlan(c *gin.Context) {
	var req setPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "planType and a non-negative balance are required", nil)
		return
	}
	acct, err := h.Svc.SetPlan(c.Request.Context(), middleware.UserIDFromContext(c), c.Param("id"), req.PlanType, *req.Balance)
	if err != nil {
		writeError(c, err, "failed to update plan")
		return
	}
	respond.OK(c, acct)
}

func (h *Handler) reset(c *gin.Context) {
	acct, err := h.Svc.Reset(c.Request.Context(), middleware.UserIDFromContext(c), c.Param("id"))
	if err != nil {
		writeError(c, err, "failed to reset account")
		return
	}
	respond.OK(c, acct)
}

func (h *Handler) deleteItem(c *gin.Context) {
	if err := h.Svc.DeleteItem(c.Request.Context(), middleware.UserIDFromContext(c), c.Param("id")); err != nil {
		writeError(c, err, "failed to delete item")
		return
	}
	respond.NoContent(c)
}

func writeError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, plans.ErrUnknownPlan):
		respond.Error(c, http.StatusUnprocessableEntity, "unknown_plan", "plan is not in the catalog", nil)
	case errors.Is(err, ErrInvalidBalance):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, quota.ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "not found", nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respond.Error(c, http.StatusRequestTimeout, "timeout", "request canceled", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", msg, nil)
	}
}
