package consumption

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"lovepage-backend/internal/entitlement"
	"lovepage-backend/internal/quota"
	"lovepage-backend/internal/session"
	"lovepage-backend/internal/shared/server/middleware"
	"lovepage-backend/internal/shared/server/respond"
)

// IdempotencyHeader lets clients retry a consume without double counting.
const IdempotencyHeader = "Idempotency-Key"

// retryAfterSeconds is advertised when the store is unavailable.
const retryAfterSeconds = "2"

var validate = validator.New()

// Handler exposes the privileged mutation channel.
type Handler struct {
	Coordinator *Coordinator
}

// NewHandler constructs a Handler.
func NewHandler(coord *Coordinator) *Handler {
	return &Handler{Coordinator: coord}
}

// RegisterRoutes attaches entitlement routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/entitlements")
	g.GET("/summary", h.summary)
	g.GET("/create", h.checkCreate)
	g.POST("/create/consume", h.consumeCreate)
	g.GET("/items/:id/edit", h.checkEdit)
	g.POST("/items/:id/edit/consume", h.consumeEdit)
}

type consumeHeaders struct {
	IdempotencyKey string `header:"Idempotency-Key" validate:"omitempty,max=128,printascii"`
}

type itemURI struct {
	ID string `uri:"id" validate:"required,max=128"`
}

func sessionFrom(c *gin.Context) session.Session {
	userID := middleware.UserIDFromContext(c)
	if userID == "" {
		return session.Anonymous()
	}
	return session.SignedInAs(userID, "", middleware.TokenExpiryFromContext(c))
}

func (h *Handler) checkCreate(c *gin.Context) {
	d, err := h.Coordinator.CheckCreate(c.Request.Context(), sessionFrom(c))
	if err != nil {
		WriteError(c, err)
		return
	}
	respond.OK(c, d)
}

func (h *Handler) consumeCreate(c *gin.Context) {
	ctx, ok := bindConsumeContext(c)
	if !ok {
		return
	}
	d, err := h.Coordinator.TryConsumeCreate(ctx, sessionFrom(c))
	if err != nil {
		WriteError(c, err)
		return
	}
	respond.OK(c, d)
}

func (h *Handler) checkEdit(c *gin.Context) {
	itemID, ok := bindItemID(c)
	if !ok {
		return
	}
	d, err := h.Coordinator.CheckEdit(c.Request.Context(), sessionFrom(c), itemID)
	if err != nil {
		WriteError(c, err)
		return
	}
	respond.OK(c, d)
}

func (h *Handler) consumeEdit(c *gin.Context) {
	itemID, ok := bindItemID(c)
	if !ok {
		return
	}
	ctx, ok := bindConsumeContext(c)
	if !ok {
		return
	}
	d, err := h.Coordinator.TryConsumeEdit(ctx, sessionFrom(c), itemID)
	if err != nil {
		WriteError(c, err)
		return
	}
	respond.OK(c, d)
}

func (h *Handler) summary(c *gin.Context) {
	s, err := h.Coordinator.Summary(c.Request.Context(), sessionFrom(c))
	if err != nil {
		WriteError(c, err)
		return
	}
	respond.OK(c, s)
}

func bindItemID(c *gin.Context) (string, bool) {
	var uri itemURI
	if err := c.ShouldBindUri(&uri); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "item id is required", nil)
		return "", false
	}
	if err := validate.Struct(uri); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "item id is invalid", nil)
		return "", false
	}
	return uri.ID, true
}

func bindConsumeContext(c *gin.Context) (context.Context, bool) {
	var hdr consumeHeaders
	if err := c.ShouldBindHeader(&hdr); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid headers", nil)
		return nil, false
	}
	if err := validate.Struct(hdr); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid Idempotency-Key", nil)
		return nil, false
	}
	return WithOperationKey(c.Request.Context(), hdr.IdempotencyKey), true
}

// WriteError maps entitlement and store faults onto the HTTP error envelope.
func WriteError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, entitlement.ErrNotAuthenticated):
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
	case errors.Is(err, entitlement.ErrUnknownPlan):
		respond.Error(c, http.StatusUnprocessableEntity, "unknown_plan", "account plan is not in the catalog", nil)
	case errors.Is(err, entitlement.ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, quota.ErrNotFound), errors.Is(err, entitlement.ErrItemMismatch):
		respond.Error(c, http.StatusNotFound, "not_found", "item not found", nil)
	case errors.Is(err, entitlement.ErrConcurrentConflict):
		respond.Error(c, http.StatusConflict, "concurrent_conflict", "too many concurrent requests, retry", nil)
	case errors.Is(err, entitlement.ErrStoreUnavailable):
		c.Header("Retry-After", retryAfterSeconds)
		respond.Error(c, http.StatusServiceUnavailable, "store_unavailable", "quota store unavailable, retry later", nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respond.Error(c, http.StatusRequestTimeout, "timeout", "request canceled", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", "entitlement check failed", nil)
	}
}
