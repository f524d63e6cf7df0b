package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"lovepage-backend/internal/plans"
	"lovepage-backend/internal/shared/server/middleware"
	"lovepage-backend/internal/shared/server/respond"
	"lovepage-backend/internal/shared/telemetry"
)

// registerMeRoutes attaches the /me endpoint.
func registerMeRoutes(rg *gin.RouterGroup, catalog *plans.Catalog, planOf func(context.Context, string) (string, error)) {
	rg.GET("/me", meHandler(catalog, planOf))
}

func meHandler(catalog *plans.Catalog, planOf func(context.Context, string) (string, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.UserIDFromContext(c)
		if userID == "" {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
			return
		}
		response := profile(c, userID)
		if planOf != nil {
			planID, err := planOf(c.Request.Context(), userID)
			if err != nil {
				telemetry.Warn("me.plan_lookup_failed", map[string]any{"account_id": userID, "error": err.Error()})
			} else if plan, ok := catalog.Lookup(planID); ok {
				response["plan"] = plan
			}
		}
		respond.JSON(c, http.StatusOK, response)
	}
}

func profile(c *gin.Context, userID string) gin.H {
	response := gin.H{
		"userId": userID,
	}
	if email := middleware.UserEmailFromContext(c); email != "" {
		response["email"] = email
	}
	if name := middleware.UserNameFromContext(c); name != "" {
		response["name"] = name
	}
	if picture := middleware.UserPictureFromContext(c); picture != "" {
		response["picture"] = picture
	}
	if role := middleware.UserRoleFromContext(c); role != "" {
		response["role"] = role
	}
	if exp := middleware.TokenExpiryFromContext(c); !exp.IsZero() {
		response["expiresAt"] = exp
	}
	return response
}
