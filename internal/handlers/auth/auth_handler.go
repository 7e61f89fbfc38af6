// internal/handlers/auth/auth_handler.go
package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"jsonapi-service/internal/audit"
	"jsonapi-service/internal/domain/user"
	xerrors "jsonapi-service/internal/pkg/errors"
	"jsonapi-service/internal/pkg/response"
	authUsecase "jsonapi-service/internal/service/auth"
)

type AuthHandler struct {
	authService *authUsecase.AuthService
	audit       *audit.Logger
	logger      *zap.Logger
}

func NewAuthHandler(authService *authUsecase.AuthService, auditLog *audit.Logger, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		audit:       auditLog,
		logger:      logger,
	}
}

// SignIn handles the public sign-in route. The response carries the user
// (password scrubbed) and the session token under data. Outcomes land in
// the same audit trail as the resource routes.
func (h *AuthHandler) SignIn(c *gin.Context) {
	var req user.SignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, xerrors.New(http.StatusUnauthorized, xerrors.ErrInvalidRequest, "Missing required fields"))
		h.record(c, 0, http.StatusUnauthorized)
		return
	}

	result, err := h.authService.SignIn(c.Request.Context(), &req)
	if err != nil {
		h.logger.Warn("sign in failed",
			zap.String("email", req.Email),
			zap.String("ip", c.ClientIP()),
			zap.Error(err),
		)
		response.Error(c, err)
		h.record(c, 0, xerrors.From(err).Status)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"data": result})
	h.record(c, result.User.ID, http.StatusOK)
}

func (h *AuthHandler) record(c *gin.Context, userID int64, status int) {
	h.audit.Record(c.Request.Context(), audit.Event{
		Method: c.Request.Method,
		Model:  "signin",
		UserID: userID,
		Status: status,
		IP:     c.ClientIP(),
	})
}
