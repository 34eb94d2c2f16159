package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-station/internal/middleware"
	"github.com/stemsi/exstem-station/internal/model"
	"github.com/stemsi/exstem-station/internal/response"
	"github.com/stemsi/exstem-station/internal/service"
)

// AuthHandler handles renderer authentication.
type AuthHandler struct {
	authService *service.AuthService
	log         zerolog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authService *service.AuthService, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		log:         log.With().Str("component", "auth_handler").Logger(),
	}
}

// StationLogin godoc
// POST /api/v1/station/login
// Exchanges the station secret for a renderer token.
func (h *AuthHandler) StationLogin(c *gin.Context) {
	var req model.StationLoginRequest
	if !bind(c, &req) {
		return
	}

	token, err := h.authService.Login(c.Request.Context(), req.Secret)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			h.log.Warn().Str("ip", c.ClientIP()).Msg("Station login rejected")
			response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
			return
		}
		h.log.Error().Err(err).Msg("Station login failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"token": token})
}

// GetRendererSession godoc
// GET /api/v1/station/me
// Returns the renderer token's expiry so the UI can re-login ahead of time.
func (h *AuthHandler) GetRendererSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"token_type": claims.TokenType,
		"expires_at": claims.ExpiresAt,
	})
}
