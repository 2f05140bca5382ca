package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"therapy-scheduling-server/internal/config"
	"therapy-scheduling-server/internal/middleware"
	"therapy-scheduling-server/internal/models"
	"therapy-scheduling-server/internal/repository"
	"therapy-scheduling-server/internal/utils"
)

// AuthHandler handles authentication-related requests.
type AuthHandler struct {
	users  repository.UserRepository
	cfg    *config.Config
	logger zerolog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(users repository.UserRepository, cfg *config.Config, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{users: users, cfg: cfg, logger: logger}
}

// RegisterRequest represents the request body for user registration.
type RegisterRequest struct {
	Username  string `json:"username" binding:"required,min=3"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8"`
	Role      string `json:"role" binding:"required,oneof=patient therapist"`
}

// Register handles user registration.
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	ctx := c.Request.Context()
	username := strings.TrimSpace(req.Username)
	email := strings.ToLower(strings.TrimSpace(req.Email))

	if _, err := h.users.GetByEmail(ctx, email); err == nil {
		utils.Conflict(c, "User with this email already exists")
		return
	} else if !errors.Is(err, repository.ErrNotFound) {
		h.internalError(c, err)
		return
	}
	if _, err := h.users.GetByUsername(ctx, username, ""); err == nil {
		utils.Conflict(c, "Username is already taken")
		return
	} else if !errors.Is(err, repository.ErrNotFound) {
		h.internalError(c, err)
		return
	}

	user := models.User{
		Username:  username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     email,
		Role:      models.Role(req.Role),
	}
	if err := user.SetPassword(req.Password); err != nil {
		h.internalError(c, err)
		return
	}
	if err := h.users.Create(ctx, &user); err != nil {
		h.internalError(c, err)
		return
	}

	h.logger.Info().Str("username", user.Username).Str("role", string(user.Role)).Msg("user registered")
	utils.Created(c, "User registered successfully", user.Sanitize())
}

// LoginRequest represents the request body for user login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents the response body for successful login.
type LoginResponse struct {
	AccessToken string               `json:"accessToken"`
	User        models.UserSanitized `json:"user"`
}

// Login handles user login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	user, err := h.users.GetByEmail(c.Request.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			utils.Unauthorized(c, "Invalid email or password")
		} else {
			h.internalError(c, err)
		}
		return
	}
	if !user.CheckPassword(req.Password) {
		utils.Unauthorized(c, "Invalid email or password")
		return
	}

	ttl := time.Duration(h.cfg.JWTExpirationMinutes) * time.Minute
	accessToken, err := utils.GenerateAccessToken(user, h.cfg.JWTSecret, ttl)
	if err != nil {
		h.internalError(c, err)
		return
	}

	utils.Success(c, "Login successful", LoginResponse{
		AccessToken: accessToken,
		User:        user.Sanitize(),
	})
}

// GetProfile handles fetching the currently authenticated user's profile.
func (h *AuthHandler) GetProfile(c *gin.Context) {
	userID, exists := middleware.GetUserIDFromContext(c)
	if !exists {
		utils.Unauthorized(c, "User not authenticated")
		return
	}

	user, err := h.users.GetByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			utils.NotFound(c, "User profile not found")
		} else {
			h.internalError(c, err)
		}
		return
	}

	utils.Success(c, "Profile fetched successfully", user.Sanitize())
}

func (h *AuthHandler) internalError(c *gin.Context, err error) {
	h.logger.Error().Err(err).Str("path", c.FullPath()).Msg("auth request failed")
	utils.InternalServerError(c, "Internal server error")
}
