package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"therapy-scheduling-server/internal/middleware"
	"therapy-scheduling-server/internal/services"
	"therapy-scheduling-server/internal/utils"
)

// respondError maps workflow error kinds onto the response envelope.
// Unclassified errors are logged and reported generically.
func respondError(c *gin.Context, logger zerolog.Logger, err error) {
	switch services.KindOf(err) {
	case services.KindNotFound:
		utils.NotFound(c, err.Error())
	case services.KindInvalidArgument:
		utils.BadRequest(c, err.Error())
	case services.KindForbidden:
		utils.Forbidden(c, err.Error())
	case services.KindConflict, services.KindInvalidState:
		utils.Conflict(c, err.Error())
	default:
		logger.Error().Err(err).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Msg("request failed")
		utils.InternalServerError(c, "Internal server error")
	}
}

// actorFromContext builds the workflow actor from the authenticated claims.
func actorFromContext(c *gin.Context) (services.Actor, bool) {
	username, ok := middleware.GetUsernameFromContext(c)
	if !ok {
		return services.Actor{}, false
	}
	role, ok := middleware.GetUserRoleFromContext(c)
	if !ok {
		return services.Actor{}, false
	}
	return services.Actor{Username: username, Role: role}, true
}
