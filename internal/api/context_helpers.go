package api

import (
	"github.com/gin-gonic/gin"

	"hireline/internal/auth"
)

func userIDFromContext(c *gin.Context) (uint, bool) {
	value, ok := c.Get("userID")
	if !ok {
		return 0, false
	}
	id, ok := value.(uint)
	return id, ok
}

func identityFromContext(c *gin.Context) (auth.Identity, bool) {
	id, ok := userIDFromContext(c)
	if !ok {
		return auth.Identity{}, false
	}
	value, ok := c.Get("userRole")
	if !ok {
		return auth.Identity{}, false
	}
	role, ok := value.(string)
	if !ok {
		return auth.Identity{}, false
	}
	return auth.Identity{ID: id, Role: role}, true
}
