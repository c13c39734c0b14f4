package middlewares

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/ims_backend/config"
	"github.com/mmdatafocus/ims_backend/utils"
	"github.com/redis/go-redis/v9"
)

// SessionMiddleware puts the caller's identity into the request context.
// A "token" header is resolved through the redis session store; without one the gateway
// supplied x-user header is trusted.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		username := strings.TrimSpace(c.GetHeader("x-user"))

		if token := strings.TrimSpace(c.GetHeader("token")); token != "" {
			rdb := config.GetRedisDB()
			if rdb == nil {
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "session store not ready"})
				return
			}
			value, err := rdb.Get(ctx, "Token:"+token).Result()
			if errors.Is(err, redis.Nil) || (err == nil && value == "") {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				return
			}
			if err != nil {
				config.LogError(config.GetLogger(), "middlewares", "SessionMiddleware", "redis get token", nil, err)
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "session store not ready"})
				return
			}
			username = value
		}

		if username != "" {
			ctx = utils.SetUsernameInContext(ctx, username)
		}
		if branchId := strings.TrimSpace(c.GetHeader("x-branch-id")); branchId != "" {
			ctx = utils.SetBranchIdInContext(ctx, branchId)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// CorrelationMiddleware generates a correlation id once per request and echoes it back.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if cid := strings.TrimSpace(c.GetHeader("x-correlation-id")); cid != "" {
			ctx = utils.SetCorrelationIdInContext(ctx, cid)
		}
		ctx, cid := utils.EnsureCorrelationId(ctx)
		ctx = utils.SetRequestPathInContext(ctx, c.Request.Method+" "+c.Request.URL.Path)
		c.Header("x-correlation-id", cid)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
