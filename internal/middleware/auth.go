package middleware

import (
	"stockbridge/internal/repository"
	"stockbridge/internal/service"

	"github.com/gin-gonic/gin"
)

const APIKeyHeader = "X-Bridge-Key"

// APIKeyMiddleware admits integration clients such as the ledger. The
// client's app id becomes the operator of whatever the request triggers.
func APIKeyMiddleware(repo repository.ClientKeyRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader(APIKeyHeader)
		if apiKey == "" {
			c.AbortWithStatusJSON(401, gin.H{"error": "missing API key"})
			return
		}

		appID, ok, err := repo.ValidateAPIKey(c.Request.Context(), apiKey)
		if err != nil || !ok {
			c.AbortWithStatusJSON(403, gin.H{"error": "forbidden"})
			return
		}

		ctx := service.WithOperator(c.Request.Context(), &service.OperatorInfo{
			UserID: appID,
			Name:   "app:" + appID,
			Role:   "integration",
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
