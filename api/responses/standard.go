// Package responses writes the JSON envelopes shared by every API handler.
package responses

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Aidin1998/talentboard/internal/infrastructure/middleware"
	"github.com/Aidin1998/talentboard/pkg/errors"
)

// StandardResponse represents a standard API response format
type StandardResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// Success sends a 200 response wrapping data
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, StandardResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
		RequestID: requestID(c),
	})
}

// Error aborts the request with the rejection's status and body. The body has
// the same shape the security pipeline uses for its verdicts.
func Error(c *gin.Context, rejection *errors.Rejection) {
	c.AbortWithStatusJSON(rejection.Status, rejection)
}

func requestID(c *gin.Context) string {
	return c.GetString(middleware.RequestIDKey)
}
