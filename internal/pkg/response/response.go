// internal/pkg/response/response.go
package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	xerrors "jsonapi-service/internal/pkg/errors"
)

// ErrorBody is the wire shape of every failure: `{"error": "..."}`.
type ErrorBody struct {
	Error string `json:"error"`
}

// JSON writes a success body as-is with the given status.
func JSON(c *gin.Context, status int, body any) {
	if status == 0 {
		status = http.StatusOK
	}
	c.JSON(status, body)
}

// Raw writes a pre-serialized body, used when the payload was encrypted
// after marshalling.
func Raw(c *gin.Context, status int, contentType string, body []byte) {
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(status, contentType, body)
}

// Error maps an error onto the standard error body. Typed errors carry
// their own status; anything else is an internal failure.
func Error(c *gin.Context, err error) {
	c.Abort()

	var typed *xerrors.Error
	if errors.As(err, &typed) {
		c.JSON(typed.Status, ErrorBody{Error: typed.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, ErrorBody{Error: err.Error()})
}

// Forbidden sends a 403 with the standard permission failure message.
func Forbidden(c *gin.Context) {
	Error(c, xerrors.Forbidden())
}

// NotFound sends a 404.
func NotFound(c *gin.Context, message string) {
	Error(c, xerrors.New(http.StatusNotFound, xerrors.ErrNotFound, message))
}
