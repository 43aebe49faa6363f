package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/widgetchat-backend/internal/platform/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// RespondAPIError maps typed errors to their status and code. Anything else is
// a 500 whose message is not exposed to the caller.
func RespondAPIError(c *gin.Context, err error) {
	if e, ok := apierr.As(err); ok {
		status := e.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		RespondError(c, status, e.Code, e)
		return
	}
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, ErrorEnvelope{
		Error: APIError{Message: "internal server error", Code: apierr.CodeInternal},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondAccepted(c *gin.Context, payload any) {
	c.JSON(http.StatusAccepted, payload)
}
