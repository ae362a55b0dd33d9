// Package handlers implements the HTTP endpoints on top of the opportunity,
// trading and configuration services.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/tradepilot/internal/apperror"
	"github.com/irfndi/tradepilot/internal/middleware"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Status string `json:"status"`
	Code   string `json:"code"`
	Error  string `json:"error"`
}

func respondError(c *gin.Context, err error) {
	status := apperror.HTTPStatus(err)
	code := string(apperror.KindOf(err))
	msg := err.Error()
	if code == "" {
		code = "internal"
	}
	if status >= http.StatusInternalServerError {
		tags := map[string]string{"kind": code}
		if id := middleware.CurrentUserID(c); id != "" {
			tags["user_id"] = id
		}
		middleware.RecordError(c, err, tags)
		_ = c.Error(err)
		if apperror.KindOf(err) == "" {
			msg = "internal server error"
		}
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Status: "error", Code: code, Error: msg})
}

func respondBindError(c *gin.Context, err error) {
	respondError(c, apperror.Validation("invalid request payload: %v", err))
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": data})
}

// requireUser returns the authenticated user id or renders 401.
func requireUser(c *gin.Context) (string, bool) {
	id := middleware.CurrentUserID(c)
	if id == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
			Status: "error",
			Code:   "unauthorized",
			Error:  "authentication required",
		})
		return "", false
	}
	return id, true
}
