package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Body is the standard API response envelope. Error responses always carry a
// machine-readable code next to the human message.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// Generic codes for failures that are not domain errors.
const (
	CodeBadRequest   = "BAD_REQUEST"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeNotFound     = "NOT_FOUND"
	CodeRateLimited  = "RATE_LIMITED"
	CodeUnavailable  = "UNAVAILABLE"
	CodeInternal     = "INTERNAL"
)

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// Fail sends an error response with the given status and code.
func Fail(c *gin.Context, status int, code, err string) {
	c.JSON(status, Body{Success: false, Error: err, Code: code})
}

func BadRequest(c *gin.Context, err string) {
	Fail(c, http.StatusBadRequest, CodeBadRequest, err)
}

func Unauthorized(c *gin.Context, err string) {
	Fail(c, http.StatusUnauthorized, CodeUnauthorized, err)
}

func Forbidden(c *gin.Context, err string) {
	Fail(c, http.StatusForbidden, CodeForbidden, err)
}

func NotFound(c *gin.Context, err string) {
	Fail(c, http.StatusNotFound, CodeNotFound, err)
}

// TooManyRequests sends 429. Clients retry after the scan window.
func TooManyRequests(c *gin.Context, err string) {
	Fail(c, http.StatusTooManyRequests, CodeRateLimited, err)
}

func ServiceUnavailable(c *gin.Context, err string) {
	Fail(c, http.StatusServiceUnavailable, CodeUnavailable, err)
}

// Internal sends 500. The message must not leak infrastructure details.
func Internal(c *gin.Context, err string) {
	Fail(c, http.StatusInternalServerError, CodeInternal, err)
}
