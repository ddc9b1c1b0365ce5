package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pwaburton/members/internal/auth"
	"github.com/pwaburton/members/internal/members"
	"github.com/pwaburton/members/internal/payments"
	"github.com/pwaburton/members/internal/profiles"
	"github.com/pwaburton/members/internal/registration"
	"github.com/pwaburton/members/internal/support"
	"go.uber.org/zap"
)

type codedError interface {
	Code() string
}

type errorMapping struct {
	target error
	status int
	label  string
}

var errorMappings = []errorMapping{
	{target: auth.ErrInvalidCredentials, status: http.StatusUnauthorized, label: "invalid_credentials"},
	{target: auth.ErrInvalidRefreshToken, status: http.StatusUnauthorized, label: "invalid_refresh_token"},
	{target: auth.ErrSessionRevoked, status: http.StatusUnauthorized, label: "session_revoked"},
	{target: auth.ErrAccountExists, status: http.StatusConflict, label: "account_exists"},
	{target: auth.ErrInvalidAccountInput, status: http.StatusBadRequest, label: "invalid_request"},
	{target: auth.ErrUserNotFound, status: http.StatusNotFound, label: "not_found"},
	{target: profiles.ErrInvalidRole, status: http.StatusBadRequest, label: "invalid_request"},
	{target: profiles.ErrInvalidIdentity, status: http.StatusBadRequest, label: "invalid_request"},
	{target: profiles.ErrProfileNotFound, status: http.StatusNotFound, label: "not_found"},
	{target: members.ErrInvalidInput, status: http.StatusBadRequest, label: "invalid_request"},
	{target: members.ErrCollectorExists, status: http.StatusConflict, label: "collector_exists"},
	{target: members.ErrCollectorInUse, status: http.StatusConflict, label: "collector_in_use"},
	{target: members.ErrCollectorInactive, status: http.StatusConflict, label: "collector_inactive"},
	{target: members.ErrCollectorNotFound, status: http.StatusNotFound, label: "not_found"},
	{target: members.ErrMemberNotFound, status: http.StatusNotFound, label: "not_found"},
	{target: payments.ErrInvalidInput, status: http.StatusBadRequest, label: "invalid_request"},
	{target: payments.ErrMemberNotFound, status: http.StatusNotFound, label: "not_found"},
	{target: payments.ErrPaymentNotFound, status: http.StatusNotFound, label: "not_found"},
	{target: support.ErrInvalidInput, status: http.StatusBadRequest, label: "invalid_request"},
	{target: support.ErrTicketNotFound, status: http.StatusNotFound, label: "not_found"},
	{target: registration.ErrInvalidRequest, status: http.StatusBadRequest, label: "invalid_request"},
}

func errorBody(label string, code string) gin.H {
	return gin.H{"error": label, "code": code}
}

// classifyError maps a service error onto a status, a label and the service code.
func classifyError(err error) (int, string, string) {
	code := ""
	var coded codedError
	if errors.As(err, &coded) {
		code = coded.Code()
	}
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.target) {
			return mapping.status, mapping.label, code
		}
	}
	return http.StatusInternalServerError, "internal_error", code
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	status, label, code := classifyError(err)
	body := errorBody(label, code)
	if status < http.StatusInternalServerError {
		body["message"] = err.Error()
	} else {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("code", code),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, body)
}

func (h *httpHandler) respondInvalidRequest(c *gin.Context, code string, err error) {
	body := errorBody("invalid_request", code)
	if err != nil {
		body["message"] = err.Error()
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, body)
}
