package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pwaburton/members/internal/auth"
	"github.com/pwaburton/members/internal/members"
	"github.com/pwaburton/members/internal/registration"
	"go.uber.org/zap"
)

const (
	grantTypePassword     = "password"
	grantTypeRefreshToken = "refresh_token"
)

type passwordGrantPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshGrantPayload struct {
	RefreshToken string `json:"refresh_token"`
}

type googleAuthPayload struct {
	IDToken string `json:"id_token"`
}

type updateUserPayload struct {
	Password string `json:"password"`
}

type memberCredentialsPayload struct {
	MemberNumber string `json:"member_number"`
}

type realtimeEventPayload struct {
	UserID    string `json:"user_id"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Source    string `json:"source"`
}

func (h *httpHandler) handleToken(c *gin.Context) {
	switch c.Query("grant_type") {
	case grantTypePassword:
		var request passwordGrantPayload
		if err := c.ShouldBindJSON(&request); err != nil {
			h.respondInvalidRequest(c, "auth.token.invalid_body", err)
			return
		}
		session, err := h.provider.SignInWithPassword(c.Request.Context(), request.Email, request.Password)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
	case grantTypeRefreshToken:
		var request refreshGrantPayload
		if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.RefreshToken) == "" {
			h.respondInvalidRequest(c, "auth.token.invalid_body", err)
			return
		}
		session, err := h.provider.Refresh(c.Request.Context(), request.RefreshToken)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
	default:
		h.respondInvalidRequest(c, "auth.token.unsupported_grant_type", nil)
	}
}

func (h *httpHandler) handleGoogleAuth(c *gin.Context) {
	if h.verifier == nil {
		c.JSON(http.StatusNotImplemented, errorBody("google_sign_in_disabled", "auth.google.disabled"))
		return
	}
	var request googleAuthPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IDToken) == "" {
		h.respondInvalidRequest(c, "auth.google.invalid_body", err)
		return
	}

	claims, err := h.verifier.Verify(c.Request.Context(), request.IDToken)
	if err != nil {
		h.logger.Warn("google token verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, errorBody("unauthorized", "auth.google.invalid_id_token"))
		return
	}

	session, err := h.provider.SignInWithGoogle(c.Request.Context(), claims)
	if err != nil {
		status, label, code := classifyError(err)
		if status == http.StatusInternalServerError {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusUnauthorized, errorBody(label, code))
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	claims := callerClaims(c)
	if err := h.provider.SignOut(c.Request.Context(), claims.SessionID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleGetUser re-verifies the caller against the provider. Any failure is
// reported as 401 so clients treat the session as stale.
func (h *httpHandler) handleGetUser(c *gin.Context) {
	user, err := h.provider.GetUser(c.Request.Context(), callerClaims(c))
	if err != nil {
		status, _, code := classifyError(err)
		if status == http.StatusInternalServerError {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusUnauthorized, errorBody("session_invalid", code))
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *httpHandler) handleUpdateUser(c *gin.Context) {
	var request updateUserPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, "auth.user.invalid_body", err)
		return
	}
	claims := callerClaims(c)
	if err := h.provider.ChangePassword(c.Request.Context(), claims.Subject, request.Password); err != nil {
		h.respondError(c, err)
		return
	}
	user, err := h.provider.GetUser(c.Request.Context(), claims)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	claims := callerClaims(c)
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, claims.Subject)
	defer cleanup()
	realtimeStreamsOpen.Inc()
	defer realtimeStreamsOpen.Dec()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	h.logger.Debug("auth event stream opened", zap.String("user_id", claims.Subject))
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("auth event stream closed", zap.String("user_id", claims.Subject))
			return
		case <-ticker.C:
			if err := h.writeEvent(c, realtimeEventHeartbeat, realtimeEventPayload{
				UserID:    claims.Subject,
				Type:      realtimeEventHeartbeat,
				Timestamp: h.clock().UTC().Unix(),
				Source:    realtimeSourceBackend,
			}); err != nil {
				return
			}
		case message, ok := <-stream:
			if !ok {
				return
			}
			if err := h.writeEvent(c, message.EventType, realtimeEventPayload{
				UserID:    message.UserID,
				Type:      message.EventType,
				Timestamp: message.Timestamp.Unix(),
				Source:    realtimeSourceBackend,
			}); err != nil {
				return
			}
		}
	}
}

func (h *httpHandler) writeEvent(c *gin.Context, eventType string, payload realtimeEventPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", eventType, data); err != nil {
		h.logger.Debug("auth event stream write failed", zap.Error(err))
		return err
	}
	c.Writer.Flush()
	return nil
}

// handleMemberCredentials resolves a member number to the login email and
// stored digest. It is reachable without a session so members can sign in.
func (h *httpHandler) handleMemberCredentials(c *gin.Context) {
	var request memberCredentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.MemberNumber) == "" {
		h.respondInvalidRequest(c, "members.lookup_credentials.invalid_body", err)
		return
	}
	credentials, err := h.members.LookupCredentials(c.Request.Context(), request.MemberNumber)
	if err != nil {
		if errors.Is(err, members.ErrMemberNotFound) {
			h.logger.Info("member credential lookup missed", zap.String("member_number", members.NormalizeMemberNumber(request.MemberNumber)))
		}
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, credentials)
}

func (h *httpHandler) handleSendWelcomeEmail(c *gin.Context) {
	var request registration.Request
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, "registration.register.invalid_body", err)
		return
	}
	response, err := h.registration.Register(c.Request.Context(), request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

var _ auth.EventPublisher = (*RealtimeDispatcher)(nil)
