package client

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const streamEventHeartbeat = "heartbeat"

type streamPayload struct {
	UserID    string `json:"user_id"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Source    string `json:"source"`
}

// Listen consumes the server's auth event stream until ctx is cancelled or the
// stream ends. USER_UPDATED is re-emitted to listeners; SIGNED_OUT clears the
// stored session first. It returns nil when ctx is cancelled and
// ErrStreamClosed when the server closes the stream.
func (c *AuthClient) Listen(ctx context.Context) error {
	current, err := c.cachedSession()
	if err != nil {
		return err
	}
	if current == nil {
		return ErrNoSession
	}

	request, err := c.transport.newRequest(ctx, http.MethodGet, "/auth/v1/events", current.AccessToken, nil)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "text/event-stream")
	response, err := c.streamClient.Do(request)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return decodeAPIError(response)
	}

	c.logger.Debug("auth event stream connected", zap.String("user_id", current.User.ID))
	scanner := bufio.NewScanner(response.Body)
	var eventType string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if eventType != "" || data.Len() > 0 {
				c.handleStreamEvent(current.User.ID, eventType, data.String())
			}
			eventType = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return ErrStreamClosed
}

func (c *AuthClient) handleStreamEvent(userID string, eventType string, data string) {
	var payload streamPayload
	if data != "" {
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			c.logger.Warn("auth event payload malformed", zap.String("event", eventType), zap.Error(err))
			return
		}
	}
	if payload.Type != "" {
		eventType = payload.Type
	}
	if payload.UserID != "" && payload.UserID != userID {
		c.logger.Warn("auth event for another user ignored", zap.String("event", eventType))
		return
	}

	switch eventType {
	case streamEventHeartbeat:
		return
	case EventUserUpdated:
		current, err := c.cachedSession()
		if err != nil || current == nil {
			return
		}
		c.emit(EventUserUpdated, current)
	case EventSignedOut:
		if err := c.discard(); err != nil {
			c.logger.Warn("failed to clear stored session", zap.Error(err))
		}
		c.emit(EventSignedOut, nil)
	default:
		c.logger.Debug("auth event ignored", zap.String("event", eventType))
	}
}
