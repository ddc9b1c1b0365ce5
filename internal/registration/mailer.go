package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	welcomeSubject     = "Welcome to PWA Burton - Your Temporary Password"
	defaultMailTimeout = 10 * time.Second
	maxErrorBodyBytes  = 4096
)

var (
	ErrMailDelivery      = errors.New("registration: failed to send welcome email")
	errMissingMailAPIURL = errors.New("registration: mail api url required")
	errMissingMailAPIKey = errors.New("registration: mail api key required")
	errMissingMailSender = errors.New("registration: mail sender required")
	welcomeEmailTemplate = template.Must(template.New("welcome").Parse(welcomeEmailHTML))
)

const welcomeEmailHTML = `<h1>Welcome to PWA Burton, {{.FullName}}!</h1>
<p>Your account has been created successfully. Here are your login credentials:</p>
<p><strong>Email:</strong> {{.Email}}</p>
<p><strong>Temporary Password:</strong> {{.TempPassword}}</p>
<p>For security reasons, please change your password after your first login.</p>
<p>Best regards,<br>PWA Burton Team</p>
`

// WelcomeMessage is the content of a welcome email.
type WelcomeMessage struct {
	Email        string
	FullName     string
	TempPassword string
}

// Mailer delivers welcome emails.
type Mailer interface {
	SendWelcome(ctx context.Context, message WelcomeMessage) error
}

// RenderWelcome renders the HTML body of the welcome email.
func RenderWelcome(message WelcomeMessage) (string, error) {
	var body bytes.Buffer
	if err := welcomeEmailTemplate.Execute(&body, message); err != nil {
		return "", err
	}
	return body.String(), nil
}

// ResendMailerConfig configures the HTTP mail API client.
type ResendMailerConfig struct {
	APIURL     string
	APIKey     string
	From       string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// ResendMailer posts welcome emails to a Resend compatible API.
type ResendMailer struct {
	apiURL string
	apiKey string
	from   string
	client *http.Client
	logger *zap.Logger
}

// NewResendMailer validates the configuration and constructs a mailer.
func NewResendMailer(cfg ResendMailerConfig) (*ResendMailer, error) {
	if strings.TrimSpace(cfg.APIURL) == "" {
		return nil, errMissingMailAPIURL
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errMissingMailAPIKey
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errMissingMailSender
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultMailTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResendMailer{apiURL: cfg.APIURL, apiKey: cfg.APIKey, from: cfg.From, client: client, logger: logger}, nil
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type resendResponse struct {
	ID string `json:"id"`
}

// SendWelcome delivers the welcome email.
func (m *ResendMailer) SendWelcome(ctx context.Context, message WelcomeMessage) error {
	html, err := RenderWelcome(message)
	if err != nil {
		return fmt.Errorf("render welcome email: %w", err)
	}
	payload, err := json.Marshal(resendRequest{
		From:    m.from,
		To:      []string{message.Email},
		Subject: welcomeSubject,
		HTML:    html,
	})
	if err != nil {
		return fmt.Errorf("encode welcome email: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build mail request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+m.apiKey)

	response, err := m.client.Do(request)
	if err != nil {
		m.logger.Error("welcome email request failed", zap.String("email", message.Email), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrMailDelivery, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
		m.logger.Error("welcome email rejected",
			zap.String("email", message.Email),
			zap.Int("status", response.StatusCode),
			zap.String("body", string(body)))
		return fmt.Errorf("%w: status %d", ErrMailDelivery, response.StatusCode)
	}

	var decoded resendResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil && !errors.Is(err, io.EOF) {
		m.logger.Warn("welcome email response unreadable", zap.Error(err))
	}
	m.logger.Info("welcome email sent", zap.String("email", message.Email), zap.String("message_id", decoded.ID))
	return nil
}

// LogMailer records welcome emails in the log instead of sending them.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer constructs a mailer that only logs.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

// SendWelcome logs the recipient. The temporary password is never logged.
func (m *LogMailer) SendWelcome(_ context.Context, message WelcomeMessage) error {
	m.logger.Info("welcome email not sent; mail api key not configured",
		zap.String("email", message.Email),
		zap.String("full_name", message.FullName))
	return nil
}
