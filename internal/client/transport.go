package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultHTTPTimeout = 15 * time.Second
	maxErrorBodyBytes  = 64 << 10
	jsonContentType    = "application/json"
)

type transport struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func newTransport(baseURL string, httpClient *http.Client, logger *zap.Logger) (transport, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return transport{}, errors.New("client: base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return transport{}, fmt.Errorf("client: invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return transport{baseURL: baseURL, httpClient: httpClient, logger: logger}, nil
}

func (t transport) newRequest(ctx context.Context, method string, path string, token string, body any) (*http.Request, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("client: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", jsonContentType)
	}
	request.Header.Set("Accept", jsonContentType)
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	return request, nil
}

// do sends the request and decodes a 2xx JSON body into out when out is non-nil.
func (t transport) do(ctx context.Context, method string, path string, token string, body any, out any) error {
	request, err := t.newRequest(ctx, method, path, token, body)
	if err != nil {
		return err
	}
	response, err := t.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return decodeAPIError(response)
	}
	if out == nil || response.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, response.Body)
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(response *http.Response) error {
	apiErr := &APIError{StatusCode: response.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
	if len(data) > 0 {
		_ = json.Unmarshal(data, apiErr)
	}
	if apiErr.Label == "" {
		apiErr.Label = strings.ToLower(strings.ReplaceAll(http.StatusText(response.StatusCode), " ", "_"))
	}
	return apiErr
}
