// Package cli API client helpers. This file implements HTTP client
// functionality with API key authentication for CLI commands that talk to a
// running recondor daemon.
package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/anstrom/recondor/internal/config"
)

// HTTP status code constants
const (
	StatusBadRequest          = 400
	StatusUnauthorized        = 401
	StatusForbidden           = 403
	StatusNotFound            = 404
	StatusTooManyRequests     = 429
	StatusInternalServerError = 500
)

// APIClient provides authenticated HTTP client functionality for CLI commands
type APIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	userAgent  string
}

// APIError represents an API error response
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("API error (status %d, request %s): %s", e.StatusCode, e.RequestID, e.Message)
	}
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// NewAPIClient creates a new API client from the loaded configuration. The
// API key is optional; the daemon only enforces it when one is configured.
func NewAPIClient() (*APIClient, error) {
	cfg, err := config.Load(getConfigFilePath())
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	baseURL := fmt.Sprintf("http://%s/api/v1", cfg.GetAPIAddress())

	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:    10,
			IdleConnTimeout: 30 * time.Second,
		},
	}

	return &APIClient{
		baseURL:    baseURL,
		apiKey:     getAPIKeyFromSources(),
		httpClient: httpClient,
		userAgent:  "recondor-cli/" + version,
	}, nil
}

// getAPIKeyFromSources retrieves the API key from environment variables.
func getAPIKeyFromSources() string {
	if key := os.Getenv("RECONDOR_API_KEY"); key != "" {
		return key
	}

	if keyFile := os.Getenv("RECONDOR_API_KEY_FILE"); keyFile != "" {
		// Basic validation to prevent obvious path traversal
		if !strings.Contains(keyFile, "..") {
			// #nosec G304 - intentional file reading for API key configuration
			if keyData, err := os.ReadFile(keyFile); err == nil {
				return strings.TrimSpace(string(keyData))
			}
		}
	}

	return ""
}

// Get performs a GET request to the specified endpoint
func (c *APIClient) Get(endpoint string, out interface{}) error {
	return c.request(http.MethodGet, endpoint, nil, out)
}

// Post performs a POST request with JSON payload
func (c *APIClient) Post(endpoint string, payload, out interface{}) error {
	return c.request(http.MethodPost, endpoint, payload, out)
}

// Delete performs a DELETE request
func (c *APIClient) Delete(endpoint string) error {
	return c.request(http.MethodDelete, endpoint, nil, nil)
}

// request performs the actual HTTP request with authentication and decodes
// the JSON response into out when out is non-nil.
func (c *APIClient) request(method, endpoint string, payload, out interface{}) error {
	url := c.baseURL + endpoint

	var requestBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request payload: %w", err)
		}
		requestBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequest(method, url, requestBody)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= StatusBadRequest {
		return c.errorFromResponse(resp, bodyBytes)
	}

	if out != nil && len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// errorFromResponse builds an APIError from an error status response.
func (c *APIClient) errorFromResponse(resp *http.Response, body []byte) error {
	var errResp struct {
		Error     string `json:"error"`
		Message   string `json:"message"`
		RequestID string `json:"request_id"`
	}
	_ = json.Unmarshal(body, &errResp)

	msg := errResp.Error
	if msg == "" {
		msg = errResp.Message
	}
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d error", resp.StatusCode)
	}
	if errResp.RequestID == "" {
		errResp.RequestID = resp.Header.Get("X-Request-ID")
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    msg,
		RequestID:  errResp.RequestID,
	}
}

// TestConnection tests the API connection and authentication
func (c *APIClient) TestConnection() error {
	if err := c.Get("/health", nil); err != nil {
		return fmt.Errorf("API connection test failed: %w", err)
	}
	return nil
}

// mustCreateAPIClient creates an API client or exits with error
func mustCreateAPIClient() *APIClient {
	client, err := NewAPIClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return client
}

// handleAPIError provides user-friendly error handling for API errors
func handleAPIError(err error, operation string) {
	if apiErr, ok := err.(*APIError); ok {
		switch apiErr.StatusCode {
		case StatusUnauthorized:
			fmt.Fprintf(os.Stderr, "Error: Authentication failed for %s\n", operation)
			fmt.Fprintf(os.Stderr, "Set RECONDOR_API_KEY to the key configured on the daemon.\n")
		case StatusForbidden:
			fmt.Fprintf(os.Stderr, "Error: Insufficient permissions for %s\n", operation)
		case StatusNotFound:
			fmt.Fprintf(os.Stderr, "Error: Resource not found for %s\n", operation)
		case StatusTooManyRequests:
			fmt.Fprintf(os.Stderr, "Error: Rate limit exceeded for %s\n", operation)
			fmt.Fprintf(os.Stderr, "Please wait a moment and try again.\n")
		case StatusInternalServerError:
			fmt.Fprintf(os.Stderr, "Error: Server error during %s\n", operation)
			if apiErr.RequestID != "" {
				fmt.Fprintf(os.Stderr, "Please report this issue with request ID: %s\n", apiErr.RequestID)
			}
		default:
			fmt.Fprintf(os.Stderr, "Error: %s failed: %s\n", operation, apiErr.Message)
		}
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s failed: %v\n", operation, err)
		fmt.Fprintf(os.Stderr, "Is the recondor daemon running? Start it with 'recondor daemon start'.\n")
	}
}

// WithAPIClient is a helper for commands that need API access
func WithAPIClient(operation string, fn func(*APIClient) error) error {
	client := mustCreateAPIClient()

	if err := fn(client); err != nil {
		handleAPIError(err, operation)
		return err
	}

	return nil
}
