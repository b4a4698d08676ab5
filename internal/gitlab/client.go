package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// TokenSource supplies the personal access token attached to every request.
// It is consulted per call so a token written by `glwatch login` is picked up
// without restarting a long-running watcher.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

// Config holds configuration for creating a Client.
type Config struct {
	// BaseURL is the instance root, e.g. "https://git.example.com".
	BaseURL string

	Tokens TokenSource

	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Client issues GraphQL and REST requests against a GitLab instance. It does
// not retry; each call site decides how to degrade on failure.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client. The token is not checked here: a missing token
// surfaces as ErrNoToken on the first request.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("gitlab: base URL is required")
	}
	if !strings.HasPrefix(baseURL, "https://") && !strings.HasPrefix(baseURL, "http://") {
		return nil, fmt.Errorf("gitlab: base URL must be http(s), got %q", baseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	tokens := cfg.Tokens
	if tokens == nil {
		tokens = StaticToken("")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    baseURL,
		tokens:     tokens,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// BaseURL returns the instance root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Query posts a GraphQL document and decodes the "data" member into out.
// A response carrying a top-level "errors" array is a *GraphQLError even on
// HTTP 200.
func (c *Client) Query(ctx context.Context, document string, variables map[string]any, out any) error {
	body, err := c.do(ctx, http.MethodPost, c.baseURL+"/api/graphql", graphQLRequest{Query: document, Variables: variables})
	if err != nil {
		return err
	}

	var resp graphQLResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("gitlab: decode graphql response: %w", err)
	}
	if len(resp.Errors) > 0 {
		gqlErr := &GraphQLError{}
		for _, e := range resp.Errors {
			gqlErr.Messages = append(gqlErr.Messages, e.Message)
		}
		return gqlErr
	}
	if out == nil || len(resp.Data) == 0 || string(resp.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("gitlab: decode graphql data: %w", err)
	}
	return nil
}

// Get issues a REST GET against /api/v4 and decodes the JSON body into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	body, err := c.do(ctx, http.MethodGet, c.restURL(path), nil)
	if err != nil {
		return err
	}
	return decodeInto(body, out)
}

// Post issues a REST POST against /api/v4 with a JSON body and decodes the
// response into out (which may be nil).
func (c *Client) Post(ctx context.Context, path string, requestBody any, out any) error {
	body, err := c.do(ctx, http.MethodPost, c.restURL(path), requestBody)
	if err != nil {
		return err
	}
	return decodeInto(body, out)
}

func (c *Client) restURL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + "/api/v4" + path
}

func decodeInto(body []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("gitlab: decode response: %w", err)
	}
	return nil
}

// do executes an authenticated request and returns the raw body. Non-2xx
// responses become *APIError.
func (c *Client) do(ctx context.Context, method, url string, requestBody any) ([]byte, error) {
	token := c.tokens.Token()
	if token == "" {
		return nil, ErrNoToken
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("gitlab: encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("gitlab: create request: %w", err)
	}
	req.Header.Set("PRIVATE-TOKEN", token)
	req.Header.Set("Accept", "application/json")
	if requestBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gitlab: %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gitlab: read response body: %w", err)
	}

	c.logger.Debug("gitlab request",
		"method", method,
		"url", url,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: ExtractErrorMessage(body)}
	}
	return body, nil
}
