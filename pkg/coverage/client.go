package coverage

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// Client uploads coverage reports to the reporting service. Auth tokens are
// cached for the configured TTL; transport failures and server errors are
// retried with a fixed delay, bounded by the configured attempt count.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger

	mu           sync.Mutex
	token        string
	tokenFetched time.Time
}

// UploadResult describes an accepted coverage report.
type UploadResult struct {
	ReportID string `json:"report_id"`
	URL      string `json:"url,omitempty"`
}

// NewClient creates a coverage client from a validated configuration.
func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: config.ConnectTimeout}).DialContext,
	}

	tlsConfig := &tls.Config{InsecureSkipVerify: !config.SSLVerify} //nolint:gosec // per configuration

	if config.SSLCert != "" {
		pem, err := os.ReadFile(config.SSLCert)
		if err != nil {
			return nil, fmt.Errorf("failed to read SSL certificate %s: %w", config.SSLCert, err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", config.SSLCert)
		}

		tlsConfig.RootCAs = pool
	}

	transport.TLSClientConfig = tlsConfig

	return &Client{
		config: config,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   config.RequestTimeout,
		},
		logger: logger.With("module", "coverage_client"),
	}, nil
}

// Upload sends the coverage report file to the service. The flags map is
// forwarded as report metadata (e.g. the matrix combination the report was
// collected on).
func (c *Client) Upload(ctx context.Context, reportPath string, flags map[string]string) (*UploadResult, error) {
	report, err := os.ReadFile(reportPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read coverage report %s: %w", reportPath, err)
	}

	token, err := c.authToken(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]any{
		"report": string(report),
		"flags":  flags,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode upload payload: %w", err)
	}

	body, err := c.doWithRetry(ctx, http.MethodPost, c.endpoint("reports"), payload, token)
	if err != nil {
		return nil, err
	}

	var result UploadResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}

	c.logger.Info("Coverage report uploaded",
		"report", reportPath,
		"report_id", result.ReportID)

	return &result, nil
}

// authToken returns the cached token while it is fresh, fetching a new one
// from the auth endpoint otherwise.
func (c *Client) authToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Since(c.tokenFetched) < c.config.TokenCacheTTL {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("auth/token"), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create auth request: %w", err)
	}

	req.SetBasicAuth(c.config.Username, c.config.Password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth request rejected with status %d", resp.StatusCode)
	}

	var issued struct {
		Token string `json:"token"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&issued); err != nil {
		return "", fmt.Errorf("failed to decode auth response: %w", err)
	}

	if issued.Token == "" {
		return "", fmt.Errorf("auth response contained no token")
	}

	c.token = issued.Token
	c.tokenFetched = time.Now()

	return c.token, nil
}

func (c *Client) doWithRetry(ctx context.Context, method, url string, payload []byte, token string) ([]byte, error) {
	attempts := max(c.config.MaxRetries, 1)

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			c.logger.Info("Retrying coverage upload",
				"attempt", attempt,
				"max_attempts", attempts)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)

			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			lastErr = fmt.Errorf("server error (status %d), retrying", resp.StatusCode)

			continue
		}

		if readErr != nil {
			return nil, fmt.Errorf("failed to read response body: %w", readErr)
		}

		if resp.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("upload rejected with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}

		return body, nil
	}

	return nil, fmt.Errorf("all retry attempts failed, last error: %w", lastErr)
}

func (c *Client) endpoint(suffix string) string {
	return strings.TrimSuffix(c.config.APIURL, "/") + "/" + suffix
}
