package noc

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/argusops/argus/internal/config"
	"github.com/argusops/argus/internal/models"
)

// VerifyFilter is the verify request body: the sent payload shape plus the
// userTga fields, always empty on send.
type VerifyFilter struct {
	models.NocPayload
	UserTga1 string `json:"userTga1"`
	UserTga2 string `json:"userTga2"`
	UserTga3 string `json:"userTga3"`
}

// Client talks the NOC wire protocol.
type Client struct {
	httpClient *http.Client
	cfg        config.NocHTTPClientConfig
	logger     *zap.Logger
}

func NewClient(cfg config.NocHTTPClientConfig, logger *zap.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := &http.Transport{}
	if cfg.BypassSslValidation {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	if cfg.ConnectIpAddress != "" {
		// Bypass DNS resolution: every connection goes to the configured
		// address, keeping the original port unless one is configured.
		dialer := &net.Dialer{Timeout: timeout}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			_, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			if cfg.ConnectPort > 0 {
				port = strconv.Itoa(cfg.ConnectPort)
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(cfg.ConnectIpAddress, port))
		}
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		cfg:    cfg,
		logger: logger,
	}
}

// Send posts the payload to the send endpoint. Success is HTTP 200 or 204.
func (c *Client) Send(ctx context.Context, payload models.NocPayload) error {
	resp, err := c.post(ctx, c.cfg.SendEndpoint, payload)
	if err != nil {
		return fmt.Errorf("noc send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("noc send returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Verify posts the filter to the verify endpoint and decodes the single
// payload the receiver reports for it.
func (c *Client) Verify(ctx context.Context, filter VerifyFilter) (models.NocPayload, error) {
	resp, err := c.post(ctx, c.cfg.VerifyEndpoint, filter)
	if err != nil {
		return models.NocPayload{}, fmt.Errorf("noc verify: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return models.NocPayload{}, fmt.Errorf("noc verify returned status %d: %s", resp.StatusCode, string(body))
	}

	var received models.NocPayload
	if err := json.NewDecoder(resp.Body).Decode(&received); err != nil {
		return models.NocPayload{}, fmt.Errorf("noc verify: decode response: %w", err)
	}
	return received, nil
}

func (c *Client) post(ctx context.Context, endpoint string, body any) (*http.Response, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint not configured")
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	return c.httpClient.Do(req)
}

// PayloadsMatch implements the phase-2 comparison: suppression key, level and
// source must be equal; other fields are not required to match.
func PayloadsMatch(sent, received models.NocPayload) bool {
	return sent.SuppressionKey == received.SuppressionKey &&
		sent.Level == received.Level &&
		sent.Source == received.Source
}
