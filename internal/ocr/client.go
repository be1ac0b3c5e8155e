// Package ocr converts PDF documents to text through the OCR.space parse API.
package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/registry-harvester/internal/harvest"
	"github.com/JakeFAU/registry-harvester/internal/metrics"
)

// ChargeEvent is the metered event recorded before every OCR submission.
const ChargeEvent = "ocr-call"

// TextSeparator joins the text of consecutive parsed results.
const TextSeparator = "\n\n\n"

const maxLoggedBody = 512

var errCharge = errors.New("charge ocr call")

// Config controls the OCR client.
type Config struct {
	Endpoint    string
	APIKey      string
	Language    string
	Timeout     time.Duration
	MaxAttempts int
}

// Client implements harvest.Converter.
type Client struct {
	cfg        Config
	httpClient *http.Client
	meter      harvest.Meter
	retry      harvest.RetryPolicy
	logger     *zap.Logger
}

// New builds a Client. httpClient may be nil.
func New(cfg Config, meter harvest.Meter, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("ocr endpoint is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("ocr api key is required")
	}
	if meter == nil {
		return nil, fmt.Errorf("meter is required")
	}
	if cfg.Language == "" {
		cfg.Language = "cze"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		meter:      meter,
		retry:      chargeAwarePolicy{harvest.NewExponentialRetryPolicy(cfg.MaxAttempts, 500*time.Millisecond, 5*time.Second)},
		logger:     logger.Named("ocr"),
	}, nil
}

// Convert charges one OCR call per attempt and returns the extracted text.
func (c *Client) Convert(ctx context.Context, data []byte) (string, error) {
	return harvest.Retry(ctx, c.retry, func(ctx context.Context, attempt int) (string, error) {
		if err := c.meter.Charge(ctx, ChargeEvent); err != nil {
			return "", fmt.Errorf("%w: %w", errCharge, err)
		}
		text, err := c.submit(ctx, data)
		if err != nil {
			c.logger.Warn("ocr attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			return "", err
		}
		return text, nil
	})
}

func (c *Client) submit(ctx context.Context, data []byte) (string, error) {
	form := url.Values{}
	form.Set("language", c.cfg.Language)
	form.Set("base64Image", "data:application/pdf;base64,"+base64.StdEncoding.EncodeToString(data))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build ocr request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("apikey", c.cfg.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit ocr request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	metrics.ObserveOCRDuration(time.Since(start))
	if err != nil {
		return "", fmt.Errorf("read ocr response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		c.logFailure(resp.StatusCode, body)
		return "", &harvest.StatusError{URL: c.cfg.Endpoint, StatusCode: resp.StatusCode}
	}

	var parsed parseResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.logFailure(resp.StatusCode, body)
		return "", fmt.Errorf("decode ocr response: %w", err)
	}
	if parsed.IsErroredOnProcessing {
		c.logFailure(resp.StatusCode, body)
		return "", fmt.Errorf("ocr processing failed: %s", parsed.errorText())
	}
	if len(parsed.ParsedResults) == 0 {
		c.logFailure(resp.StatusCode, body)
		return "", fmt.Errorf("ocr response has no parsed results")
	}

	texts := make([]string, 0, len(parsed.ParsedResults))
	for _, result := range parsed.ParsedResults {
		texts = append(texts, result.ParsedText)
	}
	return strings.Join(texts, TextSeparator), nil
}

func (c *Client) logFailure(status int, body []byte) {
	if len(body) > maxLoggedBody {
		body = body[:maxLoggedBody]
	}
	c.logger.Error("ocr request failed", zap.Int("status", status), zap.ByteString("body", body))
}

type parseResponse struct {
	ParsedResults []struct {
		ParsedText string `json:"ParsedText"`
	} `json:"ParsedResults"`
	IsErroredOnProcessing bool `json:"IsErroredOnProcessing"`
	// ErrorMessage is a string or a list of strings.
	ErrorMessage json.RawMessage `json:"ErrorMessage"`
}

func (p parseResponse) errorText() string {
	var list []string
	if err := json.Unmarshal(p.ErrorMessage, &list); err == nil && len(list) > 0 {
		return strings.Join(list, "; ")
	}
	var single string
	if err := json.Unmarshal(p.ErrorMessage, &single); err == nil && single != "" {
		return single
	}
	if raw := bytes.TrimSpace(p.ErrorMessage); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		return string(p.ErrorMessage)
	}
	return "unknown error"
}

// chargeAwarePolicy never retries a failed charge.
type chargeAwarePolicy struct {
	harvest.RetryPolicy
}

func (p chargeAwarePolicy) ShouldRetry(err error, attempt int) bool {
	if errors.Is(err, errCharge) {
		return false
	}
	return p.RetryPolicy.ShouldRetry(err, attempt)
}
