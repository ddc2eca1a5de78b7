// Package ocr provides a client for the OCR.space text recognition API,
// used to solve the gas portal's CAPTCHA images.
package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ocrRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bill_ocr_requests_total",
	Help: "Total OCR API requests by outcome",
}, []string{"outcome"})

// DefaultEndpoint is the OCR.space parse endpoint.
const DefaultEndpoint = "https://api.ocr.space/parse/image"

// Config holds the OCR client configuration.
type Config struct {
	// APIKey is the OCR.space API key (required).
	APIKey string

	// Endpoint overrides the API URL (for testing).
	Endpoint string

	// Timeout per recognition call.
	Timeout time.Duration
}

// Client calls the OCR.space image parsing API.
type Client struct {
	httpClient *http.Client
	apiKey     string
	endpoint   string
	logger     zerolog.Logger
}

// New creates an OCR client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("ocr api key is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		apiKey:     cfg.APIKey,
		endpoint:   cfg.Endpoint,
		logger:     log.With().Str("component", "ocr-client").Logger(),
	}, nil
}

// parseImageResponse mirrors the fields we use from the OCR.space reply.
type parseImageResponse struct {
	ParsedResults []struct {
		ParsedText string `json:"ParsedText"`
	} `json:"ParsedResults"`
	IsErroredOnProcessing bool `json:"IsErroredOnProcessing"`
}

// ParseImage submits a PNG image and returns the recognized text.
// An empty string with a nil error means the service recognized nothing.
func (c *Client) ParseImage(ctx context.Context, image []byte) (string, error) {
	encoded := "data:image/png;base64," + base64.StdEncoding.EncodeToString(image)

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	for field, value := range map[string]string{
		"apikey":      c.apiKey,
		"base64Image": encoded,
		"language":    "eng",
		"OCREngine":   "2",
	} {
		if err := form.WriteField(field, value); err != nil {
			return "", fmt.Errorf("build form: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		ocrRequestsTotal.WithLabelValues("network_error").Inc()
		return "", fmt.Errorf("ocr request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		ocrRequestsTotal.WithLabelValues("http_error").Inc()
		return "", fmt.Errorf("ocr request: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read ocr response: %w", err)
	}

	var parsed parseImageResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		ocrRequestsTotal.WithLabelValues("bad_response").Inc()
		return "", fmt.Errorf("decode ocr response: %w", err)
	}

	if parsed.IsErroredOnProcessing || len(parsed.ParsedResults) == 0 {
		ocrRequestsTotal.WithLabelValues("no_text").Inc()
		c.logger.Debug().Msg("OCR returned no parsed results")
		return "", nil
	}

	ocrRequestsTotal.WithLabelValues("ok").Inc()
	return parsed.ParsedResults[0].ParsedText, nil
}
