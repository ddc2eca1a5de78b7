// Package fetch issues single bill lookups against the vendor portals and
// classifies their outcome.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"billbatch/pkg/billref"
	"billbatch/pkg/extract"
	"billbatch/pkg/session"
)

var (
	billRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bill_requests_total",
		Help: "Total bill fetch requests by portal and status",
	}, []string{"portal", "status"})

	billRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bill_request_duration_seconds",
		Help:    "Bill fetch duration in seconds by portal",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15},
	}, []string{"portal"})

	billErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bill_errors_total",
		Help: "Total bill fetch errors by class",
	}, []string{"class"})
)

// Browser-shaped headers the electric portal expects; anything plainer gets
// served an error page.
var electricHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Accept-Language":           "en-US,en;q=0.9",
	"Cache-Control":             "no-cache",
	"Pragma":                    "no-cache",
	"Upgrade-Insecure-Requests": "1",
	"User-Agent":                "Mozilla/5.0 (Linux; Android 6.0; Nexus 5 Build/MRA58N) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Mobile Safari/537.36",
}

const gasUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// Config holds the fetcher configuration.
type Config struct {
	// ElectricBillURL is the electric portal lookup endpoint; the
	// reference is passed as the refno query parameter.
	ElectricBillURL string

	// ElectricReferer is sent with electric lookups.
	ElectricReferer string

	// GasBillURL is the gas portal viewbill endpoint.
	GasBillURL string

	// Timeout per bill fetch (default 15s). Exceeding it fails only
	// that item, never its siblings.
	Timeout time.Duration
}

// Result is the outcome of one bill lookup.
type Result struct {
	Reference billref.Reference
	Amount    float64
	RawText   string
	Err       error
}

// Success reports whether the lookup resolved the bill, including bills
// that genuinely owe nothing.
func (r Result) Success() bool {
	return r.Err == nil
}

// Fetcher issues one portal request per reference under a shared session.
type Fetcher struct {
	httpClient      *http.Client
	electricBillURL string
	electricReferer string
	gasBillURL      string
	timeout         time.Duration
	logger          zerolog.Logger
}

// New creates a bill fetcher.
func New(cfg Config) (*Fetcher, error) {
	if cfg.ElectricBillURL == "" || cfg.GasBillURL == "" {
		return nil, fmt.Errorf("electric and gas bill urls are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &Fetcher{
		// Per-request deadlines come from the context; the client
		// itself stays unbounded.
		httpClient:      &http.Client{},
		electricBillURL: cfg.ElectricBillURL,
		electricReferer: cfg.ElectricReferer,
		gasBillURL:      cfg.GasBillURL,
		timeout:         cfg.Timeout,
		logger:          log.With().Str("component", "bill-fetcher").Logger(),
	}, nil
}

// Fetch looks up one bill. The session is read, never mutated.
func (f *Fetcher) Fetch(ctx context.Context, ref billref.Reference, sess *session.Session) Result {
	start := time.Now()
	defer func() {
		billRequestDuration.WithLabelValues(string(ref.Kind)).Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var (
		body string
		err  error
	)
	switch ref.Kind {
	case billref.Electric:
		body, err = f.fetchElectric(ctx, ref.Number, sess)
	case billref.Gas:
		body, err = f.fetchGas(ctx, ref.Number, sess)
	default:
		err = &PortalError{Class: ErrorClassHTTP, Message: fmt.Sprintf("unknown bill kind %q", ref.Kind)}
	}

	if err != nil {
		err = f.classify(err)
		billErrorsTotal.WithLabelValues(string(Classify(err))).Inc()
		f.logger.Debug().
			Err(err).
			Str("reference", ref.Number).
			Str("portal", string(ref.Kind)).
			Msg("Bill fetch failed")
		return Result{Reference: ref, Err: err}
	}

	// Even on HTTP 200 a response that does not echo the reference is a
	// stale or mismatched page and cannot be trusted.
	if !strings.Contains(body, ref.Number) {
		billErrorsTotal.WithLabelValues(string(ErrorClassNotFound)).Inc()
		return Result{Reference: ref, Err: &PortalError{
			Class:   ErrorClassNotFound,
			Message: "Reference not found",
			Err:     ErrReferenceNotFound,
		}}
	}

	var (
		amount  float64
		raw     string
		matched bool
	)
	switch ref.Kind {
	case billref.Electric:
		amount, raw, matched = extract.Electric(body)
	case billref.Gas:
		amount, raw, matched = extract.Gas(body, ref.Number)
	}

	if !matched {
		billErrorsTotal.WithLabelValues(string(ErrorClassExtraction)).Inc()
		return Result{Reference: ref, Err: &PortalError{
			Class:   ErrorClassExtraction,
			Message: "Could not extract amount",
			Err:     ErrExtraction,
		}}
	}

	billRequestsTotal.WithLabelValues(string(ref.Kind), "ok").Inc()
	return Result{Reference: ref, Amount: amount, RawText: raw}
}

func (f *Fetcher) fetchElectric(ctx context.Context, number string, sess *session.Session) (string, error) {
	lookupURL := f.electricBillURL + "?refno=" + url.QueryEscape(number)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, lookupURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	for key, value := range electricHeaders {
		req.Header.Set(key, value)
	}
	if f.electricReferer != "" {
		req.Header.Set("Referer", f.electricReferer)
	}
	if sess != nil {
		req.Header.Set("Cookie", sess.Cookie)
	}

	return f.do(req, billref.Electric)
}

func (f *Fetcher) fetchGas(ctx context.Context, number string, sess *session.Session) (string, error) {
	if sess == nil {
		return "", &PortalError{Class: ErrorClassCaptcha, Message: "no session", Err: ErrInvalidCaptcha}
	}

	form := url.Values{
		"proc":       {"viewbill"},
		"consumer":   {number},
		"contype":    {"NewCon"},
		"txtCaptcha": {sess.CaptchaText},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.gasBillURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", gasUserAgent)
	req.Header.Set("Cookie", sess.Cookie)

	body, err := f.do(req, billref.Gas)
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(body) == session.InvalidCaptchaBody {
		return "", &PortalError{Class: ErrorClassCaptcha, Message: "Invalid Captcha", Err: ErrInvalidCaptcha}
	}

	return body, nil
}

func (f *Fetcher) do(req *http.Request, portal billref.Kind) (string, error) {
	resp, err := f.httpClient.Do(req)
	if err != nil {
		billRequestsTotal.WithLabelValues(string(portal), "network_error").Inc()
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		billRequestsTotal.WithLabelValues(string(portal), fmt.Sprintf("%d", resp.StatusCode)).Inc()
		return "", &PortalError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassHTTP,
			Message:    fmt.Sprintf("HTTP %d", resp.StatusCode),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	return string(data), nil
}

// classify wraps transport errors into PortalErrors; already-classified
// errors pass through.
func (f *Fetcher) classify(err error) error {
	var perr *PortalError
	if errors.As(err, &perr) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &PortalError{Class: ErrorClassTimeout, Message: "Timeout", Err: ErrTimeout}
	}

	return &PortalError{Class: ErrorClassNetwork, Message: "request failed", Err: err}
}
