package session

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const electricUserAgent = "Mozilla/5.0 (Linux; Android 6.0; Nexus 5 Build/MRA58N) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Mobile Safari/537.36"

// ElectricConfig configures the electric portal session provider.
type ElectricConfig struct {
	// EntryURL is the portal landing page that issues session cookies.
	EntryURL string

	// Timeout per acquisition request.
	Timeout time.Duration
}

// ElectricProvider obtains session cookies from the electric portal entry
// page. The portal has no CAPTCHA, so no verification round trip is needed
// beyond a successful cookie grant.
type ElectricProvider struct {
	entryURL   string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewElectricProvider creates an electric session provider.
func NewElectricProvider(cfg ElectricConfig) (*ElectricProvider, error) {
	if cfg.EntryURL == "" {
		return nil, fmt.Errorf("entry url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &ElectricProvider{
		entryURL:   cfg.EntryURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     log.With().Str("component", "electric-session").Logger(),
	}, nil
}

// Acquire fetches the entry page fresh and collects its session cookies.
// The probe reference is unused: the portal accepts any request that
// carries the cookies.
func (p *ElectricProvider) Acquire(ctx context.Context, probe string) (*Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.entryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", electricUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		sessionAcquisitionsTotal.WithLabelValues("electric", "error").Inc()
		return nil, fmt.Errorf("fetch entry page: %w", err)
	}
	defer resp.Body.Close()

	pairs := make([]string, 0, 2)
	for _, raw := range resp.Header.Values("Set-Cookie") {
		if pair, _, _ := strings.Cut(raw, ";"); pair != "" {
			pairs = append(pairs, pair)
		}
	}

	if len(pairs) == 0 {
		sessionAcquisitionsTotal.WithLabelValues("electric", "no_cookie").Inc()
		return nil, fmt.Errorf("entry page set no cookies")
	}

	sessionAcquisitionsTotal.WithLabelValues("electric", "ok").Inc()
	p.logger.Debug().Int("cookies", len(pairs)).Msg("Acquired electric session")

	return &Session{Cookie: strings.Join(pairs, "; ")}, nil
}
