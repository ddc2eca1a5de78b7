package session

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"billbatch/pkg/ocr"
)

const gasUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// GasConfig configures the gas portal session provider.
type GasConfig struct {
	// LoginURL is the portal page that carries the CAPTCHA image and
	// issues the JSESSIONID cookie.
	LoginURL string

	// BillURL is the bill lookup endpoint used for session verification.
	BillURL string

	// OCR solves the CAPTCHA images (required).
	OCR *ocr.Client

	// AttemptsPerRound is the number of parallel acquisition attempts
	// per round (default 5).
	AttemptsPerRound int

	// Rounds is the maximum number of acquisition rounds (default 2).
	Rounds int

	// Timeout per acquisition request.
	Timeout time.Duration
}

// GasProvider solves the gas portal CAPTCHA and returns a verified
// cookie + solved-text pair. Acquisition fires several independent
// attempts in parallel and takes the first one that survives a trial
// bill request; a bounded second round runs if the whole first round
// fails verification.
type GasProvider struct {
	loginURL         string
	billURL          string
	ocr              *ocr.Client
	attemptsPerRound int
	rounds           int
	httpClient       *http.Client
	logger           zerolog.Logger
}

// NewGasProvider creates a gas session provider.
func NewGasProvider(cfg GasConfig) (*GasProvider, error) {
	if cfg.LoginURL == "" || cfg.BillURL == "" {
		return nil, fmt.Errorf("login and bill urls are required")
	}
	if cfg.OCR == nil {
		return nil, fmt.Errorf("ocr client is required")
	}
	if cfg.AttemptsPerRound <= 0 {
		cfg.AttemptsPerRound = 5
	}
	if cfg.Rounds <= 0 {
		cfg.Rounds = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}

	return &GasProvider{
		loginURL:         cfg.LoginURL,
		billURL:          cfg.BillURL,
		ocr:              cfg.OCR,
		attemptsPerRound: cfg.AttemptsPerRound,
		rounds:           cfg.Rounds,
		httpClient:       &http.Client{Timeout: cfg.Timeout},
		logger:           log.With().Str("component", "gas-session").Logger(),
	}, nil
}

// Acquire runs up to Rounds rounds of AttemptsPerRound parallel
// solve-and-verify attempts and returns the first verified session.
func (p *GasProvider) Acquire(ctx context.Context, probe string) (*Session, error) {
	for round := 1; round <= p.rounds; round++ {
		p.logger.Info().
			Int("round", round).
			Int("attempts", p.attemptsPerRound).
			Msg("Starting captcha acquisition round")

		sessions := make([]*Session, p.attemptsPerRound)
		var wg sync.WaitGroup
		for i := 0; i < p.attemptsPerRound; i++ {
			wg.Add(1)
			go func(slot int) {
				defer wg.Done()

				sess, err := p.acquireOnce(ctx)
				if err != nil {
					captchaSolveAttemptsTotal.WithLabelValues("error").Inc()
					p.logger.Debug().Err(err).Msg("Captcha acquisition attempt failed")
					return
				}

				if !p.verify(ctx, sess, probe) {
					captchaSolveAttemptsTotal.WithLabelValues("rejected").Inc()
					p.logger.Debug().Str("captcha", sess.CaptchaText).Msg("Captcha failed verification")
					return
				}

				captchaSolveAttemptsTotal.WithLabelValues("verified").Inc()
				sessions[slot] = sess
			}(i)
		}
		wg.Wait()

		verified := 0
		var winner *Session
		for _, sess := range sessions {
			if sess != nil {
				verified++
				if winner == nil {
					winner = sess
				}
			}
		}

		p.logger.Info().
			Int("round", round).
			Int("verified", verified).
			Int("failed", p.attemptsPerRound-verified).
			Msg("Captcha acquisition round finished")

		if winner != nil {
			sessionAcquisitionsTotal.WithLabelValues("gas", "ok").Inc()
			return winner, nil
		}
	}

	sessionAcquisitionsTotal.WithLabelValues("gas", "exhausted").Inc()
	return nil, ErrAcquisitionExhausted
}

// acquireOnce fetches the login page, solves its CAPTCHA image, and
// returns an unverified session.
func (p *GasProvider) acquireOnce(ctx context.Context) (*Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.loginURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", gasUserAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch login page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch login page: HTTP %d", resp.StatusCode)
	}

	cookie := ""
	for _, c := range resp.Cookies() {
		if c.Name == "JSESSIONID" {
			cookie = c.Name + "=" + c.Value
			break
		}
	}
	if cookie == "" {
		return nil, fmt.Errorf("no JSESSIONID cookie on login page")
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse login page: %w", err)
	}

	src, ok := doc.Find("#captchaimg").Attr("src")
	if !ok || src == "" {
		return nil, fmt.Errorf("captcha image not found on login page")
	}

	image, err := p.fetchCaptchaImage(ctx, src, cookie)
	if err != nil {
		return nil, err
	}

	text, err := p.ocr.ParseImage(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("solve captcha: %w", err)
	}

	solved := NormalizeCaptcha(text)
	if solved == "" {
		return nil, fmt.Errorf("captcha text empty after recognition")
	}

	return &Session{Cookie: cookie, CaptchaText: solved}, nil
}

// fetchCaptchaImage downloads the CAPTCHA image under the session cookie,
// resolving a relative src against the login URL.
func (p *GasProvider) fetchCaptchaImage(ctx context.Context, src, cookie string) ([]byte, error) {
	base, err := url.Parse(p.loginURL)
	if err != nil {
		return nil, fmt.Errorf("parse login url: %w", err)
	}
	ref, err := url.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse captcha src: %w", err)
	}
	imageURL := base.ResolveReference(ref).String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", gasUserAgent)
	req.Header.Set("Cookie", cookie)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch captcha image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch captcha image: HTTP %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// verify makes one trial bill request; a body equal to the invalid-captcha
// sentinel means the solve was wrong.
func (p *GasProvider) verify(ctx context.Context, sess *Session, probe string) bool {
	form := url.Values{
		"proc":       {"viewbill"},
		"consumer":   {probe},
		"contype":    {"NewCon"},
		"txtCaptcha": {sess.CaptchaText},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.billURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", gasUserAgent)
	req.Header.Set("Cookie", sess.Cookie)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false
	}

	return strings.TrimSpace(string(body)) != InvalidCaptchaBody
}
