// Package session acquires short-lived portal sessions: a cookie for the
// electric portal, a cookie plus solved CAPTCHA text for the gas portal.
//
// Sessions are disposable. Every acquisition starts from a fresh entry page
// fetch, nothing is persisted across calls, and a session is shared
// read-only by all concurrent fetches in a wave until it is replaced
// wholesale by a new acquisition.
package session

import (
	"context"
	"errors"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	captchaSolveAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bill_captcha_solve_attempts_total",
		Help: "Total CAPTCHA solve attempts by outcome",
	}, []string{"outcome"})

	sessionAcquisitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bill_session_acquisitions_total",
		Help: "Total session acquisitions by portal and outcome",
	}, []string{"portal", "outcome"})
)

// InvalidCaptchaBody is the exact response body the gas portal returns for
// a request carrying a wrong CAPTCHA solution.
const InvalidCaptchaBody = "Invalid Captcha"

// ErrAcquisitionExhausted is returned when every acquisition round failed
// to produce a verified session.
var ErrAcquisitionExhausted = errors.New("session acquisition attempts exhausted")

// Session is a portal authentication token. Replaced wholesale, never
// mutated after acquisition.
type Session struct {
	// Cookie is the full Cookie header value for bill requests.
	Cookie string

	// CaptchaText is the solved CAPTCHA, empty for portals without one.
	CaptchaText string
}

// Provider acquires a verified session. probe is a known-good reference
// number used for the trial request that validates the session.
type Provider interface {
	Acquire(ctx context.Context, probe string) (*Session, error)
}

// NormalizeCaptcha cleans recognized CAPTCHA text the way the portal
// expects it typed: whitespace removed, uppercased.
func NormalizeCaptcha(text string) string {
	return strings.ToUpper(strings.Join(strings.Fields(text), ""))
}
