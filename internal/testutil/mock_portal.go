// Package testutil provides testing utilities for the bill batch fetcher.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// MockCaptchaText is the CAPTCHA solution the mock gas portal accepts.
const MockCaptchaText = "X7Q2"

// MockSessionID is the JSESSIONID value the mock portal issues.
const MockSessionID = "mock-session"

// MockPortal is a configurable stand-in for both vendor billing portals.
//
// Electric endpoints:
//
//	GET  /iescobill          entry page, issues session cookies
//	POST /iescobill/general  bill lookup via refno query parameter
//
// Gas endpoints:
//
//	GET  /login.jsp          login page with CAPTCHA image, issues JSESSIONID
//	GET  /captcha.png        CAPTCHA image, requires the session cookie
//	POST /viewbill           bill lookup form, requires solved CAPTCHA
type MockPortal struct {
	server *httptest.Server

	mu            sync.RWMutex
	handlers      map[string]http.HandlerFunc
	electricBills map[string]string // reference -> amount text
	gasBills      map[string]string // consumer -> amount text
	failures      map[string]*failure

	// RequestCount tracks all requests across endpoints.
	RequestCount int
}

type failure struct {
	remaining int
	status    int
}

// NewMockPortal starts a mock portal server.
func NewMockPortal() *MockPortal {
	m := &MockPortal{
		handlers:      make(map[string]http.HandlerFunc),
		electricBills: make(map[string]string),
		gasBills:      make(map[string]string),
		failures:      make(map[string]*failure),
	}

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.RequestCount++
		m.mu.Unlock()

		m.mu.RLock()
		handler, exists := m.handlers[r.URL.Path]
		m.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		m.defaultHandler(w, r)
	}))

	return m
}

// URL returns the mock portal base URL.
func (m *MockPortal) URL() string {
	return m.server.URL
}

// Close shuts down the mock portal.
func (m *MockPortal) Close() {
	m.server.Close()
}

// SetHandler overrides the handler for a path.
func (m *MockPortal) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetElectricBill registers an electric bill served for a reference.
func (m *MockPortal) SetElectricBill(reference, amountText string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.electricBills[reference] = amountText
}

// SetGasBill registers a gas bill served for a consumer number.
func (m *MockPortal) SetGasBill(consumer, amountText string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gasBills[consumer] = amountText
}

// FailLookups makes the next n lookups for a reference answer with the
// given HTTP status before serving the registered bill normally.
func (m *MockPortal) FailLookups(reference string, n, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[reference] = &failure{remaining: n, status: status}
}

// GetRequestCount returns the number of requests served.
func (m *MockPortal) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// shouldFail consumes one injected failure for a reference, if any.
func (m *MockPortal) shouldFail(reference string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.failures[reference]
	if !ok || f.remaining <= 0 {
		return 0, false
	}
	f.remaining--
	return f.status, true
}

func (m *MockPortal) defaultHandler(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/iescobill":
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: MockSessionID, Path: "/"})
		http.SetCookie(w, &http.Cookie{Name: "lb", Value: "node1", Path: "/"})
		fmt.Fprint(w, "<html><body>electric portal</body></html>")

	case "/iescobill/general":
		reference := r.URL.Query().Get("refno")
		if status, fail := m.shouldFail(reference); fail {
			w.WriteHeader(status)
			return
		}

		m.mu.RLock()
		amount, ok := m.electricBills[reference]
		m.mu.RUnlock()
		if !ok {
			// Portal answers 200 with a generic page for unknown refs.
			fmt.Fprint(w, "<html><body>No record found</body></html>")
			return
		}
		fmt.Fprint(w, ElectricBillHTML(reference, amount))

	case "/login.jsp":
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: MockSessionID, Path: "/"})
		fmt.Fprint(w, `<html><body><form><input id="consumer"/><img id="captchaimg" src="/captcha.png"/></form></body></html>`)

	case "/captcha.png":
		if c, err := r.Cookie("JSESSIONID"); err != nil || c.Value != MockSessionID {
			http.Error(w, "no session", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		fmt.Fprint(w, "mock-captcha-image")

	case "/viewbill":
		if !strings.EqualFold(r.FormValue("txtCaptcha"), MockCaptchaText) {
			fmt.Fprint(w, "Invalid Captcha")
			return
		}

		consumer := r.FormValue("consumer")
		if status, fail := m.shouldFail(consumer); fail {
			w.WriteHeader(status)
			return
		}

		m.mu.RLock()
		amount, ok := m.gasBills[consumer]
		m.mu.RUnlock()
		if !ok {
			fmt.Fprint(w, "<html><body>No record found</body></html>")
			return
		}
		fmt.Fprint(w, GasBillHTML(consumer, amount))

	default:
		http.NotFound(w, r)
	}
}

// ElectricBillHTML renders a minimal electric portal bill page.
func ElectricBillHTML(reference, amountText string) string {
	return fmt.Sprintf(`<html><body><table>
<tr><td><b>REFERENCE NO</b></td><td class="content">%s</td></tr>
<tr><td><b>CURRENT BILL</b></td><td class="nestedtd2width content">%s</td></tr>
</table></body></html>`, reference, amountText)
}

// GasBillHTML renders a minimal gas portal bill page: the amount sits two
// table rows below the consumer number row.
func GasBillHTML(consumer, amountText string) string {
	return fmt.Sprintf(`<html><body><table>
<tr><td>Consumer</td><td>%s</td></tr>
<tr><td>Billing Month</td><td>Current</td></tr>
<tr><td>%s</td><td>due date</td></tr>
</table></body></html>`, consumer, amountText)
}
