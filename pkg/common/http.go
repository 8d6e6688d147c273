package common

import (
	_ "embed"
	"net/http"
	"strings"
	"time"
)

//go:embed VERSION
var version string

// Version returns the bridge version embedded at build time.
func Version() string {
	return strings.TrimSpace(version)
}

// UserAgent is sent with every outbound request to the cloud API.
func UserAgent() string {
	return "SolarkBridge/" + Version()
}

type userAgentTransport struct {
	transport http.RoundTripper
	userAgent string
}

// RoundTrip sets the User-Agent on a clone of req so callers can reuse the
// original request across retries.
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.transport.RoundTrip(req)
}

// HTTPClient returns a default http client with a default user-agent set
func HTTPClient(timeout time.Duration) *http.Client {
	return WrapClient(&http.Client{Timeout: timeout})
}

// WrapClient installs the user-agent transport on c, keeping whatever
// transport it already had (tests pass httptest clients through here).
func WrapClient(c *http.Client) *http.Client {
	base := c.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	if _, ok := base.(*userAgentTransport); ok {
		return c
	}
	return &http.Client{
		Transport: &userAgentTransport{
			transport: base,
			userAgent: UserAgent(),
		},
		Timeout:       c.Timeout,
		CheckRedirect: c.CheckRedirect,
		Jar:           c.Jar,
	}
}
