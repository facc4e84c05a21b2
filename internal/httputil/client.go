package httputil

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/nnfz/stretch-host/internal/logging"
)

var log = logging.L("httputil")

// UserAgent is sent on every outbound request. main overrides the version
// suffix at startup.
var UserAgent = "stretch-host/dev"

// ConfigError reports that an HTTP client could not be constructed.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return "failed to build HTTP client: " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewClient builds a client that follows at most maxRedirects redirects and
// fails the request once the cap is exceeded. The client has no overall
// timeout; requests are bounded only by their context.
func NewClient(maxRedirects int) (*http.Client, error) {
	if maxRedirects < 0 {
		return nil, &ConfigError{Err: fmt.Errorf("negative redirect limit %d", maxRedirects)}
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if _, err := http2.ConfigureTransports(transport); err != nil {
		return nil, &ConfigError{Err: err}
	}

	return &http.Client{
		Transport:     &userAgentTransport{base: transport},
		CheckRedirect: redirectPolicy(maxRedirects),
	}, nil
}

func redirectPolicy(maxRedirects int) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) > maxRedirects {
			log.Debug("redirect limit reached", "url", req.URL.Redacted(), "limit", maxRedirects)
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	}
}

type userAgentTransport struct {
	base http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", UserAgent)
	return t.base.RoundTrip(clone)
}
