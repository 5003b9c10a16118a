// Package http builds the transport used to reach the embedding service:
// proxy modes, connection pooling, HTTP/2 negotiation and the retry policy.
package http

import (
	"crypto/tls"
	nethttp "net/http"
	"os"

	"golang.org/x/net/http2"

	"github.com/embedlink/embedlink/internal/config"
	"github.com/embedlink/embedlink/internal/logging"
)

// NewClient returns the HTTP client for API calls. It starts from
// ConfigureHTTPClient and enables HTTP/2 when no proxy sits in the way.
//
// DISABLE_HTTP2=true forces HTTP/1.1; FORCE_HTTP2=true keeps HTTP/2 even
// through a proxy.
func NewClient(cfg *config.Config, logger *logging.Logger) (*nethttp.Client, error) {
	client, err := ConfigureHTTPClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	// NTLM wraps the transport; leave it as configured.
	tr, ok := client.Transport.(*nethttp.Transport)
	if !ok {
		return client, nil
	}

	tr.ForceAttemptHTTP2 = true
	_ = http2.ConfigureTransport(tr)

	if os.Getenv("DISABLE_HTTP2") == "true" || (proxyActive(cfg) && os.Getenv("FORCE_HTTP2") != "true") {
		tr.ForceAttemptHTTP2 = false
		tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
	}

	return client, nil
}

// proxyActive reports whether requests may traverse a proxy. Proxies often
// break HTTP/2 streams mid-transfer.
func proxyActive(cfg *config.Config) bool {
	switch cfg.ProxyMode {
	case "no-proxy", "":
		return false
	case "system":
		return os.Getenv("HTTP_PROXY") != "" || os.Getenv("HTTPS_PROXY") != "" ||
			os.Getenv("http_proxy") != "" || os.Getenv("https_proxy") != ""
	default:
		return true
	}
}
