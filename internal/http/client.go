// Package http builds the HTTP clients used to reach the run-management
// server: proxy selection, connection pooling and HTTP/2 tuning.
package http

import (
	"crypto/tls"
	nethttp "net/http"
	"os"

	"golang.org/x/net/http2"

	"github.com/seqlab/run-uploader/internal/config"
	"github.com/seqlab/run-uploader/internal/constants"
)

var lookupEnv = os.Getenv

// CreateOptimizedClient returns a client for streaming sequence files.
//
// It starts from ConfigureHTTPClient and then:
//   - disables compression (fastq.gz is already compressed)
//   - waits up to HTTPResponseHeaderTimeout after the body is sent, since
//     the server checksums large files before answering
//   - negotiates HTTP/2 unless DISABLE_HTTP2=true or a proxy is in the path
//     (FORCE_HTTP2=true overrides the proxy check)
//
// A nil cfg reads proxy settings from the environment.
func CreateOptimizedClient(cfg *config.Config) (*nethttp.Client, error) {
	var baseClient *nethttp.Client
	if cfg != nil {
		var err error
		baseClient, err = ConfigureHTTPClient(cfg)
		if err != nil {
			return nil, err
		}
	} else {
		baseClient = &nethttp.Client{Transport: &nethttp.Transport{Proxy: nethttp.ProxyFromEnvironment}}
	}
	baseClient.Timeout = 0

	// NTLM wraps the transport in a Negotiator; keep it as configured.
	tr, ok := baseClient.Transport.(*nethttp.Transport)
	if !ok {
		return baseClient, nil
	}

	tr.IdleConnTimeout = constants.HTTPIdleConnTimeout
	tr.ResponseHeaderTimeout = constants.HTTPResponseHeaderTimeout
	tr.DisableCompression = true
	tr.ForceAttemptHTTP2 = true
	_ = http2.ConfigureTransport(tr)

	if lookupEnv("DISABLE_HTTP2") == "true" ||
		(proxyActive(cfg) && lookupEnv("FORCE_HTTP2") != "true") {
		disableHTTP2(tr)
	}
	return baseClient, nil
}

func disableHTTP2(tr *nethttp.Transport) {
	tr.ForceAttemptHTTP2 = false
	tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
}
