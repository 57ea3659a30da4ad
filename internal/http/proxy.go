package http

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	nethttp "net/http"
	"net/url"
	"strings"
	"time"

	ntlmssp "github.com/Azure/go-ntlmssp"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http/httpproxy"

	"github.com/seqlab/run-uploader/internal/config"
	"github.com/seqlab/run-uploader/internal/constants"
)

const defaultProxyPort = 8080

// ConfigureHTTPClient builds a client honouring cfg.Proxy.
func ConfigureHTTPClient(cfg *config.Config) (*nethttp.Client, error) {
	transport := &nethttp.Transport{
		DialContext: (&net.Dialer{
			Timeout:   constants.HTTPDialTimeout,
			KeepAlive: constants.HTTPDialKeepAlive,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       constants.HTTPIdleConnTimeout,
		TLSHandshakeTimeout:   constants.HTTPTLSHandshakeTimeout,
		ExpectContinueTimeout: constants.HTTPExpectContinueTimeout,
	}
	client := &nethttp.Client{Transport: transport}

	p := cfg.Proxy
	switch strings.ToLower(p.Mode) {
	case config.ProxyModeNone, "":
		transport.Proxy = nil
		return client, nil

	case config.ProxyModeSystem:
		transport.Proxy = nethttp.ProxyFromEnvironment

	case config.ProxyModeNTLM:
		if p.Host == "" {
			log.Warn().Msg("Proxy mode is ntlm but host is missing, falling back to no-proxy mode")
			return client, nil
		}
		transport.Proxy = proxyFuncWithBypass(buildProxyURL(p), p.NoProxy)
		client.Transport = ntlmssp.Negotiator{RoundTripper: transport}

	case config.ProxyModeBasic:
		if p.Host == "" {
			log.Warn().Msg("Proxy mode is basic but host is missing, falling back to no-proxy mode")
			return client, nil
		}
		transport.Proxy = proxyFuncWithBypass(buildProxyURL(p), p.NoProxy)
		if p.User != "" && p.Password == "" {
			log.Warn().Msg("Proxy user configured but password missing, proxy auth disabled")
		}

	default:
		return nil, fmt.Errorf("unsupported proxy mode: %s", p.Mode)
	}

	if p.Warmup && !NeedsProxyPassword(cfg) {
		if err := warmupProxy(client, cfg.Server.BaseURL); err != nil {
			return nil, fmt.Errorf("proxy warmup failed: %w", err)
		}
	}
	return client, nil
}

// buildProxyURL embeds credentials only when both user and password are set.
func buildProxyURL(p config.ProxyConfig) *url.URL {
	port := p.Port
	if port == 0 {
		port = defaultProxyPort
	}
	proxyURL := &url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(p.Host, fmt.Sprintf("%d", port)),
	}
	if p.User != "" && p.Password != "" {
		proxyURL.User = url.UserPassword(p.User, p.Password)
	}
	return proxyURL
}

// warmupProxy sends one GET through the proxy so NTLM handshakes happen
// before the first upload.
func warmupProxy(client *nethttp.Client, baseURL string) error {
	if baseURL == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, baseURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("warmup request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("warmup request returned server error: %d", resp.StatusCode)
	}
	return nil
}

// proxyFuncWithBypass returns a proxy function that respects the NoProxy bypass list.
// If noProxy is empty, behaves identically to nethttp.ProxyURL.
func proxyFuncWithBypass(proxyURL *url.URL, noProxy string) func(*nethttp.Request) (*url.URL, error) {
	if noProxy == "" {
		return nethttp.ProxyURL(proxyURL)
	}
	cfg := httpproxy.Config{
		HTTPProxy:  proxyURL.String(),
		HTTPSProxy: proxyURL.String(),
		NoProxy:    noProxy,
	}
	proxyFunc := cfg.ProxyFunc()
	return func(req *nethttp.Request) (*url.URL, error) {
		result, err := proxyFunc(req.URL)
		if result == nil {
			log.Debug().Str("host", req.URL.Host).Msg("Proxy bypass")
		}
		return result, err
	}
}

// NeedsProxyPassword reports whether an authenticating proxy has a user but
// no password, so the CLI has to prompt for one.
func NeedsProxyPassword(cfg *config.Config) bool {
	mode := strings.ToLower(cfg.Proxy.Mode)
	if mode != config.ProxyModeBasic && mode != config.ProxyModeNTLM {
		return false
	}
	return cfg.Proxy.User != "" && cfg.Proxy.Password == ""
}

// proxyActive reports whether requests will leave through a proxy.
func proxyActive(cfg *config.Config) bool {
	envProxy := func() bool {
		for _, k := range []string{"HTTP_PROXY", "HTTPS_PROXY", "http_proxy", "https_proxy"} {
			if lookupEnv(k) != "" {
				return true
			}
		}
		return false
	}
	if cfg == nil {
		return envProxy()
	}
	switch strings.ToLower(cfg.Proxy.Mode) {
	case config.ProxyModeNone, "":
		return false
	case config.ProxyModeSystem:
		return envProxy()
	default:
		return cfg.Proxy.Host != ""
	}
}
