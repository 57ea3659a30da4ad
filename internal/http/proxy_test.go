package http

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"

	ntlmssp "github.com/Azure/go-ntlmssp"

	"github.com/seqlab/run-uploader/internal/config"
)

func TestProxyFuncWithBypass(t *testing.T) {
	proxyURL, _ := url.Parse("http://proxy.lab:3128")

	tests := []struct {
		name       string
		noProxy    string
		url        string
		wantBypass bool
	}{
		{"empty list proxies everything", "", "https://irida.example.org/api", false},
		{"wildcard domain", "*.example.org", "https://irida.example.org/api", true},
		{"bare domain matches subdomains", "example.org", "https://irida.example.org/api", true},
		{"cidr", "10.0.0.0/8", "http://10.1.2.3:8080/api", true},
		{"non-matching host", "*.internal.lab,10.0.0.0/8", "https://irida.example.org/api", false},
		{"list with spaces", "*.example.com, 192.168.0.0/16, sequencer.lab", "https://sequencer.lab/status", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, tt.url, nil)
			result, err := proxyFuncWithBypass(proxyURL, tt.noProxy)(req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantBypass && result != nil {
				t.Errorf("expected bypass for %s, got %v", tt.url, result)
			}
			if !tt.wantBypass {
				if result == nil {
					t.Fatalf("expected proxy for %s, got direct", tt.url)
				}
				if result.Host != "proxy.lab:3128" {
					t.Errorf("proxy host = %s", result.Host)
				}
			}
		})
	}
}

func TestBuildProxyURL(t *testing.T) {
	tests := []struct {
		name string
		p    config.ProxyConfig
		want string
	}{
		{"default port", config.ProxyConfig{Host: "proxy.lab"}, "http://proxy.lab:8080"},
		{"explicit port", config.ProxyConfig{Host: "proxy.lab", Port: 3128}, "http://proxy.lab:3128"},
		{"credentials", config.ProxyConfig{Host: "proxy.lab", Port: 3128, User: "u", Password: "p"}, "http://u:p@proxy.lab:3128"},
		{"user without password", config.ProxyConfig{Host: "proxy.lab", User: "u"}, "http://proxy.lab:8080"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildProxyURL(tt.p).String(); got != tt.want {
				t.Errorf("buildProxyURL() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNeedsProxyPassword(t *testing.T) {
	tests := []struct {
		mode, user, password string
		want                 bool
	}{
		{config.ProxyModeNone, "u", "", false},
		{config.ProxyModeSystem, "u", "", false},
		{config.ProxyModeBasic, "u", "", true},
		{config.ProxyModeNTLM, "u", "", true},
		{config.ProxyModeNTLM, "u", "p", false},
		{config.ProxyModeBasic, "", "", false},
	}
	for _, tt := range tests {
		cfg := config.NewConfig()
		cfg.Proxy = config.ProxyConfig{Mode: tt.mode, Host: "proxy.lab", User: tt.user, Password: tt.password}
		if got := NeedsProxyPassword(cfg); got != tt.want {
			t.Errorf("NeedsProxyPassword(%s, %q, %q) = %v, want %v", tt.mode, tt.user, tt.password, got, tt.want)
		}
	}
}

func TestConfigureHTTPClient_Modes(t *testing.T) {
	cfg := config.NewConfig()

	client, err := ConfigureHTTPClient(cfg)
	if err != nil {
		t.Fatalf("no-proxy: %v", err)
	}
	if tr := client.Transport.(*http.Transport); tr.Proxy != nil {
		t.Error("no-proxy mode should not set a proxy func")
	}

	cfg.Proxy = config.ProxyConfig{Mode: config.ProxyModeNTLM, Host: "proxy.lab", Port: 3128}
	client, err = ConfigureHTTPClient(cfg)
	if err != nil {
		t.Fatalf("ntlm: %v", err)
	}
	if _, ok := client.Transport.(ntlmssp.Negotiator); !ok {
		t.Errorf("ntlm mode transport = %T, want ntlmssp.Negotiator", client.Transport)
	}

	cfg.Proxy = config.ProxyConfig{Mode: config.ProxyModeBasic}
	client, err = ConfigureHTTPClient(cfg)
	if err != nil {
		t.Fatalf("basic without host: %v", err)
	}
	if tr := client.Transport.(*http.Transport); tr.Proxy != nil {
		t.Error("basic mode without host should fall back to direct")
	}

	cfg.Proxy = config.ProxyConfig{Mode: "socks"}
	if _, err := ConfigureHTTPClient(cfg); err == nil {
		t.Error("unsupported mode should fail")
	}
}

func TestConfigureHTTPClient_Warmup(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.NewConfig()
	cfg.Server.BaseURL = srv.URL
	cfg.Proxy = config.ProxyConfig{Mode: config.ProxyModeSystem, Warmup: true}
	if _, err := ConfigureHTTPClient(cfg); err != nil {
		t.Fatalf("ConfigureHTTPClient() error = %v", err)
	}
	if hits != 1 {
		t.Errorf("warmup hits = %d, want 1", hits)
	}
}

func TestCreateOptimizedClient_HTTP2Toggles(t *testing.T) {
	env := map[string]string{}
	lookupEnv = func(k string) string { return env[k] }
	defer func() { lookupEnv = os.Getenv }()

	h2Enabled := func(c *http.Client) bool {
		tr := c.Transport.(*http.Transport)
		return tr.ForceAttemptHTTP2 && len(tr.TLSNextProto) > 0
	}

	cfg := config.NewConfig()
	client, err := CreateOptimizedClient(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !h2Enabled(client) {
		t.Error("HTTP/2 should be negotiated by default")
	}
	if tr := client.Transport.(*http.Transport); !tr.DisableCompression || tr.ResponseHeaderTimeout == 0 {
		t.Error("upload tuning not applied")
	}

	env["DISABLE_HTTP2"] = "true"
	client, _ = CreateOptimizedClient(cfg)
	if h2Enabled(client) {
		t.Error("DISABLE_HTTP2 should force HTTP/1.1")
	}
	delete(env, "DISABLE_HTTP2")

	cfg.Proxy = config.ProxyConfig{Mode: config.ProxyModeBasic, Host: "proxy.lab"}
	client, _ = CreateOptimizedClient(cfg)
	if h2Enabled(client) {
		t.Error("HTTP/2 should be off behind a proxy")
	}

	env["FORCE_HTTP2"] = "true"
	client, _ = CreateOptimizedClient(cfg)
	if !h2Enabled(client) {
		t.Error("FORCE_HTTP2 should re-enable HTTP/2 behind a proxy")
	}
}
