package wallet

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	xproxy "golang.org/x/net/proxy"
)

// HTTPClientFor builds an *http.Client routed through the wallet's proxy.
// A nil proxy yields a direct client.
func HTTPClientFor(proxyURL *url.URL) (*http.Client, error) {
	transport := &http.Transport{
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
	}

	switch {
	case proxyURL == nil:
	case proxyURL.Scheme == "http" || proxyURL.Scheme == "https":
		transport.Proxy = http.ProxyURL(proxyURL)
	case proxyURL.Scheme == "socks5":
		dialer, err := xproxy.FromURL(proxyURL, xproxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("socks5 proxy %s: %w", proxyURL.Host, err)
		}
		cd, ok := dialer.(xproxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks5 proxy %s: dialer does not support contexts", proxyURL.Host)
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return cd.DialContext(ctx, network, addr)
		}
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", proxyURL.Scheme)
	}

	return &http.Client{Transport: transport}, nil
}
