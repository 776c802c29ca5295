package wallet

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
)

// LoadWallets reads the credential file and, when proxyPath is non-empty, the
// proxy file, and assigns proxies to wallets by position (index modulo proxy
// count). An empty credential list is the one fatal startup condition.
func LoadWallets(walletPath, proxyPath string) ([]*Wallet, error) {
	keys, err := readLines(walletPath)
	if err != nil {
		return nil, fmt.Errorf("read wallet file: %w", err)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("wallet file %s contains no credentials", walletPath)
	}

	var proxies []*url.URL
	if proxyPath != "" {
		lines, err := readLines(proxyPath)
		if err != nil {
			return nil, fmt.Errorf("read proxy file: %w", err)
		}
		proxies = make([]*url.URL, 0, len(lines))
		for i, line := range lines {
			u, err := ParseProxyURL(line)
			if err != nil {
				return nil, fmt.Errorf("proxy file line %d: %w", i+1, err)
			}
			proxies = append(proxies, u)
		}
	}

	wallets := make([]*Wallet, 0, len(keys))
	for i, key := range keys {
		w, err := NewWallet(i, key)
		if err != nil {
			return nil, fmt.Errorf("wallet file line %d: %w", i+1, err)
		}
		if len(proxies) > 0 {
			w.Proxy = proxies[i%len(proxies)]
		}
		wallets = append(wallets, w)
	}
	return wallets, nil
}

// ParseProxyURL parses and validates a proxy endpoint of the form
// scheme://[user:pass@]host:port with scheme http, https or socks5.
func ParseProxyURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https", "socks5":
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q (want http, https or socks5)", u.Scheme)
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil || host == "" || port == "" {
		return nil, fmt.Errorf("proxy URL %q must carry host:port", raw)
	}
	return u, nil
}

// readLines returns the trimmed non-empty lines of a file.
func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}
