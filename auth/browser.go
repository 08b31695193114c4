package auth

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/browserutils/kooky"
	_ "github.com/browserutils/kooky/browser/all" // Import all browser cookie stores
	"github.com/browserutils/kooky/browser/firefox"
)

// BrowserSource reads session cookies from browser cookie stores.
type BrowserSource struct {
	logger *slog.Logger
}

// NewBrowserSource creates a new browser cookie source.
func NewBrowserSource(logger *slog.Logger) *BrowserSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &BrowserSource{logger: logger}
}

// Cookies returns session cookies for the given domain from browser stores.
func (s *BrowserSource) Cookies(ctx context.Context, domain string) (map[string]string, error) {
	if domain == "" {
		return nil, nil //nolint:nilnil // no cookies without a domain is not an error
	}

	// Try Firefox profiles first (including Developer Edition)
	cookies := s.tryFirefoxProfiles(ctx, domain)
	if len(cookies) > 0 {
		return cookies, nil
	}

	// Fall back to kooky's automatic browser detection
	kookies, err := kooky.ReadCookies(ctx, kooky.Valid, kooky.DomainHasSuffix(domain))
	if err != nil {
		s.logger.Debug("failed to read browser cookies", "domain", domain, "error", err)
		return nil, nil //nolint:nilnil // failed browser read is not a fatal error
	}

	if len(kookies) == 0 {
		return nil, nil //nolint:nilnil // no browser cookies is not an error
	}

	return s.filterEssentialCookies(kookies), nil
}

// tryFirefoxProfiles attempts to read cookies from Firefox profiles.
func (s *BrowserSource) tryFirefoxProfiles(ctx context.Context, domain string) map[string]string {
	home := os.Getenv("HOME")
	if home == "" {
		return nil
	}

	dir := filepath.Join(home, "Library", "Application Support", "Firefox", "Profiles")
	pattern := filepath.Join(dir, "*", "cookies.sqlite")
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		return nil
	}

	for _, f := range matches {
		kookies, err := firefox.ReadCookies(ctx, f, kooky.Valid, kooky.DomainHasSuffix(domain))
		if err == nil && len(kookies) > 0 {
			s.logger.Debug("found Firefox cookies",
				"profile", filepath.Base(filepath.Dir(f)),
				"domain", domain,
				"count", len(kookies))
			return s.filterEssentialCookies(kookies)
		}
	}

	return nil
}

// filterEssentialCookies extracts only the session cookies worth forwarding.
func (s *BrowserSource) filterEssentialCookies(kookies []*kooky.Cookie) map[string]string {
	result := make(map[string]string)
	for _, c := range kookies {
		for _, name := range essentialCookies {
			if c.Name == name && c.Value != "" {
				result[c.Name] = c.Value
			}
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
