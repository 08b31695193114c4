// Package auth provides session cookie management for same-origin feed API
// lookups. Lookups work unauthenticated; cookies only widen what the remote
// endpoints will return.
package auth

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/url"
)

// essentialCookies are the session cookie names worth forwarding to the feed
// origin.
var essentialCookies = []string{"_session_id", "remember_user_token"}

// NewCookieJar creates an http.CookieJar populated with the given cookies
// for a domain.
func NewCookieJar(domain string, cookies map[string]string) (*cookiejar.Jar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse("https://" + domain)
	if err != nil {
		return nil, err
	}

	var httpCookies []*http.Cookie
	for name, value := range cookies {
		if value != "" {
			httpCookies = append(httpCookies, &http.Cookie{
				Name:   name,
				Value:  value,
				Domain: "." + domain,
				Path:   "/",
			})
		}
	}

	jar.SetCookies(u, httpCookies)
	return jar, nil
}

// Source represents a source of session cookies.
type Source interface {
	// Cookies returns cookies for the given domain, or nil if unavailable.
	Cookies(ctx context.Context, domain string) (map[string]string, error)
}

// ChainSources returns cookies from the first source that provides them.
func ChainSources(ctx context.Context, domain string, sources ...Source) (map[string]string, error) {
	for _, src := range sources {
		cookies, err := src.Cookies(ctx, domain)
		if err != nil {
			return nil, err
		}
		if len(cookies) > 0 {
			return cookies, nil
		}
	}
	return nil, nil //nolint:nilnil // no source had cookies, but this is not an error
}
