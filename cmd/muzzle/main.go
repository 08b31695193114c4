// Command muzzle evaluates a feed page against the configured blocklists and
// prints the comments it would hide.
//
// Usage:
//
//	muzzle                          # fetch the feed front page
//	muzzle -page saved.html         # evaluate a saved page
//	muzzle -origin https://feed.tld # another feed origin
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"time"

	env "github.com/caarlos0/env/v11"
	"golang.org/x/net/html"

	"github.com/feedtools-dev/muzzle"
	"github.com/feedtools-dev/muzzle/auth"
	"github.com/feedtools-dev/muzzle/badge"
	"github.com/feedtools-dev/muzzle/fetch"
	"github.com/feedtools-dev/muzzle/resolver"
	"github.com/feedtools-dev/muzzle/settings"
)

// envConfig supplies defaults that flags can still override.
type envConfig struct {
	Origin   string `env:"MUZZLE_ORIGIN"   envDefault:"https://mokum.place"`
	Settings string `env:"MUZZLE_SETTINGS"`
	Debug    bool   `env:"MUZZLE_DEBUG"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg envConfig
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}

	origin := flag.String("origin", cfg.Origin, "feed origin URL")
	settingsPath := flag.String("settings", cfg.Settings, "settings database path (default: user config dir)")
	page := flag.String("page", "", "evaluate a saved HTML page instead of fetching the feed")
	debug := flag.Bool("debug", cfg.Debug, "enable debug logging")
	noBrowser := flag.Bool("no-browser", false, "disable reading session cookies from browser stores")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	ctx := context.Background()

	store, err := openSettings(*settingsPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close settings store", "error", err)
		}
	}()

	client, err := sessionClient(ctx, *origin, *noBrowser, logger)
	if err != nil {
		return err
	}

	engine, err := muzzle.New(ctx, *origin,
		muzzle.WithLogger(logger),
		muzzle.WithSettings(store),
		muzzle.WithResolverOptions(resolver.WithHTTPClient(client)),
		muzzle.WithBadgeNotifier(badge.NotifierFunc(func(r badge.Report) error {
			logger.Debug("hidden count changed", "count", r.Count, "users", r.Users)
			return nil
		})),
	)
	if err != nil {
		return err
	}
	defer engine.Close()

	root, err := loadPage(ctx, client, *origin, *page, logger)
	if err != nil {
		return err
	}

	engine.Apply(ctx, root)

	hidden := engine.Hidden()
	sort.Slice(hidden, func(i, j int) bool { return hidden[i].ItemID < hidden[j].ItemID })
	out, err := json.MarshalIndent(hidden, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// openSettings opens the settings store, defaulting to the user config dir.
func openSettings(path string) (*settings.Store, error) {
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("locate config dir: %w", err)
		}
		path = filepath.Join(dir, "muzzle", "settings.db")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create config dir: %w", err)
		}
	}
	return settings.Open(path)
}

// sessionClient builds an HTTP client carrying whatever session cookies the
// environment or the browser stores provide. No cookies is fine; lookups run
// unauthenticated.
func sessionClient(ctx context.Context, origin string, noBrowser bool, logger *slog.Logger) (*http.Client, error) {
	client := fetch.NewClient(10 * time.Second)

	domain := originDomain(origin)
	sources := []auth.Source{auth.EnvSource{}}
	if !noBrowser {
		sources = append(sources, auth.NewBrowserSource(logger))
	}
	cookies, err := auth.ChainSources(ctx, domain, sources...)
	if err != nil {
		logger.Warn("session cookie lookup failed, continuing unauthenticated", "error", err)
		return client, nil
	}
	if len(cookies) == 0 {
		logger.Debug("no session cookies found", "domain", domain)
		return client, nil
	}

	jar, err := auth.NewCookieJar(domain, cookies)
	if err != nil {
		return nil, fmt.Errorf("build cookie jar: %w", err)
	}
	client.Jar = jar
	logger.Debug("session cookies attached", "domain", domain, "count", len(cookies))
	return client, nil
}

func originDomain(origin string) string {
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// loadPage reads the page from disk or fetches the feed front page.
func loadPage(ctx context.Context, client *http.Client, origin, page string, logger *slog.Logger) (*html.Node, error) {
	var body []byte
	if page != "" {
		data, err := os.ReadFile(page)
		if err != nil {
			return nil, fmt.Errorf("read page: %w", err)
		}
		body = data
	} else {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("User-Agent", fetch.UserAgent)
		body, err = fetch.Do(ctx, client, req, logger)
		if err != nil {
			return nil, fmt.Errorf("fetch feed page: %w", err)
		}
	}

	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	return root, nil
}
