// Package puppet drives the renderer page in a controlled browser so
// commands can run as scripts directly in the scene.
package puppet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

var ErrClosed = errors.New("puppet page closed")

type Config struct {
	// URL is the renderer page to open.
	URL string
	// ControlURL attaches to a running browser instead of launching one.
	ControlURL string
	Headless   bool
	ChromeBin  string
	// LoadTimeout bounds launching, navigation and the initial load.
	LoadTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = 30 * time.Second
	}
	if c.URL == "" {
		c.URL = "about:blank"
	}
	return c
}

// Page is a puppeted renderer page. It implements the dispatcher's
// direct-execution capability.
type Page struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	page     *rod.Page
	mu       sync.RWMutex
	closed   bool
}

// Open launches (or attaches to) a browser and loads cfg.URL in a stealth page.
func Open(ctx context.Context, cfg Config) (*Page, error) {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithTimeout(ctx, cfg.LoadTimeout)
	defer cancel()

	p := &Page{}
	controlURL := cfg.ControlURL
	if controlURL == "" {
		// Disable leakless; some environments block its helper binary.
		l := launcher.New().
			Leakless(false).
			Headless(cfg.Headless).
			Set("no-sandbox")
		if cfg.ChromeBin != "" {
			l = l.Bin(cfg.ChromeBin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		p.launcher = l
		controlURL = u
	}

	p.browser = rod.New().ControlURL(controlURL)
	if err := p.browser.Connect(); err != nil {
		p.cleanup()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	page, err := stealth.Page(p.browser)
	if err != nil {
		p.cleanup()
		return nil, fmt.Errorf("open page: %w", err)
	}
	p.page = page

	if err := page.Context(ctx).Navigate(cfg.URL); err != nil {
		p.cleanup()
		return nil, fmt.Errorf("navigate %s: %w", cfg.URL, err)
	}
	if err := page.Context(ctx).WaitLoad(); err != nil {
		p.cleanup()
		return nil, fmt.Errorf("wait load %s: %w", cfg.URL, err)
	}

	slog.Info("renderer page ready", "url", cfg.URL, "attached", cfg.ControlURL != "")
	return p, nil
}

// Evaluate runs script, a JavaScript function definition, with args and
// returns its JSON-decoded result.
func (p *Page) Evaluate(ctx context.Context, script string, args ...any) (any, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed || p.page == nil {
		return nil, ErrClosed
	}
	obj, err := p.page.Context(ctx).Eval(script, args...)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	return obj.Value.Val(), nil
}

// Alive reports whether the page target still exists.
func (p *Page) Alive(ctx context.Context) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed || p.page == nil {
		return false
	}
	_, err := p.page.Context(ctx).Info()
	return err == nil
}

// Close closes the browser (or detaches from it) and releases the launcher.
func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.cleanup()
}

func (p *Page) cleanup() error {
	var err error
	if p.browser != nil {
		if p.launcher != nil {
			err = p.browser.Close()
		} else if p.page != nil {
			err = p.page.Close()
		}
	}
	if p.launcher != nil {
		p.launcher.Cleanup()
	}
	return err
}
