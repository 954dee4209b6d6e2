// Package capture drives a headless browser as the agent's screen: it
// executes UI actions and produces the post-action screenshots the
// verification gate judges.
package capture

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"

	"github.com/visor-agent/visor/pkg/verify"
)

const defaultActionTimeout = 30 * time.Second

// settleDelay gives the page a beat to apply DOM updates before a
// post-action screenshot.
const settleDelay = 250 * time.Millisecond

// Options configures the browser screen.
type Options struct {
	Headless   bool
	ChromePath string
	StartURL   string
	NoSandbox  bool
}

// Screen owns one browser page and captures its state. It implements
// verify.Capturer: consecutive identical screenshots report Changed=false so
// the gate can short-circuit without invoking the judge.
type Screen struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	logger   zerolog.Logger

	mu       sync.Mutex
	page     *rod.Page
	lastHash [sha256.Size]byte
	hasLast  bool
}

// NewScreen launches a browser and opens the start page.
func NewScreen(opts Options, logger zerolog.Logger) (*Screen, error) {
	l := launcher.New().Headless(opts.Headless)
	if opts.ChromePath != "" {
		l = l.Bin(opts.ChromePath)
	}
	if opts.NoSandbox {
		l = l.NoSandbox(true)
	}

	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: opts.StartURL})
	if err != nil {
		_ = browser.Close()
		l.Kill()
		return nil, fmt.Errorf("open page: %w", err)
	}

	return &Screen{
		browser:  browser,
		launcher: l,
		logger:   logger,
		page:     page,
	}, nil
}

// Close tears down the page and browser process.
func (s *Screen) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.browser != nil {
		err = s.browser.Close()
		s.browser = nil
	}
	if s.launcher != nil {
		s.launcher.Kill()
		s.launcher = nil
	}
	return err
}

// CaptureAfterAction screenshots the page and reports whether the screen
// changed since the previous capture.
func (s *Screen) CaptureAfterAction(ctx context.Context, hint string) (*verify.Capture, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(settleDelay):
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page == nil {
		return nil, fmt.Errorf("screen is closed")
	}

	data, err := s.page.Context(ctx).Screenshot(false, nil)
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}

	hash := sha256.Sum256(data)
	changed := !s.hasLast || hash != s.lastHash
	s.lastHash = hash
	s.hasLast = true

	s.logger.Debug().Str("hint", hint).Bool("changed", changed).Int("bytes", len(data)).Msg("Screen captured")

	return &verify.Capture{
		Image:     data,
		MediaType: "image/png",
		Changed:   changed,
	}, nil
}

func (s *Screen) actionPage(ctx context.Context) (*rod.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return nil, fmt.Errorf("screen is closed")
	}
	return s.page.Context(ctx).Timeout(defaultActionTimeout), nil
}

// Navigate loads a URL and waits for the page to settle.
func (s *Screen) Navigate(ctx context.Context, url string) error {
	page, err := s.actionPage(ctx)
	if err != nil {
		return err
	}
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait for load: %w", err)
	}
	return nil
}

// Click left-clicks the first element matching the selector.
func (s *Screen) Click(ctx context.Context, selector string) error {
	page, err := s.actionPage(ctx)
	if err != nil {
		return err
	}
	elem, err := page.Element(selector)
	if err != nil {
		return fmt.Errorf("element not found: %s", selector)
	}
	if err := elem.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// Type inputs text into the first element matching the selector.
func (s *Screen) Type(ctx context.Context, selector, text string) error {
	page, err := s.actionPage(ctx)
	if err != nil {
		return err
	}
	elem, err := page.Element(selector)
	if err != nil {
		return fmt.Errorf("element not found: %s", selector)
	}
	if err := elem.Input(text); err != nil {
		return fmt.Errorf("type into %s: %w", selector, err)
	}
	return nil
}

// Scroll scrolls the page by the given offsets.
func (s *Screen) Scroll(ctx context.Context, dx, dy float64) error {
	page, err := s.actionPage(ctx)
	if err != nil {
		return err
	}
	if err := page.Mouse.Scroll(dx, dy, 1); err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	return nil
}

var keyNames = map[string]input.Key{
	"enter":     input.Enter,
	"tab":       input.Tab,
	"escape":    input.Escape,
	"backspace": input.Backspace,
	"delete":    input.Delete,
	"space":     input.Space,
	"arrowup":   input.ArrowUp,
	"arrowdown": input.ArrowDown,
	"pageup":    input.PageUp,
	"pagedown":  input.PageDown,
}

// Hotkey presses a named key, e.g. "enter" or "escape".
func (s *Screen) Hotkey(ctx context.Context, name string) error {
	key, ok := keyNames[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("unknown key: %s", name)
	}
	page, err := s.actionPage(ctx)
	if err != nil {
		return err
	}
	if err := page.Keyboard.Type(key); err != nil {
		return fmt.Errorf("press %s: %w", name, err)
	}
	return nil
}

// ReadText extracts visible text from the page body.
func (s *Screen) ReadText(ctx context.Context) (string, error) {
	page, err := s.actionPage(ctx)
	if err != nil {
		return "", err
	}
	result, err := page.Eval(`() => document.body.innerText`)
	if err != nil {
		return "", fmt.Errorf("read page text: %w", err)
	}
	return result.Value.String(), nil
}
