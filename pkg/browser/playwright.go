package browser

import (
	"fmt"
	"io"
	"time"

	"github.com/playwright-community/playwright-go"
)

// playwrightLauncher is the default Launcher, driving headless Chromium
// through Playwright.
type playwrightLauncher struct {
	pw *playwright.Playwright
}

// NewPlaywrightLauncher creates the default production launcher.
func NewPlaywrightLauncher() Launcher {
	return &playwrightLauncher{}
}

func (l *playwrightLauncher) Start() error {
	if l.pw != nil {
		return nil
	}

	// Discard driver output so it cannot interleave with caller logging.
	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	l.pw = pw
	return nil
}

func (l *playwrightLauncher) Launch() (Session, error) {
	if l.pw == nil {
		return nil, fmt.Errorf("launcher not started")
	}

	headless := true
	browser, err := l.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &headless,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	context, err := browser.NewContext()
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := context.NewPage()
	if err != nil {
		context.Close()
		browser.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	return &playwrightSession{
		browser: browser,
		context: context,
		page:    page,
	}, nil
}

func (l *playwrightLauncher) Stop() error {
	if l.pw == nil {
		return nil
	}
	if err := l.pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	l.pw = nil
	return nil
}

// playwrightSession wraps one browser + context + page triple.
type playwrightSession struct {
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
}

func (s *playwrightSession) Navigate(url string, opts NavigateOptions) (*RenderResult, error) {
	gotoOpts := playwright.PageGotoOptions{}

	if opts.WaitUntil != "" {
		waitUntil := playwright.WaitUntilState(opts.WaitUntil)
		gotoOpts.WaitUntil = &waitUntil
	}
	if opts.Timeout > 0 {
		timeoutMs := float64(opts.Timeout / time.Millisecond)
		gotoOpts.Timeout = &timeoutMs
	}

	resp, err := s.page.Goto(url, gotoOpts)
	if err != nil {
		return nil, fmt.Errorf("navigation failed: %w", err)
	}

	html, err := s.page.Content()
	if err != nil {
		return nil, fmt.Errorf("failed to capture page content: %w", err)
	}

	result := &RenderResult{
		HTML:       html,
		StatusCode: 200, // about:blank and same-document navigations carry no response
		Headers:    map[string]string{},
		FinalURL:   s.page.URL(),
	}
	if resp != nil {
		result.StatusCode = resp.Status()
		if headers := resp.Headers(); headers != nil {
			result.Headers = headers
		}
	}
	return result, nil
}

func (s *playwrightSession) Close() error {
	// Ignore page/context errors, continue cleanup.
	_ = s.page.Close()
	_ = s.context.Close()
	if err := s.browser.Close(); err != nil {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}
