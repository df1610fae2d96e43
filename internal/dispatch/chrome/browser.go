// Package chrome implements the link dispatcher with a Chrome/Chromium
// browser driven over the DevTools protocol.
package chrome

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/nhle/redeemer/internal/dispatch"
	"github.com/nhle/redeemer/internal/model"
)

// Launcher starts a local Chrome process per session.
type Launcher struct{}

var _ dispatch.Launcher = Launcher{}

// Open starts the browser and waits until it accepts commands. The
// browser lives until Close is called or ctx is canceled.
func (Launcher) Open(
	ctx context.Context, opts model.BrowserOptions,
) (dispatch.Browser, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocatorOptions(opts)...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// An empty Run starts the process and attaches to the first tab.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, &dispatch.LaunchError{Err: err}
	}

	return &Browser{
		ctx:           browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
	}, nil
}

// allocatorOptions mirrors chromedp's defaults but leaves headless mode to
// the section and suppresses first-run and popup interference.
func allocatorOptions(opts model.BrowserOptions) []chromedp.ExecAllocatorOption {
	out := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	out = append(out,
		chromedp.Flag("headless", opts.Headless),
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-search-engine-choice-screen", true),
		chromedp.Flag("disable-popup-blocking", true),
	)
	if opts.ExecPath != "" {
		out = append(out, chromedp.ExecPath(opts.ExecPath))
	}
	return out
}

// Browser is a running Chrome process.
type Browser struct {
	ctx           context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
}

var _ dispatch.Browser = (*Browser)(nil)

// Navigate loads url in the initial tab.
func (b *Browser) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := chromedp.Run(b.ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	return nil
}

// OpenTab injects window.open for url. The call returns once the script
// has run; the new tab loads in the background.
func (b *Browser) OpenTab(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	script, err := openTabScript(url)
	if err != nil {
		return err
	}

	var opened bool
	if err := chromedp.Run(b.ctx, chromedp.Evaluate(script, &opened, withUserGesture)); err != nil {
		return fmt.Errorf("opening tab for %s: %w", url, err)
	}
	return nil
}

// Close shuts the browser down and waits for the process to exit.
func (b *Browser) Close() error {
	err := chromedp.Cancel(b.ctx)
	b.cancelBrowser()
	b.cancelAlloc()
	if err != nil {
		return fmt.Errorf("closing browser: %w", err)
	}
	return nil
}

// openTabScript builds the expression that opens url in a new tab. The
// URL is embedded as a JSON string literal so quotes cannot break out.
func openTabScript(url string) (string, error) {
	quoted, err := json.Marshal(url)
	if err != nil {
		return "", fmt.Errorf("quoting %s: %w", url, err)
	}
	return fmt.Sprintf(`(window.open(%s, "_blank"), true)`, quoted), nil
}

// withUserGesture marks the evaluation as user initiated so the popup
// blocker lets window.open through.
func withUserGesture(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithUserGesture(true)
}
