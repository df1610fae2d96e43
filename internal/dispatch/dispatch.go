// Package dispatch defines the browser that opens redemption links.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/redeemer/internal/model"
)

// LandingURL is navigated to before any link tab is opened.
const LandingURL = "https://dondino.de"

// LaunchError indicates the browser session could not be started.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launching browser: %v", e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// IsLaunchError reports whether err (or any error in its chain) is a
// LaunchError.
func IsLaunchError(err error) bool {
	var launchErr *LaunchError
	return errors.As(err, &launchErr)
}

// Launcher starts browser sessions.
type Launcher interface {
	Open(ctx context.Context, opts model.BrowserOptions) (Browser, error)
}

// Browser is one running browser process. Tabs are opened fire-and-forget;
// there is no signal for page load completion.
type Browser interface {
	// Navigate loads url in the initial tab and waits for it.
	Navigate(ctx context.Context, url string) error

	// OpenTab asks the page to open url in a new tab and returns
	// without waiting for the load.
	OpenTab(ctx context.Context, url string) error

	// Close terminates the browser process.
	Close() error
}
