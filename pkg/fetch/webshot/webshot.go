// Package webshot renders page screenshots with a headless browser.
package webshot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

const (
	viewportWidth  = 1024
	viewportHeight = 1350

	// loadTimeout bounds how long we wait for the page to finish loading.
	// A page that never settles still yields a partial capture.
	loadTimeout = 30 * time.Second

	// settleDelay gives late-rendering pages a chance to paint.
	settleDelay = 5 * time.Second
)

// Renderer captures page screenshots. A fresh browser is launched per
// capture so one wedged page cannot poison later renders.
type Renderer struct {
	log *slog.Logger
}

// NewRenderer builds a screenshot renderer.
func NewRenderer(log *slog.Logger) *Renderer {
	if log == nil {
		log = slog.Default()
	}

	return &Renderer{log: log.With("component", "fetch.webshot")}
}

// Screenshot navigates to url and returns a PNG of the viewport. Load
// timeouts degrade to a best-effort partial capture instead of failing.
func (r *Renderer) Screenshot(ctx context.Context, url string) ([]byte, error) {
	browser := rod.New().Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	defer browser.Close()

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	page = page.Context(ctx)

	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             viewportWidth,
		Height:            viewportHeight,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("set viewport: %w", err)
	}

	if err := page.Timeout(loadTimeout).Navigate(url); err != nil {
		return nil, fmt.Errorf("navigate to %s: %w", url, err)
	}
	if err := page.Timeout(loadTimeout).WaitLoad(); err != nil {
		r.log.Info("Page load timed out, capturing partial screenshot", "url", url)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(settleDelay):
	}

	data, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}

	r.log.Debug("Screenshot captured", "url", url, "bytes", len(data))
	return data, nil
}
