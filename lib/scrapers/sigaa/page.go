package sigaa

import (
	"context"

	"github.com/chromedp/chromedp"
)

// Page is the slice of browser automation the navigator needs. The
// chromedp-backed implementation is used in production, tests drive the
// state machine with a scripted fake.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string) error
	Click(ctx context.Context, selector string) error
	SetValue(ctx context.Context, selector, value string) error
	Evaluate(ctx context.Context, expression string) error
	HTML(ctx context.Context, selector string) (string, error)
	Back(ctx context.Context) error
}

// Browser owns one headless (or visible) chrome instance. It must be
// released with Close on every exit path.
type Browser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
}

func Launch(ctx context.Context, visible bool) (*Browser, error) {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !visible),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.NoSandbox,
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	// starts the browser process eagerly so launch failures surface
	// here instead of on the first navigation
	err := chromedp.Run(browserCtx)
	if err != nil {
		cancel()
		allocCancel()
		return nil, err
	}
	return &Browser{ctx: browserCtx, cancel: cancel, allocCancel: allocCancel}, nil
}

func (b *Browser) Page() Page {
	return browserPage{ctx: b.ctx}
}

func (b *Browser) Close() {
	b.cancel()
	b.allocCancel()
}

type browserPage struct {
	ctx context.Context
}

func (p browserPage) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(p.ctx, navigationTimeout)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (p browserPage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p browserPage) WaitVisible(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (p browserPage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

func (p browserPage) SetValue(ctx context.Context, selector, value string) error {
	return p.run(ctx, chromedp.SetValue(selector, value, chromedp.ByQuery))
}

func (p browserPage) Evaluate(ctx context.Context, expression string) error {
	return p.run(ctx, chromedp.Evaluate(expression, nil))
}

func (p browserPage) HTML(ctx context.Context, selector string) (string, error) {
	var html string
	err := p.run(ctx, chromedp.OuterHTML(selector, &html, chromedp.ByQuery))
	return html, err
}

func (p browserPage) Back(ctx context.Context) error {
	return p.run(ctx, chromedp.NavigateBack())
}
