package otsarfetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
)

// Driver is the slice of browser automation the Otsar flow needs. Selectors
// starting with "/" are XPath, anything else is CSS.
type Driver interface {
	Open(ctx context.Context, url string) error
	// ClickLink clicks the link whose text equals text, waiting for it.
	ClickLink(ctx context.Context, text string) error
	// WaitLink waits until a link with the given text is visible.
	WaitLink(ctx context.Context, text string) error
	// DismissIfPresent clicks selector when it exists and reports whether it did.
	DismissIfPresent(ctx context.Context, selector string) bool
	// EnterFrame scopes later queries to the index-th iframe of the page.
	EnterFrame(ctx context.Context, index int) error
	// LeaveFrame scopes later queries back to the top document.
	LeaveFrame()
	// Fill clears the element and types value into it.
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	// TableRows returns the cell texts of every row of the table.
	TableRows(ctx context.Context, selector string) ([][]string, error)
	// Close kills the browser.
	Close() error
}

// DriverFactory starts a browser.
type DriverFactory func(ctx context.Context) (Driver, error)

// BrowserOptions configure the chromedp driver.
type BrowserOptions struct {
	Headless bool
	ExecPath string
	// Wait bounds every single browser step.
	Wait time.Duration
}

// ChromeDriver drives a Chrome process through the DevTools protocol.
type ChromeDriver struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	wait        time.Duration
	frame       *cdp.Node
}

// NewChromeFactory returns a factory starting Chrome with opts.
func NewChromeFactory(opts BrowserOptions) DriverFactory {
	return func(ctx context.Context) (Driver, error) {
		return NewChromeDriver(opts)
	}
}

// NewChromeDriver starts a browser.
func NewChromeDriver(opts BrowserOptions) (*ChromeDriver, error) {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts, chromedp.Flag("headless", opts.Headless))
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	// An empty Run starts the browser.
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	wait := opts.Wait
	if wait <= 0 {
		wait = 30 * time.Second
	}
	return &ChromeDriver{ctx: tabCtx, cancelTab: cancelTab, cancelAlloc: cancelAlloc, wait: wait}, nil
}

func (d *ChromeDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stepCtx, cancel := context.WithTimeout(d.ctx, d.wait)
	defer cancel()
	return chromedp.Run(stepCtx, actions...)
}

func (d *ChromeDriver) queryOpts(selector string) []chromedp.QueryOption {
	var opts []chromedp.QueryOption
	if strings.HasPrefix(selector, "/") {
		opts = append(opts, chromedp.BySearch)
	} else {
		opts = append(opts, chromedp.ByQuery)
	}
	if d.frame != nil {
		opts = append(opts, chromedp.FromNode(d.frame))
	}
	return opts
}

func linkXPath(text string) string {
	return fmt.Sprintf("//a[normalize-space(.)='%s']", text)
}

func (d *ChromeDriver) Open(ctx context.Context, url string) error {
	return d.run(ctx, chromedp.Navigate(url))
}

func (d *ChromeDriver) ClickLink(ctx context.Context, text string) error {
	return d.Click(ctx, linkXPath(text))
}

func (d *ChromeDriver) WaitLink(ctx context.Context, text string) error {
	sel := linkXPath(text)
	return d.run(ctx, chromedp.WaitVisible(sel, d.queryOpts(sel)...))
}

func (d *ChromeDriver) DismissIfPresent(ctx context.Context, selector string) bool {
	var nodes []*cdp.Node
	opts := append(d.queryOpts(selector), chromedp.AtLeast(0))
	if err := d.run(ctx, chromedp.Nodes(selector, &nodes, opts...)); err != nil || len(nodes) == 0 {
		return false
	}
	return d.run(ctx, chromedp.MouseClickNode(nodes[0])) == nil
}

func (d *ChromeDriver) EnterFrame(ctx context.Context, index int) error {
	var frames []*cdp.Node
	if err := d.run(ctx, chromedp.Nodes("iframe", &frames, chromedp.ByQueryAll)); err != nil {
		return err
	}
	if index >= len(frames) {
		return fmt.Errorf("page has %d frames, wanted index %d", len(frames), index)
	}
	d.frame = frames[index]
	return nil
}

func (d *ChromeDriver) LeaveFrame() {
	d.frame = nil
}

func (d *ChromeDriver) Fill(ctx context.Context, selector, value string) error {
	opts := d.queryOpts(selector)
	return d.run(ctx,
		chromedp.WaitVisible(selector, opts...),
		chromedp.Clear(selector, opts...),
		chromedp.SendKeys(selector, value, opts...))
}

func (d *ChromeDriver) Click(ctx context.Context, selector string) error {
	return d.run(ctx, chromedp.Click(selector, d.queryOpts(selector)...))
}

const rowsScript = `Array.from(document.querySelectorAll(%q)).map(r => Array.from(r.querySelectorAll('td')).map(c => c.innerText))`

func (d *ChromeDriver) TableRows(ctx context.Context, selector string) ([][]string, error) {
	if strings.HasPrefix(selector, "/") {
		return nil, errors.New("table rows need a CSS selector")
	}
	var rows [][]string
	err := d.run(ctx,
		chromedp.WaitVisible(selector, d.queryOpts(selector)...),
		chromedp.Evaluate(fmt.Sprintf(rowsScript, selector+" tr"), &rows))
	return rows, err
}

func (d *ChromeDriver) Close() error {
	err := chromedp.Cancel(d.ctx)
	d.cancelTab()
	d.cancelAlloc()
	return err
}
