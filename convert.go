package pagerender

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/page"
)

const defaultWindowStatusTimeout = time.Minute

// Target is what a conversion renders: either a URL (remote, or a local
// file:// URL) or inline markup. Exactly one of the two must be set.
type Target struct {
	URL  string
	HTML string
}

// URLTarget builds a target from a remote or local file URL.
func URLTarget(urlstr string) Target { return Target{URL: urlstr} }

// MarkupTarget builds a target from inline markup.
func MarkupTarget(html string) Target { return Target{HTML: html} }

// validate rejects empty and ambiguous targets up front, as a typed
// configuration error, before any process or protocol work happens.
func (t Target) validate() error {
	switch {
	case t.URL == "" && t.HTML == "":
		return &ConfigurationError{Field: "target", Reason: "neither URL nor markup given"}
	case t.URL != "" && t.HTML != "":
		return &ConfigurationError{Field: "target", Reason: "both URL and markup given"}
	}
	return nil
}

// Sanitizer rewrites a target URL into a cleaned-up artifact URL.
type Sanitizer interface {
	Sanitize(ctx context.Context, urlstr, workDir string) (string, error)
}

// ImageTransformer rewrites a target URL into one whose images have been
// resized or rotated to fit the output.
type ImageTransformer interface {
	Transform(ctx context.Context, urlstr, workDir string) (string, error)
}

// ContentFitter rewrites a target URL into one whose content has been scaled
// to fit the page.
type ContentFitter interface {
	Fit(ctx context.Context, urlstr, workDir string) (string, error)
}

// conversionContext is the per-conversion state: the scoped temporary
// directory, the compiled blacklist, and the URLs exempted from it.
type conversionContext struct {
	target    Target
	tempDir   string
	blacklist *blacklist
	safeURLs  map[string]struct{}
}

func newConversionContext(root string, bl *blacklist, tgt Target) (*conversionContext, error) {
	dir, err := os.MkdirTemp(root, "pagerender-")
	if err != nil {
		return nil, fmt.Errorf("creating conversion temp dir: %w", err)
	}
	return &conversionContext{
		target:    tgt,
		tempDir:   dir,
		blacklist: bl,
		safeURLs:  make(map[string]struct{}),
	}, nil
}

// allow exempts an exact URL from blacklist blocking. Used for locally
// generated intermediate artifacts, which must stay reachable regardless of
// blacklist rules.
func (c *conversionContext) allow(urlstr string) {
	c.safeURLs[urlstr] = struct{}{}
}

// cleanup removes the scoped temp directory unless keep is set. Cleanup
// errors are logged, never escalated: a successful render is not invalidated
// by a failed deletion.
func (c *conversionContext) cleanup(keep bool, logger *Logger) {
	if keep {
		logger.Infof("cleanup", "keeping temp files in %s", c.tempDir)
		return
	}
	if err := os.RemoveAll(c.tempDir); err != nil {
		logger.Warnf("cleanup", "removing %s: %v", c.tempDir, err)
	}
}

// Converter renders web pages to PDF or raster images by driving a headless
// browser over its remote-debugging protocol. A Converter owns its browser
// process exclusively and reuses it serially across conversions; call Dispose
// to terminate it. Converters are safe for use from multiple goroutines, with
// conversions serialized internally.
type Converter struct {
	launcher *Launcher
	logger   *Logger

	timeout             time.Duration
	mediaLoadTimeout    time.Duration
	windowStatus        string
	windowStatusTimeout time.Duration
	script              string
	blacklist           *blacklist
	trafficLogging      bool
	snapshotSink        io.Writer
	keepTempFiles       bool
	tempRoot            string

	sanitizer        Sanitizer
	imageTransformer ImageTransformer
	contentFitter    ContentFitter

	// convMu serializes conversions: no two protocol commands for the same
	// converter are ever in flight concurrently.
	convMu sync.Mutex
}

// NewConverter creates a converter with the given options.
func NewConverter(opts ...Option) (*Converter, error) {
	c := &Converter{
		logger:              NullLogger(),
		windowStatusTimeout: defaultWindowStatusTimeout,
	}
	c.launcher = NewLauncher(c.logger)
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	c.launcher.logger = c.logger
	return c, nil
}

// ConvertToPDF renders the target with the print-to-document command and
// copies the resulting bytes to out.
func (c *Converter) ConvertToPDF(ctx context.Context, tgt Target, opts *PDFOptions, out io.Writer) error {
	params, err := opts.printParams()
	if err != nil {
		return err
	}
	return c.convert(ctx, tgt, func(ctx context.Context, client *Client, timer *CountdownTimer) error {
		var res struct {
			Data []byte `json:"data"`
		}
		if err := client.SendCommand(ctx, string(cdproto.CommandPagePrintToPDF), params, &res, defaultCommandTimeout, timer); err != nil {
			return fmt.Errorf("printing to PDF: %w", err)
		}
		_, err := out.Write(res.Data)
		return err
	})
}

// ConvertToImage renders the target with the capture-raster command and
// copies the resulting bytes to out.
func (c *Converter) ConvertToImage(ctx context.Context, tgt Target, opts *ImageOptions, out io.Writer) error {
	params, err := opts.screenshotParams()
	if err != nil {
		return err
	}
	return c.convert(ctx, tgt, func(ctx context.Context, client *Client, timer *CountdownTimer) error {
		var res struct {
			Data []byte `json:"data"`
		}
		if err := client.SendCommand(ctx, string(cdproto.CommandPageCaptureScreenshot), params, &res, defaultCommandTimeout, timer); err != nil {
			return fmt.Errorf("capturing screenshot: %w", err)
		}
		_, err := out.Write(res.Data)
		return err
	})
}

// convert runs the conversion pipeline: preprocess, ensure the browser runs,
// navigate, optional window-status wait, optional script, optional snapshot,
// then the terminal render step. Cleanup always runs, even on failure.
func (c *Converter) convert(ctx context.Context, tgt Target, render func(context.Context, *Client, *CountdownTimer) error) error {
	if err := tgt.validate(); err != nil {
		return err
	}

	c.convMu.Lock()
	defer c.convMu.Unlock()

	var timer *CountdownTimer
	if c.timeout > 0 {
		timer = NewCountdownTimer(c.timeout)
		timer.Start()
	}

	cctx, err := newConversionContext(c.tempRoot, c.blacklist, tgt)
	if err != nil {
		return err
	}
	defer cctx.cleanup(c.keepTempFiles, c.logger)

	if err := c.preprocess(ctx, cctx); err != nil {
		return err
	}

	client, err := c.launcher.EnsureRunning(ctx, timer)
	if err != nil {
		return err
	}

	nav := &navigator{
		client:           client,
		logger:           c.logger,
		timer:            timer,
		cctx:             cctx,
		mediaLoadTimeout: c.mediaLoadTimeout,
		trafficLogging:   c.trafficLogging,
	}
	stop, err := nav.arm(ctx)
	if err != nil {
		return err
	}
	defer stop()
	if err := nav.load(ctx); err != nil {
		return err
	}
	if c.windowStatus != "" {
		if err := nav.awaitWindowStatus(ctx, c.windowStatus, c.windowStatusTimeout); err != nil {
			return err
		}
	}
	if c.script != "" {
		if err := nav.runScript(ctx, c.script); err != nil {
			return err
		}
	}
	if c.snapshotSink != nil {
		if err := c.captureSnapshot(ctx, client, timer); err != nil {
			return err
		}
	}
	return render(ctx, client, timer)
}

// preprocess runs the collaborator hooks in order, threading the rewritten
// URL through and allow-listing every intermediate artifact. Inline markup
// has no URL to rewrite and skips the hooks.
func (c *Converter) preprocess(ctx context.Context, cctx *conversionContext) error {
	if cctx.target.URL == "" {
		return nil
	}
	apply := func(name string, fn func(context.Context, string, string) (string, error)) error {
		urlstr, err := fn(ctx, cctx.target.URL, cctx.tempDir)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if urlstr != "" && urlstr != cctx.target.URL {
			c.logger.Debugf("preprocess", "%s rewrote target to %s", name, urlstr)
			cctx.target.URL = urlstr
			cctx.allow(urlstr)
		}
		return nil
	}
	if c.sanitizer != nil {
		if err := apply("sanitizer", c.sanitizer.Sanitize); err != nil {
			return err
		}
	}
	if c.imageTransformer != nil {
		if err := apply("image transformer", c.imageTransformer.Transform); err != nil {
			return err
		}
	}
	if c.contentFitter != nil {
		if err := apply("content fitter", c.contentFitter.Fit); err != nil {
			return err
		}
	}
	return nil
}

// captureSnapshot takes an MHTML snapshot of the loaded page, strictly before
// the final render command, and writes it to the configured sink.
func (c *Converter) captureSnapshot(ctx context.Context, client *Client, timer *CountdownTimer) error {
	params := &page.CaptureSnapshotParams{Format: page.CaptureSnapshotFormatMhtml}
	var res struct {
		Data string `json:"data"`
	}
	if err := client.SendCommand(ctx, string(cdproto.CommandPageCaptureSnapshot), params, &res, defaultCommandTimeout, timer); err != nil {
		return fmt.Errorf("capturing snapshot: %w", err)
	}
	if _, err := io.WriteString(c.snapshotSink, res.Data); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

// Dispose terminates the browser process and releases all resources. It is
// idempotent.
func (c *Converter) Dispose() error {
	return c.launcher.Dispose()
}
