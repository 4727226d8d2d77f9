// Command pagerender converts a web page to a PDF or image file using a
// headless Chromium browser.
//
//	pagerender https://example.com -o example.pdf
//	pagerender page.html -o page.png --format png
//	cat page.html | pagerender - -o page.pdf
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/pagerender/pagerender"
)

type cliFlags struct {
	output       string
	format       string
	paper        string
	landscape    bool
	background   bool
	marginTop    float64
	marginBottom float64
	marginLeft   float64
	marginRight  float64
	pageRanges   string
	quality      int
	fullPage     bool

	execPath     string
	timeout      time.Duration
	mediaTimeout time.Duration
	windowStatus string
	runScript    string
	blacklist    []string
	userAgent    string
	proxy        string
	noSandbox    bool
	traffic      bool
	verbose      bool
}

func parseFlags(args []string) (*cliFlags, string, error) {
	f := &cliFlags{}
	fs := flag.NewFlagSet("pagerender", flag.ContinueOnError)
	fs.StringVarP(&f.output, "output", "o", "", "output file (required)")
	fs.StringVar(&f.format, "format", "", "output format: pdf, png or jpeg (default from output extension)")
	fs.StringVar(&f.paper, "paper", "A4", "paper format for PDF output")
	fs.BoolVar(&f.landscape, "landscape", false, "landscape orientation")
	fs.BoolVar(&f.background, "background", true, "print background graphics")
	fs.Float64Var(&f.marginTop, "margin-top", 0, "top margin in inches")
	fs.Float64Var(&f.marginBottom, "margin-bottom", 0, "bottom margin in inches")
	fs.Float64Var(&f.marginLeft, "margin-left", 0, "left margin in inches")
	fs.Float64Var(&f.marginRight, "margin-right", 0, "right margin in inches")
	fs.StringVar(&f.pageRanges, "pages", "", "page ranges to print, e.g. 1-5,8")
	fs.IntVar(&f.quality, "quality", 80, "jpeg quality 0..100")
	fs.BoolVar(&f.fullPage, "full-page", false, "capture the full page, not just the viewport")
	fs.StringVar(&f.execPath, "chrome", "", "path to the Chrome or Chromium binary")
	fs.DurationVar(&f.timeout, "timeout", 0, "total conversion timeout, 0 for unbounded")
	fs.DurationVar(&f.mediaTimeout, "media-timeout", 0, "soft timeout for media loading")
	fs.StringVar(&f.windowStatus, "window-status", "", "wait until window.status equals this value")
	fs.StringVar(&f.runScript, "run-script", "", "script to run in the page after load")
	fs.StringSliceVar(&f.blacklist, "blacklist", nil, "wildcard URL patterns to block")
	fs.StringVar(&f.userAgent, "user-agent", "", "User-Agent header")
	fs.StringVar(&f.proxy, "proxy", "", "proxy server")
	fs.BoolVar(&f.noSandbox, "no-sandbox", false, "disable the browser sandbox")
	fs.BoolVar(&f.traffic, "log-traffic", false, "log observed network traffic")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "verbose logging")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: pagerender [flags] <url | file | ->\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args[1:]); err != nil {
		return nil, "", err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return nil, "", fmt.Errorf("expected exactly one input argument")
	}
	if f.output == "" {
		return nil, "", fmt.Errorf("--output is required")
	}
	return f, fs.Arg(0), nil
}

// resolveTarget turns the input argument into a conversion target: a URL, a
// local file, or inline markup read from stdin.
func resolveTarget(input string) (pagerender.Target, error) {
	if input == "-" {
		html, err := io.ReadAll(os.Stdin)
		if err != nil {
			return pagerender.Target{}, fmt.Errorf("reading stdin: %w", err)
		}
		return pagerender.MarkupTarget(string(html)), nil
	}
	if strings.Contains(input, "://") {
		return pagerender.URLTarget(input), nil
	}
	abs, err := filepath.Abs(input)
	if err != nil {
		return pagerender.Target{}, err
	}
	if _, err := os.Stat(abs); err != nil {
		return pagerender.Target{}, fmt.Errorf("input %s: %w", input, err)
	}
	return pagerender.URLTarget("file://" + abs), nil
}

func outputFormat(f *cliFlags) string {
	if f.format != "" {
		return strings.ToLower(f.format)
	}
	switch strings.ToLower(filepath.Ext(f.output)) {
	case ".png":
		return "png"
	case ".jpg", ".jpeg":
		return "jpeg"
	}
	return "pdf"
}

func run() error {
	f, input, err := parseFlags(os.Args)
	if err != nil {
		return err
	}
	tgt, err := resolveTarget(input)
	if err != nil {
		return err
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	if f.verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	opts := []pagerender.Option{pagerender.WithLogger(log)}
	if f.execPath != "" {
		opts = append(opts, pagerender.WithExecPath(f.execPath))
	}
	if f.timeout > 0 {
		opts = append(opts, pagerender.WithTimeout(f.timeout))
	}
	if f.mediaTimeout > 0 {
		opts = append(opts, pagerender.WithMediaLoadTimeout(f.mediaTimeout))
	}
	if f.windowStatus != "" {
		opts = append(opts, pagerender.WithWindowStatus(f.windowStatus))
	}
	if f.runScript != "" {
		opts = append(opts, pagerender.WithRunScript(f.runScript))
	}
	if len(f.blacklist) > 0 {
		opts = append(opts, pagerender.WithBlacklist(f.blacklist...))
	}
	if f.userAgent != "" {
		opts = append(opts, pagerender.WithUserAgent(f.userAgent))
	}
	if f.proxy != "" {
		opts = append(opts, pagerender.WithProxyServer(f.proxy))
	}
	if f.noSandbox {
		opts = append(opts, pagerender.WithNoSandbox())
	}
	if f.traffic {
		opts = append(opts, pagerender.WithTrafficLogging())
	}

	conv, err := pagerender.NewConverter(opts...)
	if err != nil {
		return err
	}
	defer conv.Dispose()

	out, err := os.Create(f.output)
	if err != nil {
		return err
	}
	defer out.Close()

	ctx := context.Background()
	switch format := outputFormat(f); format {
	case "pdf":
		pdfOpts := &pagerender.PDFOptions{
			PaperFormat:     pagerender.PaperFormat(f.paper),
			Landscape:       f.landscape,
			PrintBackground: f.background,
			MarginTop:       f.marginTop,
			MarginBottom:    f.marginBottom,
			MarginLeft:      f.marginLeft,
			MarginRight:     f.marginRight,
			PageRanges:      f.pageRanges,
		}
		err = conv.ConvertToPDF(ctx, tgt, pdfOpts, out)
	case "png", "jpeg":
		imgOpts := &pagerender.ImageOptions{
			Format:   pagerender.ImageFormat(format),
			FullPage: f.fullPage,
		}
		if format == "jpeg" {
			imgOpts.Quality = int64(f.quality)
		}
		err = conv.ConvertToImage(ctx, tgt, imgOpts, out)
	default:
		err = fmt.Errorf("unsupported format %q", format)
	}
	if err != nil {
		os.Remove(f.output)
		return err
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
