package pagerender

import (
	"testing"

	"github.com/chromedp/cdproto/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintParams(t *testing.T) {
	t.Parallel()

	p, err := (*PDFOptions)(nil).printParams()
	require.NoError(t, err)
	assert.Zero(t, p.PaperWidth, "nil options mean engine defaults")

	opts := &PDFOptions{PaperFormat: PaperA4, PrintBackground: true, Scale: 1.5}
	p, err = opts.printParams()
	require.NoError(t, err)
	assert.Equal(t, 8.27, p.PaperWidth)
	assert.Equal(t, 11.7, p.PaperHeight)
	assert.True(t, p.PrintBackground)
	assert.Equal(t, 1.5, p.Scale)

	// landscape swaps the dimensions
	p, err = (&PDFOptions{PaperFormat: PaperA4, Landscape: true}).printParams()
	require.NoError(t, err)
	assert.Equal(t, 11.7, p.PaperWidth)
	assert.Equal(t, 8.27, p.PaperHeight)
	assert.True(t, p.Landscape)

	// explicit dimensions are used when no named format is set
	p, err = (&PDFOptions{PaperWidth: 4, PaperHeight: 6}).printParams()
	require.NoError(t, err)
	assert.Equal(t, 4.0, p.PaperWidth)
	assert.Equal(t, 6.0, p.PaperHeight)
}

func TestPrintParamsValidation(t *testing.T) {
	t.Parallel()

	var cfgErr *ConfigurationError

	_, err := (&PDFOptions{Scale: 3}).printParams()
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "scale", cfgErr.Field)

	_, err = (&PDFOptions{Scale: 0.05}).printParams()
	require.ErrorAs(t, err, &cfgErr)

	_, err = (&PDFOptions{MarginTop: -1}).printParams()
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "margins", cfgErr.Field)

	_, err = (&PDFOptions{PaperFormat: "B5"}).printParams()
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "paper format", cfgErr.Field)

	_, err = (&PDFOptions{PaperWidth: -1}).printParams()
	require.ErrorAs(t, err, &cfgErr)
}

func TestScreenshotParams(t *testing.T) {
	t.Parallel()

	p, err := (*ImageOptions)(nil).screenshotParams()
	require.NoError(t, err)
	assert.Equal(t, page.CaptureScreenshotFormatPng, p.Format)

	p, err = (&ImageOptions{Format: ImageJPEG, Quality: 80, FullPage: true}).screenshotParams()
	require.NoError(t, err)
	assert.Equal(t, page.CaptureScreenshotFormatJpeg, p.Format)
	assert.Equal(t, int64(80), p.Quality)
	assert.True(t, p.CaptureBeyondViewport)

	clip := &page.Viewport{X: 10, Y: 20, Width: 100, Height: 50, Scale: 1}
	p, err = (&ImageOptions{Clip: clip}).screenshotParams()
	require.NoError(t, err)
	assert.Equal(t, clip, p.Clip)

	var cfgErr *ConfigurationError
	_, err = (&ImageOptions{Format: ImageJPEG, Quality: 101}).screenshotParams()
	require.ErrorAs(t, err, &cfgErr)

	_, err = (&ImageOptions{Format: "gif"}).screenshotParams()
	require.ErrorAs(t, err, &cfgErr)
}
