package pagerender

import (
	"fmt"

	"github.com/chromedp/cdproto/page"
)

// PaperFormat is a named paper size for PDF output.
type PaperFormat string

// Supported paper formats.
const (
	PaperLetter  PaperFormat = "Letter"
	PaperLegal   PaperFormat = "Legal"
	PaperTabloid PaperFormat = "Tabloid"
	PaperLedger  PaperFormat = "Ledger"
	PaperA0      PaperFormat = "A0"
	PaperA1      PaperFormat = "A1"
	PaperA2      PaperFormat = "A2"
	PaperA3      PaperFormat = "A3"
	PaperA4      PaperFormat = "A4"
	PaperA5      PaperFormat = "A5"
	PaperA6      PaperFormat = "A6"
)

// paperSizes maps a format to its width and height in inches.
var paperSizes = map[PaperFormat][2]float64{
	PaperLetter:  {8.5, 11},
	PaperLegal:   {8.5, 14},
	PaperTabloid: {11, 17},
	PaperLedger:  {17, 11},
	PaperA0:      {33.1, 46.8},
	PaperA1:      {23.4, 33.1},
	PaperA2:      {16.54, 23.39},
	PaperA3:      {11.7, 16.54},
	PaperA4:      {8.27, 11.7},
	PaperA5:      {5.83, 8.27},
	PaperA6:      {4.13, 5.83},
}

// PDFOptions control the print-to-document render command. The zero value
// uses the engine's defaults. All dimensions are in inches.
type PDFOptions struct {
	Landscape           bool
	PrintBackground     bool
	DisplayHeaderFooter bool
	HeaderTemplate      string
	FooterTemplate      string

	// PaperFormat, when set, takes precedence over PaperWidth/PaperHeight.
	PaperFormat PaperFormat
	PaperWidth  float64
	PaperHeight float64

	MarginTop    float64
	MarginBottom float64
	MarginLeft   float64
	MarginRight  float64

	// Scale of the webpage rendering; the engine accepts 0.1 through 2.
	Scale float64

	// PageRanges such as "1-5, 8, 11-13"; empty prints all pages.
	PageRanges string

	PreferCSSPageSize bool
}

// printParams maps the options to the protocol's print command parameters.
func (o *PDFOptions) printParams() (*page.PrintToPDFParams, error) {
	p := &page.PrintToPDFParams{}
	if o == nil {
		return p, nil
	}
	if o.Scale < 0 || (o.Scale != 0 && (o.Scale < 0.1 || o.Scale > 2)) {
		return nil, &ConfigurationError{Field: "scale", Reason: fmt.Sprintf("%v outside 0.1..2", o.Scale)}
	}
	if o.MarginTop < 0 || o.MarginBottom < 0 || o.MarginLeft < 0 || o.MarginRight < 0 {
		return nil, &ConfigurationError{Field: "margins", Reason: "negative margin"}
	}
	p.Landscape = o.Landscape
	p.PrintBackground = o.PrintBackground
	p.DisplayHeaderFooter = o.DisplayHeaderFooter
	p.HeaderTemplate = o.HeaderTemplate
	p.FooterTemplate = o.FooterTemplate
	p.MarginTop = o.MarginTop
	p.MarginBottom = o.MarginBottom
	p.MarginLeft = o.MarginLeft
	p.MarginRight = o.MarginRight
	p.Scale = o.Scale
	p.PageRanges = o.PageRanges
	p.PreferCSSPageSize = o.PreferCSSPageSize

	switch {
	case o.PaperFormat != "":
		size, ok := paperSizes[o.PaperFormat]
		if !ok {
			return nil, &ConfigurationError{Field: "paper format", Reason: string(o.PaperFormat)}
		}
		p.PaperWidth, p.PaperHeight = size[0], size[1]
	case o.PaperWidth < 0 || o.PaperHeight < 0:
		return nil, &ConfigurationError{Field: "paper size", Reason: "negative dimension"}
	default:
		p.PaperWidth, p.PaperHeight = o.PaperWidth, o.PaperHeight
	}
	if o.Landscape && p.PaperWidth < p.PaperHeight {
		p.PaperWidth, p.PaperHeight = p.PaperHeight, p.PaperWidth
	}
	return p, nil
}

// ImageFormat is the raster capture encoding.
type ImageFormat string

// Supported image formats.
const (
	ImagePNG  ImageFormat = "png"
	ImageJPEG ImageFormat = "jpeg"
)

// ImageOptions control the capture-raster render command. The zero value
// captures the viewport as PNG.
type ImageOptions struct {
	Format ImageFormat

	// Quality is the compression quality for jpeg, 0..100.
	Quality int64

	// FullPage captures beyond the viewport, covering the whole page.
	FullPage bool

	// Clip restricts the capture to a region of the page.
	Clip *page.Viewport
}

// screenshotParams maps the options to the protocol's capture command
// parameters.
func (o *ImageOptions) screenshotParams() (*page.CaptureScreenshotParams, error) {
	p := &page.CaptureScreenshotParams{Format: page.CaptureScreenshotFormatPng}
	if o == nil {
		return p, nil
	}
	switch o.Format {
	case "", ImagePNG:
	case ImageJPEG:
		p.Format = page.CaptureScreenshotFormatJpeg
		if o.Quality < 0 || o.Quality > 100 {
			return nil, &ConfigurationError{Field: "quality", Reason: fmt.Sprintf("%d outside 0..100", o.Quality)}
		}
		p.Quality = o.Quality
	default:
		return nil, &ConfigurationError{Field: "image format", Reason: string(o.Format)}
	}
	p.CaptureBeyondViewport = o.FullPage
	p.Clip = o.Clip
	return p, nil
}
