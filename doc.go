// Package pagerender renders web pages to PDF or raster images by driving a
// headless Chromium browser over its remote-debugging protocol.
//
// A Converter launches the browser with a deterministic flag set, discovers
// its control endpoint (from the diagnostic stream, or from the marker file
// in a persistent profile directory), and exchanges correlated JSON
// command/response/event messages over a persistent websocket. Conversions
// navigate the page, optionally blacklisting outgoing requests by wildcard
// pattern and logging traffic, wait for load completion, and finally invoke
// the engine's print-to-PDF or screenshot command.
//
// The browser process is reused serially across conversions of the same
// Converter and is terminated by Dispose. Every blocking phase of a
// conversion shares one pausable countdown timer, so a conversion-wide
// timeout bounds the whole pipeline.
//
//	conv, err := pagerender.NewConverter(
//		pagerender.WithTimeout(30*time.Second),
//		pagerender.WithBlacklist("*.doubleclick.net*"),
//	)
//	if err != nil { ... }
//	defer conv.Dispose()
//
//	var buf bytes.Buffer
//	err = conv.ConvertToPDF(ctx, pagerender.URLTarget("https://example.com"),
//		&pagerender.PDFOptions{PaperFormat: pagerender.PaperA4}, &buf)
package pagerender
