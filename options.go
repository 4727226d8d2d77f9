package pagerender

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Option configures a Converter.
type Option func(*Converter) error

// WithLogger sets the logrus logger used for all logging, including network
// traffic when enabled.
func WithLogger(l *logrus.Logger) Option {
	return func(c *Converter) error {
		c.logger = NewLogger(l)
		return nil
	}
}

// WithExecPath sets the path to the browser binary. When not set, well-known
// Chrome and Chromium names are searched on the PATH.
func WithExecPath(path string) Option {
	return func(c *Converter) error {
		c.launcher.execPath = path
		return nil
	}
}

// WithBrowserFlag adds a command line flag for the browser process. A string
// value is passed as --name=value, a true bool as --name. Mandatory flags may
// be overridden but never removed.
func WithBrowserFlag(name string, value interface{}) Option {
	return func(c *Converter) error {
		switch value.(type) {
		case string, bool:
			c.launcher.SetFlag(name, value)
			return nil
		}
		return &ConfigurationError{Field: "flag " + name, Reason: "value must be string or bool"}
	}
}

// WithoutBrowserFlag removes a previously added flag. Removing a mandatory
// flag is an error.
func WithoutBrowserFlag(name string) Option {
	return func(c *Converter) error {
		return c.launcher.RemoveFlag(name)
	}
}

// WithUserProfile runs the browser against a persistent profile directory.
// The control endpoint is then discovered from the marker file the browser
// writes into the directory, instead of from its diagnostic stream.
func WithUserProfile(dir string) Option {
	return func(c *Converter) error {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return &ConfigurationError{Field: "user profile", Reason: fmt.Sprintf("%s is not a directory", dir)}
		}
		c.launcher.userDataDir = dir
		return nil
	}
}

// WithRemoteEndpoint attaches to an already-running browser at the given
// control endpoint (http:// or ws:// URL) instead of launching a process.
// Disposal then closes only the connection, never the remote browser.
func WithRemoteEndpoint(urlstr string) Option {
	return func(c *Converter) error {
		if _, err := httpBaseURL(urlstr); err != nil {
			return err
		}
		c.launcher.remoteURL = urlstr
		return nil
	}
}

// WithEnv adds environment variables, as "key=value" strings, for the
// browser process.
func WithEnv(env ...string) Option {
	return func(c *Converter) error {
		c.launcher.env = append(c.launcher.env, env...)
		return nil
	}
}

// WithDiscoveryTimeout bounds the control-endpoint discovery wait. Zero
// keeps the defaults: unbounded for the diagnostic-stream scan, 10s for the
// marker-file poll, both clipped by the conversion timeout when one is set.
func WithDiscoveryTimeout(d time.Duration) Option {
	return func(c *Converter) error {
		c.launcher.discoveryTimeout = d
		return nil
	}
}

// WithTimeout sets the total conversion budget, shared by every blocking
// phase through the countdown timer. Zero means unbounded.
func WithTimeout(d time.Duration) Option {
	return func(c *Converter) error {
		if d < 0 {
			return &ConfigurationError{Field: "timeout", Reason: "negative"}
		}
		c.timeout = d
		return nil
	}
}

// WithMediaLoadTimeout bounds the load-completed wait separately from the
// conversion timeout. It is a soft timeout: on expiry the page is rendered
// as-is instead of failing the conversion.
func WithMediaLoadTimeout(d time.Duration) Option {
	return func(c *Converter) error {
		if d < 0 {
			return &ConfigurationError{Field: "media load timeout", Reason: "negative"}
		}
		c.mediaLoadTimeout = d
		return nil
	}
}

// WithWindowStatus makes the conversion wait, after load, until the page sets
// window.status to the given string. The countdown timer is paused during
// this wait; a non-match after the wait is logged and ignored.
func WithWindowStatus(status string) Option {
	return func(c *Converter) error {
		c.windowStatus = status
		return nil
	}
}

// WithWindowStatusTimeout bounds the window-status wait. Defaults to one
// minute.
func WithWindowStatusTimeout(d time.Duration) Option {
	return func(c *Converter) error {
		if d <= 0 {
			return &ConfigurationError{Field: "window status timeout", Reason: "not positive"}
		}
		c.windowStatusTimeout = d
		return nil
	}
}

// WithRunScript executes the given script text in the page context after the
// page has loaded. The result is discarded.
func WithRunScript(script string) Option {
	return func(c *Converter) error {
		c.script = script
		return nil
	}
}

// WithBlacklist blocks outgoing requests whose URL matches any of the given
// shell-style wildcard patterns, except URLs on the per-conversion
// allow-list.
func WithBlacklist(patterns ...string) Option {
	return func(c *Converter) error {
		bl, err := compileBlacklist(patterns)
		if err != nil {
			return err
		}
		c.blacklist = bl
		return nil
	}
}

// WithTrafficLogging records method, URL and status for each observed network
// event at info level.
func WithTrafficLogging() Option {
	return func(c *Converter) error {
		c.trafficLogging = true
		return nil
	}
}

// WithSnapshotSink captures an MHTML snapshot of the loaded page, before the
// final render command, and writes it to w.
func WithSnapshotSink(w io.Writer) Option {
	return func(c *Converter) error {
		c.snapshotSink = w
		return nil
	}
}

// WithKeepTempFiles preserves the per-conversion temp directory instead of
// deleting it during cleanup.
func WithKeepTempFiles() Option {
	return func(c *Converter) error {
		c.keepTempFiles = true
		return nil
	}
}

// WithTempDir sets the parent directory for per-conversion scoped temp
// directories.
func WithTempDir(root string) Option {
	return func(c *Converter) error {
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			return &ConfigurationError{Field: "temp dir", Reason: fmt.Sprintf("%s is not a directory", root)}
		}
		c.tempRoot = root
		return nil
	}
}

// WithSanitizer sets the markup sanitizer hook. Its output URL is
// allow-listed automatically.
func WithSanitizer(s Sanitizer) Option {
	return func(c *Converter) error {
		c.sanitizer = s
		return nil
	}
}

// WithImageTransformer sets the image transformer hook. Its output URL is
// allow-listed automatically.
func WithImageTransformer(t ImageTransformer) Option {
	return func(c *Converter) error {
		c.imageTransformer = t
		return nil
	}
}

// WithContentFitter sets the content-fit hook. Its output URL is allow-listed
// automatically.
func WithContentFitter(f ContentFitter) Option {
	return func(c *Converter) error {
		c.contentFitter = f
		return nil
	}
}

// WithProxyServer routes browser traffic through the given proxy, optionally
// bypassing it for the given hosts.
func WithProxyServer(server string, bypass ...string) Option {
	return func(c *Converter) error {
		c.launcher.SetFlag("proxy-server", server)
		if len(bypass) > 0 {
			list := bypass[0]
			for _, b := range bypass[1:] {
				list += ";" + b
			}
			c.launcher.SetFlag("proxy-bypass-list", list)
		}
		return nil
	}
}

// WithProxyPACURL configures proxying from a PAC script URL.
func WithProxyPACURL(urlstr string) Option {
	return func(c *Converter) error {
		c.launcher.SetFlag("proxy-pac-url", urlstr)
		return nil
	}
}

// WithUserAgent sets the default User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Converter) error {
		c.launcher.SetFlag("user-agent", ua)
		return nil
	}
}

// WithDiskCache points the browser's disk cache at the given directory, with
// an optional maximum size in bytes (zero means engine default). The cache
// directory is locked exclusively by the engine and must not be shared
// between concurrently running browser instances; that is the caller's
// obligation.
func WithDiskCache(dir string, size int64) Option {
	return func(c *Converter) error {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return &ConfigurationError{Field: "disk cache", Reason: fmt.Sprintf("%s is not a directory", dir)}
		}
		if size < 0 {
			return &ConfigurationError{Field: "disk cache", Reason: "negative size"}
		}
		c.launcher.SetFlag("disk-cache-dir", dir)
		if size > 0 {
			c.launcher.SetFlag("disk-cache-size", fmt.Sprintf("%d", size))
		}
		return nil
	}
}

// WithIncognito runs the browser in incognito mode.
func WithIncognito() Option {
	return func(c *Converter) error {
		c.launcher.SetFlag("incognito", true)
		return nil
	}
}

// WithIgnoreCertificateErrors makes the browser accept invalid TLS
// certificates.
func WithIgnoreCertificateErrors() Option {
	return func(c *Converter) error {
		c.launcher.SetFlag("ignore-certificate-errors", true)
		return nil
	}
}

// WithNoSandbox disables the browser sandbox; needed when running as root in
// containers.
func WithNoSandbox() Option {
	return func(c *Converter) error {
		c.launcher.SetFlag("no-sandbox", true)
		return nil
	}
}
