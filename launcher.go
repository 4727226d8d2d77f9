package pagerender

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// markerFileName is the file Chromium writes into a persistent profile
	// directory announcing the remote-debugging endpoint.
	markerFileName = "DevToolsActivePort"

	// defaultMarkerTimeout bounds the marker-file poll when no conversion
	// timeout is configured.
	defaultMarkerTimeout = 10 * time.Second

	markerPollInterval = 10 * time.Millisecond

	// devToolsPrefix is the stderr line announcing the listening endpoint.
	devToolsPrefix = "DevTools listening on"
)

// mandatoryFlags are always passed to the browser and cannot be removed.
// Their values may be overridden.
var mandatoryFlags = []struct {
	name  string
	value interface{}
}{
	{"headless", true},
	{"disable-gpu", true},
	{"window-size", "1920,1080"},
	{"remote-debugging-port", "0"},
	{"no-first-run", true},
	{"no-default-browser-check", true},
	{"hide-scrollbars", true},
	{"mute-audio", true},
	{"disable-crash-reporter", true},
}

// flagSet is an ordered set of browser command line flags. Names are
// deduplicated case-insensitively; setting an existing flag replaces its
// value in place.
type flagSet struct {
	order  []string
	values map[string]interface{}
}

func newFlagSet() *flagSet {
	f := &flagSet{values: make(map[string]interface{})}
	for _, m := range mandatoryFlags {
		f.Set(m.name, m.value)
	}
	return f
}

// Set adds or replaces a flag. A string value is rendered as --name=value, a
// true bool as --name.
func (f *flagSet) Set(name string, value interface{}) {
	name = strings.ToLower(name)
	if _, ok := f.values[name]; !ok {
		f.order = append(f.order, name)
	}
	f.values[name] = value
}

// Remove deletes a caller-added flag. Mandatory flags cannot be removed.
func (f *flagSet) Remove(name string) error {
	name = strings.ToLower(name)
	for _, m := range mandatoryFlags {
		if m.name == name {
			return &ConfigurationError{Field: "flag " + name, Reason: "mandatory flag cannot be removed"}
		}
	}
	if _, ok := f.values[name]; !ok {
		return nil
	}
	delete(f.values, name)
	for i, n := range f.order {
		if n == name {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns the current value of a flag.
func (f *flagSet) Get(name string) (interface{}, bool) {
	v, ok := f.values[strings.ToLower(name)]
	return v, ok
}

// Args renders the flag set as an argument vector, in insertion order.
func (f *flagSet) Args() []string {
	args := make([]string, 0, len(f.order))
	for _, name := range f.order {
		switch v := f.values[name].(type) {
		case bool:
			if v {
				args = append(args, "--"+name)
			}
		case string:
			args = append(args, "--"+name+"="+v)
		default:
			args = append(args, fmt.Sprintf("--%s=%v", name, v))
		}
	}
	return args
}

// Launcher supervises one browser process and the protocol client attached to
// it: it launches the binary with a deterministic argument set, discovers the
// control endpoint, detects unexpected exit, and tears everything down on
// Dispose. A Launcher and its process are owned by exactly one Converter and
// must not be shared across instances.
type Launcher struct {
	execPath         string
	flags            *flagSet
	env              []string
	logger           *Logger
	remoteURL        string // attach to an already-running browser
	userDataDir      string // named-profile mode when non-empty
	discoveryTimeout time.Duration

	mu       sync.Mutex
	disposed bool
	cmd      *exec.Cmd
	exited   chan struct{}
	exitErr  error
	endpoint string
	client   *Client
	tmpDir   string
}

// NewLauncher creates a supervisor with the mandatory flag set. The zero
// discovery timeout means the built-in defaults: unbounded for the stderr
// scan, 10s for the marker-file poll, both clipped by the conversion timer.
func NewLauncher(logger *Logger) *Launcher {
	if logger == nil {
		logger = NullLogger()
	}
	return &Launcher{
		flags:  newFlagSet(),
		logger: logger,
	}
}

// SetFlag adds or replaces a browser command line flag.
func (l *Launcher) SetFlag(name string, value interface{}) { l.flags.Set(name, value) }

// RemoveFlag removes a caller-added flag; removing a mandatory flag is an
// error.
func (l *Launcher) RemoveFlag(name string) error { return l.flags.Remove(name) }

// EnsureRunning returns a connected protocol client, starting the browser
// process and discovering its control endpoint first when needed. It is a
// no-op when a live process and client already exist.
func (l *Launcher) EnsureRunning(ctx context.Context, timer *CountdownTimer) (*Client, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.disposed {
		return nil, ErrDisposed
	}
	if l.healthyLocked() {
		return l.client, nil
	}
	// The process handle and endpoint are either both present or both
	// absent; a half-dead pair is torn down before relaunching.
	l.teardownLocked()

	if l.remoteURL != "" {
		l.endpoint = l.remoteURL
	} else {
		if err := l.startLocked(timer); err != nil {
			l.teardownLocked()
			return nil, err
		}
	}

	pageWS, err := l.pageSocketURL(ctx, timer)
	if err != nil {
		l.teardownLocked()
		return nil, err
	}
	client, err := NewClient(ctx, pageWS, l.logger)
	if err != nil {
		l.teardownLocked()
		return nil, fmt.Errorf("connecting to %s: %w", pageWS, err)
	}
	l.client = client
	return client, nil
}

// healthyLocked reports whether both the process (when locally launched) and
// the protocol client are still alive.
func (l *Launcher) healthyLocked() bool {
	if l.client == nil {
		return false
	}
	select {
	case <-l.client.Done():
		return false
	default:
	}
	if l.exited != nil {
		select {
		case <-l.exited:
			return false
		default:
		}
	}
	return true
}

// startLocked builds the argument vector and starts the browser, leaving
// l.cmd, l.exited and l.endpoint populated.
func (l *Launcher) startLocked(timer *CountdownTimer) error {
	execPath := l.execPath
	if execPath == "" {
		execPath = findExecPath()
	}

	markerMode := l.userDataDir != ""
	if markerMode {
		l.flags.Set("user-data-dir", l.userDataDir)
		// stale state from a previous run must not satisfy the poll
		if err := os.Remove(filepath.Join(l.userDataDir, markerFileName)); err != nil && !os.IsNotExist(err) {
			return &ConfigurationError{Field: "user profile", Reason: err.Error()}
		}
	} else {
		tmpDir, err := os.MkdirTemp("", "pagerender-profile-")
		if err != nil {
			return &ProcessError{Op: "start", Err: err}
		}
		l.tmpDir = tmpDir
		l.flags.Set("user-data-dir", tmpDir)
	}

	cmd := exec.Command(execPath, l.flags.Args()...)
	if len(l.env) > 0 {
		cmd.Env = append(os.Environ(), l.env...)
	}
	sysProcAttr(cmd)

	var stderr *bufio.Scanner
	if !markerMode {
		pipe, err := cmd.StderrPipe()
		if err != nil {
			return &ProcessError{Op: "start", Err: err}
		}
		stderr = bufio.NewScanner(pipe)
	}

	if err := cmd.Start(); err != nil {
		return &ProcessError{Op: "start", Err: err}
	}
	l.cmd = cmd
	l.exited = make(chan struct{})
	go func() {
		l.exitErr = cmd.Wait()
		close(l.exited)
	}()
	l.logger.Debugf("launcher", "started %s (pid %d)", execPath, cmd.Process.Pid)

	var err error
	if markerMode {
		l.endpoint, err = l.waitMarkerFile(timer)
	} else {
		l.endpoint, err = l.waitStderrURL(stderr, timer)
	}
	return err
}

// waitStderrURL reads the diagnostic stream line by line until the line
// announcing the listening endpoint appears. The wait is effectively
// unbounded by default, clipped by the conversion timer when one is set.
func (l *Launcher) waitStderrURL(scanner *bufio.Scanner, timer *CountdownTimer) (string, error) {
	urlCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		for scanner.Scan() {
			line := scanner.Text()
			l.logger.Debugf("browser", "%s", line)
			if i := strings.Index(line, devToolsPrefix); i != -1 {
				urlCh <- strings.TrimSpace(line[i+len(devToolsPrefix):])
				// Keep draining until the pipe closes: a browser that
				// fills the pipe buffer blocks on its next write.
				for scanner.Scan() {
					l.logger.Debugf("browser", "%s", scanner.Text())
				}
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- err
			return
		}
		errCh <- fmt.Errorf("diagnostic stream ended before %q", devToolsPrefix)
	}()

	bound, fromTimer := waitBound(l.discoveryTimeout, timer)
	t := time.NewTimer(bound)
	defer t.Stop()
	select {
	case wsURL := <-urlCh:
		return wsURL, nil
	case err := <-errCh:
		// unexpected exit during the wait is reported with the exit reason
		select {
		case <-l.exited:
			return "", &ProcessError{Op: "ready", Err: l.exitReason()}
		default:
		}
		return "", &ProcessError{Op: "ready", Err: err}
	case <-l.exited:
		return "", &ProcessError{Op: "ready", Err: l.exitReason()}
	case <-t.C:
		if fromTimer {
			return "", ErrConversionTimeout
		}
		return "", &TimeoutError{What: "control endpoint", Wait: bound}
	}
}

// waitMarkerFile polls the profile directory for the marker file and builds
// the endpoint from its two lines: port, then path suffix.
func (l *Launcher) waitMarkerFile(timer *CountdownTimer) (string, error) {
	fpath := filepath.Join(l.userDataDir, markerFileName)
	opTimeout := l.discoveryTimeout
	if opTimeout <= 0 {
		opTimeout = defaultMarkerTimeout
	}
	bound, fromTimer := waitBound(opTimeout, timer)
	deadline := time.Now().Add(bound)

	for {
		if wsURL, ok := readMarkerFile(fpath); ok {
			return wsURL, nil
		}
		select {
		case <-l.exited:
			return "", &ProcessError{Op: "ready", Err: l.exitReason()}
		case <-time.After(markerPollInterval):
		}
		if time.Now().After(deadline) {
			if fromTimer {
				return "", ErrConversionTimeout
			}
			return "", &TimeoutError{What: fpath, Wait: bound}
		}
	}
}

func readMarkerFile(fpath string) (string, bool) {
	data, err := os.ReadFile(fpath)
	if err != nil {
		return "", false
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) < 2 {
		return "", false
	}
	port := strings.TrimSpace(lines[0])
	path := strings.TrimSpace(lines[1])
	if port == "" || path == "" {
		return "", false
	}
	return fmt.Sprintf("ws://127.0.0.1:%s%s", port, path), true
}

func (l *Launcher) exitReason() error {
	if l.exitErr != nil {
		return l.exitErr
	}
	return fmt.Errorf("process exited before signaling readiness")
}

// pageSocketURL resolves the websocket of the first page target by querying
// the browser's HTTP endpoint derived from the control endpoint. The browser
// may need a moment to open its initial page, so the list is retried.
func (l *Launcher) pageSocketURL(ctx context.Context, timer *CountdownTimer) (string, error) {
	base, err := httpBaseURL(l.endpoint)
	if err != nil {
		return "", err
	}
	httpc := &http.Client{Timeout: 5 * time.Second}
	var lastErr error = ErrNoPageTarget
	for attempt := 0; attempt < 50; attempt++ {
		if timer.Expired() {
			return "", ErrConversionTimeout
		}
		if wsURL, err := listFirstPage(ctx, httpc, base); err == nil {
			return wsURL, nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return "", fmt.Errorf("resolving page target at %s: %w", base, lastErr)
}

func listFirstPage(ctx context.Context, httpc *http.Client, base string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/json/list", nil)
	if err != nil {
		return "", err
	}
	resp, err := httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var targets []struct {
		Type                 string `json:"type"`
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return "", err
	}
	for _, t := range targets {
		if t.Type == "page" && t.WebSocketDebuggerURL != "" {
			return t.WebSocketDebuggerURL, nil
		}
	}
	return "", ErrNoPageTarget
}

// httpBaseURL derives the browser's HTTP endpoint from a ws:// or http://
// control endpoint URL.
func httpBaseURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", &ConfigurationError{Field: "endpoint", Reason: err.Error()}
	}
	switch u.Scheme {
	case "ws", "http":
		return "http://" + u.Host, nil
	case "wss", "https":
		return "https://" + u.Host, nil
	}
	return "", &ConfigurationError{Field: "endpoint", Reason: "unsupported scheme " + u.Scheme}
}

// teardownLocked closes the client, force-kills the process tree if still
// alive, and clears all handles. Races with a process that already exited on
// its own are ignored.
func (l *Launcher) teardownLocked() {
	if l.client != nil {
		// an attached remote browser is never asked to shut down
		closeClient := l.client.Close
		if l.remoteURL != "" {
			closeClient = l.client.Detach
		}
		if err := closeClient(); err != nil {
			l.logger.Debugf("launcher", "closing client: %v", err)
		}
		l.client = nil
	}
	if l.cmd != nil && l.cmd.Process != nil {
		select {
		case <-l.exited:
		default:
			killProcessTree(l.cmd)
			select {
			case <-l.exited:
			case <-time.After(5 * time.Second):
				l.logger.Warnf("launcher", "process %d did not exit after kill", l.cmd.Process.Pid)
			}
		}
	}
	l.cmd = nil
	l.exited = nil
	l.exitErr = nil
	l.endpoint = ""
	if l.tmpDir != "" {
		if err := os.RemoveAll(l.tmpDir); err != nil {
			l.logger.Warnf("launcher", "removing profile dir: %v", err)
		}
		l.tmpDir = ""
	}
}

// Dispose closes the protocol transport if open and force-kills the browser
// process and its descendants. It is idempotent and safe to call from a
// cleanup path that may run more than once.
func (l *Launcher) Dispose() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.disposed {
		return nil
	}
	l.disposed = true
	l.teardownLocked()
	return nil
}

// findExecPath tries to find the Chrome browser somewhere in the current
// system, returning a sensible default when nothing is found so that the
// start error names a real binary.
func findExecPath() string {
	for _, path := range [...]string{
		// Unix-like
		"headless_shell",
		"headless-shell",
		"chromium",
		"chromium-browser",
		"google-chrome",
		"google-chrome-stable",
		"google-chrome-beta",
		"google-chrome-unstable",
		"/usr/bin/google-chrome",

		// Windows
		"chrome",
		"chrome.exe",

		// Mac
		`/Applications/Google Chrome.app/Contents/MacOS/Google Chrome`,
	} {
		if found, err := exec.LookPath(path); err == nil {
			return found
		}
	}
	return "google-chrome"
}
