package pagerender

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/mailru/easyjson"
)

const windowStatusPollInterval = 100 * time.Millisecond

// navigator loads one conversion's target into the engine and decides when it
// is ready. It owns the per-conversion request filtering and traffic logging
// wired to the protocol client.
type navigator struct {
	client *Client
	logger *Logger
	timer  *CountdownTimer
	cctx   *conversionContext

	// mediaLoadTimeout is a soft bound on the load-completed wait: on
	// expiry the page is treated as loaded. Zero means the wait is bounded
	// by the countdown timer alone.
	mediaLoadTimeout time.Duration
	trafficLogging   bool
}

// arm installs the per-conversion request filtering and traffic logging. The
// returned stop tears both down; callers keep them armed until the render
// completes, so requests triggered by scripts or the render itself are still
// filtered.
func (n *navigator) arm(ctx context.Context) (func(), error) {
	var stops []func()
	stop := func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}
	if n.trafficLogging {
		s, err := n.logTraffic(ctx)
		if err != nil {
			return nil, err
		}
		stops = append(stops, s)
	}
	if n.cctx.blacklist != nil {
		s, err := n.filterRequests(ctx)
		if err != nil {
			stop()
			return nil, err
		}
		stops = append(stops, s)
	}
	return stop, nil
}

// load navigates to the conversion target and waits until it is ready.
// Inline markup is set directly on the main frame and awaits no navigation
// events; URL targets navigate and wait for the load-completed event.
func (n *navigator) load(ctx context.Context) error {
	if err := n.client.SendCommand(ctx, string(cdproto.CommandPageEnable), nil, nil, defaultCommandTimeout, n.timer); err != nil {
		return fmt.Errorf("enabling page domain: %w", err)
	}

	if n.cctx.target.HTML != "" {
		return n.setContent(ctx, n.cctx.target.HTML)
	}
	return n.navigate(ctx, n.cctx.target.URL)
}

// setContent replaces the main frame's document with the given markup. No
// load event is awaited; the content is available as soon as the command
// round-trip completes.
func (n *navigator) setContent(ctx context.Context, html string) error {
	var tree page.GetFrameTreeReturns
	if err := n.client.SendCommand(ctx, string(cdproto.CommandPageGetFrameTree), nil, &tree, defaultCommandTimeout, n.timer); err != nil {
		return fmt.Errorf("resolving frame tree: %w", err)
	}
	if tree.FrameTree == nil || tree.FrameTree.Frame == nil {
		return fmt.Errorf("browser reported no main frame")
	}
	params := &page.SetDocumentContentParams{
		FrameID: tree.FrameTree.Frame.ID,
		HTML:    html,
	}
	if err := n.client.SendCommand(ctx, string(cdproto.CommandPageSetDocumentContent), params, nil, defaultCommandTimeout, n.timer); err != nil {
		return fmt.Errorf("setting document content: %w", err)
	}
	return nil
}

// navigate issues the navigation and waits for load completion. The
// subscription is registered before the navigate command so a load event
// firing during the round-trip is not lost.
func (n *navigator) navigate(ctx context.Context, urlstr string) error {
	loaded, err := n.client.ExpectEvent(string(cdproto.EventPageLoadEventFired), nil)
	if err != nil {
		return err
	}
	defer loaded.Cancel()

	var res page.NavigateReturns
	params := &page.NavigateParams{URL: urlstr}
	if err := n.client.SendCommand(ctx, string(cdproto.CommandPageNavigate), params, &res, defaultCommandTimeout, n.timer); err != nil {
		return fmt.Errorf("navigating to %s: %w", urlstr, err)
	}
	if res.ErrorText != "" {
		return fmt.Errorf("page load error %s", res.ErrorText)
	}

	_, err = loaded.Wait(ctx, n.mediaLoadTimeout, n.timer)
	switch err.(type) {
	case nil:
		return nil
	case *TimeoutError:
		// soft timeout: proceed with whatever has loaded so far
		n.logger.Warnf("navigation", "media load timeout after %v, continuing", n.mediaLoadTimeout)
		return nil
	}
	return err
}

// filterRequests enables request interception and aborts every request whose
// URL matches a blacklist pattern, unless the exact URL is allow-listed. The
// returned func removes the handler and disables interception.
func (n *navigator) filterRequests(ctx context.Context) (func(), error) {
	remove := n.client.Listen(string(cdproto.EventFetchRequestPaused), func(params easyjson.RawMessage) {
		var ev fetch.EventRequestPaused
		if err := json.Unmarshal(params, &ev); err != nil {
			n.logger.Errorf("filter", "decoding paused request: %v", err)
			return
		}
		url := ""
		if ev.Request != nil {
			url = ev.Request.URL
		}
		if n.cctx.blacklist.blocked(url, n.cctx.safeURLs) {
			n.logger.Infof("filter", "blocked %s", url)
			fail := &fetch.FailRequestParams{
				RequestID:   ev.RequestID,
				ErrorReason: network.ErrorReasonBlockedByClient,
			}
			if err := n.client.SendCommand(ctx, string(cdproto.CommandFetchFailRequest), fail, nil, defaultCommandTimeout, nil); err != nil {
				n.logger.Errorf("filter", "failing request %s: %v", url, err)
			}
			return
		}
		cont := &fetch.ContinueRequestParams{RequestID: ev.RequestID}
		if err := n.client.SendCommand(ctx, string(cdproto.CommandFetchContinueRequest), cont, nil, defaultCommandTimeout, nil); err != nil {
			n.logger.Errorf("filter", "continuing request %s: %v", url, err)
		}
	})

	if err := n.client.SendCommand(ctx, string(cdproto.CommandFetchEnable), &fetch.EnableParams{}, nil, defaultCommandTimeout, n.timer); err != nil {
		remove()
		return nil, fmt.Errorf("enabling request interception: %w", err)
	}
	return func() {
		if err := n.client.SendCommand(ctx, string(cdproto.CommandFetchDisable), nil, nil, defaultCommandTimeout, nil); err != nil {
			n.logger.Debugf("filter", "disabling interception: %v", err)
		}
		remove()
	}, nil
}

// logTraffic records method, URL, and status for each observed network event.
// Observation only; filtering decisions are never altered here.
func (n *navigator) logTraffic(ctx context.Context) (func(), error) {
	removeReq := n.client.Listen(string(cdproto.EventNetworkRequestWillBeSent), func(params easyjson.RawMessage) {
		var ev network.EventRequestWillBeSent
		if err := json.Unmarshal(params, &ev); err != nil {
			return
		}
		if ev.Request != nil {
			n.logger.Traffic(ev.Request.Method, ev.Request.URL, 0)
		}
	})
	removeResp := n.client.Listen(string(cdproto.EventNetworkResponseReceived), func(params easyjson.RawMessage) {
		var ev network.EventResponseReceived
		if err := json.Unmarshal(params, &ev); err != nil {
			return
		}
		if ev.Response != nil {
			n.logger.Traffic("RESPONSE", ev.Response.URL, ev.Response.Status)
		}
	})
	removeFail := n.client.Listen(string(cdproto.EventNetworkLoadingFailed), func(params easyjson.RawMessage) {
		var ev network.EventLoadingFailed
		if err := json.Unmarshal(params, &ev); err != nil {
			return
		}
		n.logger.Infof("network", "loading failed: %s", ev.ErrorText)
	})

	if err := n.client.SendCommand(ctx, string(cdproto.CommandNetworkEnable), nil, nil, defaultCommandTimeout, n.timer); err != nil {
		removeReq()
		removeResp()
		removeFail()
		return nil, fmt.Errorf("enabling network domain: %w", err)
	}
	return func() {
		removeReq()
		removeResp()
		removeFail()
	}, nil
}

// awaitWindowStatus polls the script-visible window.status value until it
// equals want. The countdown timer is paused for the duration of the poll:
// this wait observes application-level signaling outside the engine's
// control, so it runs on its own budget. A non-match after the wait is
// non-fatal.
func (n *navigator) awaitWindowStatus(ctx context.Context, want string, timeout time.Duration) error {
	n.timer.Stop()
	defer n.timer.Start()

	deadline := time.Now().Add(timeout)
	for {
		status, err := n.evaluateString(ctx, "window.status")
		if err != nil {
			return err
		}
		if status == want {
			return nil
		}
		if time.Now().After(deadline) {
			n.logger.Warnf("navigation", "window.status %q not reached after %v (last %q), continuing", want, timeout, status)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(windowStatusPollInterval):
		}
	}
}

// runScript executes caller-supplied script text in the page context. The
// result is discarded; only completion matters. A script exception fails the
// conversion.
func (n *navigator) runScript(ctx context.Context, script string) error {
	params := &runtime.EvaluateParams{Expression: script, ReturnByValue: true}
	var res runtime.EvaluateReturns
	if err := n.client.SendCommand(ctx, string(cdproto.CommandRuntimeEvaluate), params, &res, defaultCommandTimeout, n.timer); err != nil {
		return fmt.Errorf("running script: %w", err)
	}
	if res.ExceptionDetails != nil {
		return fmt.Errorf("running script: %w", res.ExceptionDetails)
	}
	return nil
}

// evaluateString evaluates a page expression expected to yield a string. The
// poll bound is intentionally not the countdown timer; the command itself
// still gets the default round-trip bound.
func (n *navigator) evaluateString(ctx context.Context, expr string) (string, error) {
	params := &runtime.EvaluateParams{Expression: expr, ReturnByValue: true}
	var res runtime.EvaluateReturns
	if err := n.client.SendCommand(ctx, string(cdproto.CommandRuntimeEvaluate), params, &res, defaultCommandTimeout, nil); err != nil {
		return "", err
	}
	if res.ExceptionDetails != nil {
		return "", res.ExceptionDetails
	}
	if res.Result == nil || res.Result.Type != "string" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(res.Result.Value, &s); err != nil {
		return "", err
	}
	return s, nil
}
