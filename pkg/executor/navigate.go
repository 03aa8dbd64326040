package executor

import (
	"context"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/mshafei721/AIAG-P/pkg/schema"
)

// statusCodeJS reads the navigation status from the performance entry,
// which is always populated after a load and needs no CDP network
// listener attached ahead of time.
const statusCodeJS = `() => {
	const entries = performance.getEntriesByType("navigation");
	if (entries.length > 0) return entries[0].responseStatus || 0;
	return 0;
}`

func (e *Executor) navigate(ctx context.Context, p *rod.Page, cmd *schema.NavigateCommand, timeout time.Duration) (*schema.NavigateResult, error) {
	start := e.now()

	if cmd.Referer != "" {
		_ = proto.NetworkSetExtraHTTPHeaders{
			Headers: proto.NetworkHeaders{"Referer": gson.New(cmd.Referer)},
		}.Call(p)
	}

	// The lifecycle listener must be armed before Navigate, otherwise
	// a fast load can fire the event unobserved.
	wait := p.WaitNavigation(lifecycleEvent(cmd.WaitUntil))
	if err := p.Navigate(cmd.URL); err != nil {
		return nil, navigateError(err, timeout)
	}
	wait()
	if err := ctx.Err(); err != nil {
		return nil, navigateError(err, timeout)
	}

	res := &schema.NavigateResult{
		URL:        cmd.URL,
		LoadTimeMS: e.now().Sub(start).Milliseconds(),
	}
	if info, err := p.Info(); err == nil {
		res.URL = info.URL
		res.Title = info.Title
	}
	res.Redirected = res.URL != cmd.URL
	if v, err := p.Eval(statusCodeJS); err == nil {
		res.StatusCode = v.Value.Int()
	}
	return res, nil
}

// lifecycleEvent maps a wait-until milestone onto the page lifecycle
// event rod reports for it.
func lifecycleEvent(w schema.WaitUntil) proto.PageLifecycleEventName {
	switch w {
	case schema.WaitUntilDOMContentLoaded:
		return proto.PageLifecycleEventNameDOMContentLoaded
	case schema.WaitUntilNetworkIdle:
		return proto.PageLifecycleEventNameNetworkIdle
	default:
		return proto.PageLifecycleEventNameLoad
	}
}

func navigateError(err error, timeout time.Duration) error {
	if deadlineHit(err) {
		return timeoutError("navigation", timeout)
	}
	return schema.NewCommandError(schema.ErrCodeNavigationFailed, schema.ErrTypeNavigation, "navigation failed: %v", err)
}
