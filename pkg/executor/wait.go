package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"

	"github.com/mshafei721/AIAG-P/pkg/schema"
)

// Final-state labels reported in wait results.
const (
	statePageLoaded       = "page_loaded"
	stateDOMContentLoaded = "dom_content_loaded"
	stateNetworkIdle      = "network_idle"
	stateElementVisible   = "element_visible"
	stateElementHidden    = "element_hidden"
	stateElementAttached  = "element_attached"
	stateElementDetached  = "element_detached"
	stateTextFound        = "text_content_found"
	stateCustomMet        = "custom_condition_met"
)

const readyStateJS = `() => document.readyState === "interactive" || document.readyState === "complete"`

// networkIdleWindow is how long the page must stay request-free before
// the network counts as idle.
const networkIdleWindow = 300 * time.Millisecond

func (e *Executor) wait(ctx context.Context, p *rod.Page, cmd *schema.WaitCommand, timeout time.Duration) (*schema.WaitResult, error) {
	start := e.now()
	poll := time.Duration(cmd.PollIntervalMS) * time.Millisecond

	var (
		finalState   string
		elementCount int
		err          error
	)
	switch cmd.Condition {
	case schema.WaitLoad:
		finalState = statePageLoaded
		err = p.WaitLoad()
	case schema.WaitDOMContentLoaded:
		finalState = stateDOMContentLoaded
		err = pollUntil(ctx, poll, func() (bool, error) { return evalTruthy(p, readyStateJS) })
	case schema.WaitNetworkIdle:
		finalState = stateNetworkIdle
		p.WaitRequestIdle(networkIdleWindow, nil, nil, nil)()
		err = ctx.Err()
	case schema.WaitVisible:
		finalState = stateElementVisible
		elementCount, err = e.waitElement(ctx, p, cmd, poll, elementVisible)
	case schema.WaitHidden:
		finalState = stateElementHidden
		elementCount, err = e.waitElement(ctx, p, cmd, poll, elementHidden)
	case schema.WaitAttached:
		finalState = stateElementAttached
		elementCount, err = e.waitElement(ctx, p, cmd, poll, elementAttached)
	case schema.WaitDetached:
		finalState = stateElementDetached
		elementCount, err = e.waitElement(ctx, p, cmd, poll, elementDetached)
	case schema.WaitTextEquals:
		finalState = stateTextFound
		elementCount, err = e.waitText(ctx, p, cmd, poll)
	case schema.WaitCustomScript:
		finalState = stateCustomMet
		err = pollUntil(ctx, poll, func() (bool, error) { return evalTruthy(p, truthyWrap(cmd.CustomJS)) })
	default:
		return nil, schema.NewCommandError(schema.ErrCodeInvalidParams, schema.ErrTypeValidation, "unknown wait condition %q", cmd.Condition)
	}

	elapsed := e.now().Sub(start).Milliseconds()
	if err != nil {
		return nil, waitError(err, cmd, timeout, elapsed)
	}

	return &schema.WaitResult{
		ConditionMet: true,
		WaitTimeMS:   elapsed,
		FinalState:   finalState,
		ElementCount: elementCount,
		ConditionDetails: map[string]any{
			"condition": string(cmd.Condition),
			"selector":  cmd.Selector,
			"timeout":   timeout.Milliseconds(),
		},
	}, nil
}

// elementCondition judges a selector's current match set. Probe errors
// on individual elements count as not-met so a mid-poll detach keeps
// the wait alive instead of aborting it.
type elementCondition func(els rod.Elements) bool

func elementVisible(els rod.Elements) bool {
	if len(els) == 0 {
		return false
	}
	visible, err := els.First().Visible()
	if err != nil {
		return false
	}
	return visible
}

func elementHidden(els rod.Elements) bool {
	if len(els) == 0 {
		return true
	}
	visible, err := els.First().Visible()
	if err != nil {
		return true
	}
	return !visible
}

func elementAttached(els rod.Elements) bool { return len(els) > 0 }

func elementDetached(els rod.Elements) bool { return len(els) == 0 }

func (e *Executor) waitElement(ctx context.Context, p *rod.Page, cmd *schema.WaitCommand, poll time.Duration, cond elementCondition) (int, error) {
	count := 0
	err := pollUntil(ctx, poll, func() (bool, error) {
		els, err := p.Elements(cmd.Selector)
		if err != nil {
			return false, nil
		}
		count = len(els)
		return cond(els), nil
	})
	return count, err
}

func (e *Executor) waitText(ctx context.Context, p *rod.Page, cmd *schema.WaitCommand, poll time.Duration) (int, error) {
	count := 0
	err := pollUntil(ctx, poll, func() (bool, error) {
		els, err := p.Elements(cmd.Selector)
		if err != nil || len(els) == 0 {
			return false, nil
		}
		count = len(els)
		text, err := els.First().Text()
		if err != nil {
			return false, nil
		}
		return strings.TrimSpace(text) == cmd.TextContent, nil
	})
	return count, err
}

// truthyWrap coerces the user function's return value to a boolean so
// the eval result is never a non-bool.
func truthyWrap(fn string) string {
	return fmt.Sprintf("() => Boolean((%s)())", fn)
}

func evalTruthy(p *rod.Page, js string) (bool, error) {
	res, err := p.Eval(js)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func waitError(err error, cmd *schema.WaitCommand, timeout time.Duration, elapsedMS int64) error {
	if deadlineHit(err) {
		return schema.NewCommandError(schema.ErrCodeWaitTimeout, schema.ErrTypeTimeout, "wait condition timeout after %dms", timeout.Milliseconds()).
			WithDetail("condition", string(cmd.Condition)).
			WithDetail("wait_time_ms", elapsedMS)
	}
	return schema.NewCommandError(schema.ErrCodeUnknown, schema.ErrTypeWait, "wait failed: %v", err)
}
