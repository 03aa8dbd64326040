// Package executor runs typed commands against a session's page. One
// method per command kind; every method enforces the command timeout as
// a hard deadline and maps page failures onto the wire error taxonomy.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/go-rod/rod"

	"github.com/mshafei721/AIAG-P/pkg/schema"
)

// Executor executes commands on rod pages. It is stateless and safe
// for concurrent use; per-session serialization is the caller's job.
type Executor struct {
	log *slog.Logger
	now func() time.Time
}

// New returns an Executor logging through log.
func New(log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		log: log.With("component", "executor"),
		now: time.Now,
	}
}

// Execute runs cmd against page with timeout as a hard deadline. The
// deadline is bound to the page, so expiry cancels whatever primitive
// is in flight and a typed timeout error comes back. For mutating
// commands the returned diff summarizes the observable page change;
// read-only commands return a nil diff.
func (e *Executor) Execute(ctx context.Context, page *rod.Page, cmd schema.Command, timeout time.Duration) (payload any, diff *schema.StateDiff, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("command panic",
				"method", cmd.CommandMethod(),
				"panic", r,
				"stack", string(debug.Stack()))
			payload, diff = nil, nil
			err = schema.NewCommandError(schema.ErrCodeUnknown, schema.ErrTypeInternal, "internal error")
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	p := page.Context(ctx)

	var before pageState
	if cmd.Mutating() {
		before = capturePageState(p)
	}

	switch c := cmd.(type) {
	case *schema.NavigateCommand:
		payload, err = e.navigate(ctx, p, c, timeout)
	case *schema.ClickCommand:
		payload, err = e.click(p, c, timeout)
	case *schema.FillCommand:
		payload, err = e.fill(ctx, p, c, timeout)
	case *schema.ExtractCommand:
		payload, err = e.extract(p, c, timeout)
	case *schema.WaitCommand:
		payload, err = e.wait(ctx, p, c, timeout)
	default:
		err = schema.NewCommandError(schema.ErrCodeInvalidCommand, schema.ErrTypeProtocol, "unsupported method %q", cmd.CommandMethod())
	}
	if err != nil {
		return nil, nil, err
	}

	if cmd.Mutating() {
		diff = diffStates(before, capturePageState(p))
	}
	return payload, diff, nil
}

// deadlineHit reports whether err stems from the command deadline.
func deadlineHit(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// timeoutError is the uniform deadline-expiry failure for op.
func timeoutError(op string, timeout time.Duration) *schema.CommandError {
	return schema.NewCommandError(schema.ErrCodeTimeout, schema.ErrTypeTimeout, "%s timeout after %dms", op, timeout.Milliseconds())
}

// elementTag returns the element's lowercase tag name, empty when the
// element cannot be evaluated anymore.
func elementTag(el *rod.Element) string {
	res, err := el.Eval(`() => this.tagName.toLowerCase()`)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// propertyString reads a JS property expected to hold a string. Missing
// properties and read failures come back empty.
func propertyString(el *rod.Element, name string) string {
	v, err := el.Property(name)
	if err != nil || v.Val() == nil {
		return ""
	}
	return v.Str()
}

// pollUntil runs probe immediately and then once per interval until it
// reports true, it fails, or ctx expires.
func pollUntil(ctx context.Context, interval time.Duration, probe func() (bool, error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		ok, err := probe()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
