package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/mshafei721/AIAG-P/pkg/schema"
)

func TestClickPointCenter(t *testing.T) {
	box := &proto.DOMRect{X: 100, Y: 50, Width: 40, Height: 20}
	got := clickPoint(box, nil)
	want := schema.Point{X: 120, Y: 60}
	if got != want {
		t.Errorf("clickPoint = %v, want %v", got, want)
	}
}

func TestClickPointFractional(t *testing.T) {
	box := &proto.DOMRect{X: 100, Y: 50, Width: 40, Height: 20}
	got := clickPoint(box, &schema.Position{X: 0.25, Y: 1})
	want := schema.Point{X: 110, Y: 70}
	if got != want {
		t.Errorf("clickPoint = %v, want %v", got, want)
	}
}

func TestClickPointNilBox(t *testing.T) {
	got := clickPoint(nil, &schema.Position{X: 0.5, Y: 0.5})
	if got != (schema.Point{}) {
		t.Errorf("clickPoint with nil box = %v, want origin", got)
	}
}

func TestMouseButtonMapping(t *testing.T) {
	cases := []struct {
		in   schema.MouseButton
		want proto.InputMouseButton
	}{
		{schema.MouseButtonLeft, proto.InputMouseButtonLeft},
		{schema.MouseButtonRight, proto.InputMouseButtonRight},
		{schema.MouseButtonMiddle, proto.InputMouseButtonMiddle},
		{"", proto.InputMouseButtonLeft},
	}
	for _, c := range cases {
		if got := mouseButton(c.in); got != c.want {
			t.Errorf("mouseButton(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestLifecycleEventMapping(t *testing.T) {
	cases := []struct {
		in   schema.WaitUntil
		want proto.PageLifecycleEventName
	}{
		{schema.WaitUntilLoad, proto.PageLifecycleEventNameLoad},
		{schema.WaitUntilDOMContentLoaded, proto.PageLifecycleEventNameDOMContentLoaded},
		{schema.WaitUntilNetworkIdle, proto.PageLifecycleEventNameNetworkIdle},
		{"", proto.PageLifecycleEventNameLoad},
	}
	for _, c := range cases {
		if got := lifecycleEvent(c.in); got != c.want {
			t.Errorf("lifecycleEvent(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestDiffStatesUnchanged(t *testing.T) {
	st := pageState{URL: "https://a.test/", Title: "A", Nodes: 10}
	d := diffStates(st, st)
	if d.Changed() {
		t.Errorf("diff of identical states reports a change: %+v", d)
	}
	if d.URL != "" || d.Title != "" {
		t.Errorf("unchanged diff should not carry url/title, got %+v", d)
	}
}

func TestDiffStatesMoved(t *testing.T) {
	before := pageState{URL: "https://a.test/", Title: "A", Nodes: 10}
	after := pageState{URL: "https://b.test/", Title: "A", Nodes: 12}
	d := diffStates(before, after)
	if !d.URLChanged || d.URL != "https://b.test/" {
		t.Errorf("url change not reported: %+v", d)
	}
	if d.TitleChanged || d.Title != "" {
		t.Errorf("title falsely reported as changed: %+v", d)
	}
	if !d.DOMChanged {
		t.Errorf("dom change not reported: %+v", d)
	}
	if !d.Changed() {
		t.Error("Changed() = false for a moved state")
	}
}

func TestNavigateErrorMapping(t *testing.T) {
	err := navigateError(fmt.Errorf("goto: %w", context.DeadlineExceeded), 1500*time.Millisecond)
	ce, ok := schema.AsCommandError(err)
	if !ok {
		t.Fatalf("navigateError returned %T, want *schema.CommandError", err)
	}
	if ce.Code != schema.ErrCodeTimeout {
		t.Errorf("code = %s, want %s", ce.Code, schema.ErrCodeTimeout)
	}
	if ce.Message != "navigation timeout after 1500ms" {
		t.Errorf("message = %q", ce.Message)
	}

	err = navigateError(errors.New("net::ERR_NAME_NOT_RESOLVED"), time.Second)
	ce, _ = schema.AsCommandError(err)
	if ce.Code != schema.ErrCodeNavigationFailed || ce.Type != schema.ErrTypeNavigation {
		t.Errorf("transport failure mapped to %s/%s", ce.Code, ce.Type)
	}
}

func TestInteractionErrorMapping(t *testing.T) {
	ce, _ := schema.AsCommandError(clickError(errors.New("covered"), time.Second))
	if ce.Code != schema.ErrCodeElementNotInteractable || ce.Type != schema.ErrTypeInteraction {
		t.Errorf("click failure mapped to %s/%s", ce.Code, ce.Type)
	}

	ce, _ = schema.AsCommandError(fillError(context.DeadlineExceeded, time.Second))
	if ce.Code != schema.ErrCodeTimeout {
		t.Errorf("fill deadline mapped to %s", ce.Code)
	}
	if ce.Message != "fill timeout after 1000ms" {
		t.Errorf("message = %q", ce.Message)
	}

	ce, _ = schema.AsCommandError(extractError(errors.New("eval failed"), time.Second))
	if ce.Code != schema.ErrCodeExtractionFailed || ce.Type != schema.ErrTypeExtraction {
		t.Errorf("extract failure mapped to %s/%s", ce.Code, ce.Type)
	}
}

func TestWaitErrorMapping(t *testing.T) {
	cmd := &schema.WaitCommand{Condition: schema.WaitVisible, Selector: "#x"}
	ce, _ := schema.AsCommandError(waitError(context.DeadlineExceeded, cmd, 2*time.Second, 2001))
	if ce.Code != schema.ErrCodeWaitTimeout || ce.Type != schema.ErrTypeTimeout {
		t.Errorf("wait deadline mapped to %s/%s", ce.Code, ce.Type)
	}
	if ce.Details["condition"] != "visible" {
		t.Errorf("details condition = %v", ce.Details["condition"])
	}
	if ce.Details["wait_time_ms"] != int64(2001) {
		t.Errorf("details wait_time_ms = %v", ce.Details["wait_time_ms"])
	}

	ce, _ = schema.AsCommandError(waitError(errors.New("eval blew up"), cmd, time.Second, 10))
	if ce.Code != schema.ErrCodeUnknown || ce.Type != schema.ErrTypeWait {
		t.Errorf("wait failure mapped to %s/%s", ce.Code, ce.Type)
	}
}

func TestTruthyWrap(t *testing.T) {
	got := truthyWrap(`() => document.title === "x"`)
	want := `() => Boolean((() => document.title === "x")())`
	if got != want {
		t.Errorf("truthyWrap = %q, want %q", got, want)
	}
}

func TestPollUntilImmediate(t *testing.T) {
	calls := 0
	err := pollUntil(context.Background(), time.Hour, func() (bool, error) {
		calls++
		return true, nil
	})
	if err != nil {
		t.Fatalf("pollUntil: %v", err)
	}
	if calls != 1 {
		t.Errorf("probe ran %d times, want 1", calls)
	}
}

func TestPollUntilDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	calls := 0
	err := pollUntil(ctx, 10*time.Millisecond, func() (bool, error) {
		calls++
		return false, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if calls < 2 {
		t.Errorf("probe ran %d times, want repeated polling", calls)
	}
}

func TestPollUntilProbeError(t *testing.T) {
	boom := errors.New("boom")
	err := pollUntil(context.Background(), time.Hour, func() (bool, error) {
		return false, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want probe error surfaced", err)
	}
}

func TestExecutePanicRecovered(t *testing.T) {
	e := New(slog.New(slog.NewTextHandler(io.Discard, nil)))

	// A nil page blows up inside the dispatch; the worker must get an
	// opaque error back, not die.
	payload, diff, err := e.Execute(context.Background(), nil, &schema.NavigateCommand{URL: "https://a.test/"}, time.Second)
	if payload != nil || diff != nil {
		t.Errorf("payload = %v, diff = %v, want nil, nil", payload, diff)
	}
	ce, ok := schema.AsCommandError(err)
	if !ok {
		t.Fatalf("Execute returned %T, want *schema.CommandError", err)
	}
	if ce.Code != schema.ErrCodeUnknown {
		t.Errorf("code = %s, want %s", ce.Code, schema.ErrCodeUnknown)
	}
	if ce.Message != "internal error" {
		t.Errorf("message = %q, want opaque internal error", ce.Message)
	}
}

func TestAttachmentConditions(t *testing.T) {
	none := rod.Elements{}
	some := make(rod.Elements, 2)
	if elementAttached(none) {
		t.Error("attached reported for an empty match set")
	}
	if !elementAttached(some) {
		t.Error("attached not reported for a populated match set")
	}
	if !elementDetached(none) {
		t.Error("detached not reported for an empty match set")
	}
	if elementDetached(some) {
		t.Error("detached reported for a populated match set")
	}
}
