package client

import (
	"context"
	"time"

	"github.com/mshafei721/AIAG-P/pkg/schema"
)

// Session addresses commands at one gateway session. Handles are
// cheap and safe for concurrent use; the gateway serializes commands
// per session regardless.
type Session struct {
	c  *Client
	id string
}

// ID returns the session id the handle addresses, empty for the
// connection-bound session.
func (s *Session) ID() string { return s.id }

// Option adds an optional wire field to one command. Fields a command
// does not define are rejected by the gateway's validation.
type Option func(map[string]any)

// WithTimeout sets the command's execution deadline.
func WithTimeout(d time.Duration) Option {
	return func(f map[string]any) { f["timeout"] = int(d.Milliseconds()) }
}

// WithWaitUntil picks the lifecycle milestone a navigation waits for.
func WithWaitUntil(w schema.WaitUntil) Option {
	return func(f map[string]any) { f["wait_until"] = string(w) }
}

// WithReferer sets the navigation referer header.
func WithReferer(url string) Option {
	return func(f map[string]any) { f["referer"] = url }
}

// WithButton picks the mouse button for a click.
func WithButton(b schema.MouseButton) Option {
	return func(f map[string]any) { f["button"] = string(b) }
}

// WithClickCount clicks n times in place.
func WithClickCount(n int) Option {
	return func(f map[string]any) { f["click_count"] = n }
}

// WithForce clicks without the visibility checks.
func WithForce() Option {
	return func(f map[string]any) { f["force"] = true }
}

// WithPosition clicks at a fractional offset inside the element's
// bounding box; {0.5, 0.5} is the center.
func WithPosition(x, y float64) Option {
	return func(f map[string]any) { f["position"] = map[string]any{"x": x, "y": y} }
}

// WithoutClear keeps the element's existing value before filling.
func WithoutClear() Option {
	return func(f map[string]any) { f["clear_first"] = false }
}

// WithPressEnter submits with the Enter key after filling.
func WithPressEnter() Option {
	return func(f map[string]any) { f["press_enter"] = true }
}

// WithTypingDelay types with a per-keystroke delay.
func WithTypingDelay(d time.Duration) Option {
	return func(f map[string]any) { f["typing_delay_ms"] = int(d.Milliseconds()) }
}

// WithoutValidation skips the post-fill value check.
func WithoutValidation() Option {
	return func(f map[string]any) { f["validate_input"] = false }
}

// WithHTML extracts each element's HTML instead of its text.
func WithHTML() Option {
	return func(f map[string]any) { f["extract_type"] = string(schema.ExtractHTML) }
}

// WithAttribute extracts the named attribute from each element.
func WithAttribute(name string) Option {
	return func(f map[string]any) {
		f["extract_type"] = string(schema.ExtractAttribute)
		f["attribute_name"] = name
	}
}

// WithProperty extracts the named DOM property from each element.
func WithProperty(name string) Option {
	return func(f map[string]any) {
		f["extract_type"] = string(schema.ExtractProperty)
		f["property_name"] = name
	}
}

// WithMultiple extracts from every matching element in DOM order.
func WithMultiple() Option {
	return func(f map[string]any) { f["multiple"] = true }
}

// WithoutTrim keeps surrounding whitespace in extracted text.
func WithoutTrim() Option {
	return func(f map[string]any) { f["trim_whitespace"] = false }
}

// WithSelector targets an element-level wait condition.
func WithSelector(sel string) Option {
	return func(f map[string]any) { f["selector"] = sel }
}

// WithTextContent sets the text a text_equals wait compares against.
func WithTextContent(text string) Option {
	return func(f map[string]any) { f["text_content"] = text }
}

// WithCustomJS sets the predicate a custom_script wait polls. js must
// be a zero-argument function expression returning a truthy value.
func WithCustomJS(js string) Option {
	return func(f map[string]any) { f["custom_js"] = js }
}

// WithPollInterval tunes how often element waits re-check.
func WithPollInterval(d time.Duration) Option {
	return func(f map[string]any) { f["poll_interval_ms"] = int(d.Milliseconds()) }
}

func buildFields(base map[string]any, opts []Option) map[string]any {
	for _, opt := range opts {
		opt(base)
	}
	return base
}

// Navigate loads url in the session's page.
func (s *Session) Navigate(ctx context.Context, url string, opts ...Option) (*schema.NavigateResponse, error) {
	fields := buildFields(map[string]any{"url": url}, opts)
	var resp schema.NavigateResponse
	if err := s.c.do(ctx, schema.MethodNavigate, s.id, fields, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Click clicks the first element matching selector.
func (s *Session) Click(ctx context.Context, selector string, opts ...Option) (*schema.ClickResponse, error) {
	fields := buildFields(map[string]any{"selector": selector}, opts)
	var resp schema.ClickResponse
	if err := s.c.do(ctx, schema.MethodClick, s.id, fields, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Fill enters text into the first element matching selector.
func (s *Session) Fill(ctx context.Context, selector, text string, opts ...Option) (*schema.FillResponse, error) {
	fields := buildFields(map[string]any{"selector": selector, "text": text}, opts)
	var resp schema.FillResponse
	if err := s.c.do(ctx, schema.MethodFill, s.id, fields, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Extract reads data from elements matching selector. Without options
// it returns the first element's trimmed text.
func (s *Session) Extract(ctx context.Context, selector string, opts ...Option) (*schema.ExtractResponse, error) {
	fields := buildFields(map[string]any{"selector": selector}, opts)
	var resp schema.ExtractResponse
	if err := s.c.do(ctx, schema.MethodExtract, s.id, fields, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Wait blocks until condition holds or the command times out.
func (s *Session) Wait(ctx context.Context, condition schema.WaitCondition, opts ...Option) (*schema.WaitResponse, error) {
	fields := buildFields(map[string]any{"condition": string(condition)}, opts)
	var resp schema.WaitResponse
	if err := s.c.do(ctx, schema.MethodWait, s.id, fields, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Text extracts the text content of the first element matching
// selector.
func (s *Session) Text(ctx context.Context, selector string, opts ...Option) (string, error) {
	resp, err := s.Extract(ctx, selector, opts...)
	if err != nil {
		return "", err
	}
	text, _ := resp.Data.(string)
	return text, nil
}
