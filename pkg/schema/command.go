package schema

import "encoding/json"

// Method names accepted in the "method" field of a request frame.
const (
	MethodNavigate = "navigate"
	MethodClick    = "click"
	MethodFill     = "fill"
	MethodExtract  = "extract"
	MethodWait     = "wait"
)

// Command timeout bounds in milliseconds. A frame that omits "timeout"
// gets DefaultTimeoutMS; values outside [MinTimeoutMS, MaxTimeoutMS]
// fail validation. The server additionally clamps to its configured
// ceiling at dispatch time.
const (
	DefaultTimeoutMS = 30000
	MinTimeoutMS     = 1000
	MaxTimeoutMS     = 300000
)

// Envelope carries the method-independent fields of a request frame.
// APIKey is only honored on the first frame of a connection.
type Envelope struct {
	ID        string `json:"id"`
	Method    string `json:"method"`
	SessionID string `json:"session_id,omitempty"`
	TimeoutMS int    `json:"timeout,omitempty"`
	APIKey    string `json:"api_key,omitempty"`
}

// Command is implemented by every typed command variant.
type Command interface {
	// CommandMethod returns the wire method name of the variant.
	CommandMethod() string
	// Mutating reports whether executing the command can change page
	// state. Mutating commands invalidate the session's cache entries
	// and carry a state diff in their reply.
	Mutating() bool
}

// WaitUntil names the page-lifecycle milestone a navigation waits for.
type WaitUntil string

const (
	WaitUntilLoad             WaitUntil = "load"
	WaitUntilDOMContentLoaded WaitUntil = "domcontentloaded"
	WaitUntilNetworkIdle      WaitUntil = "networkidle"
)

// MouseButton selects the button used by a click command.
type MouseButton string

const (
	MouseButtonLeft   MouseButton = "left"
	MouseButtonRight  MouseButton = "right"
	MouseButtonMiddle MouseButton = "middle"
)

// ExtractKind selects what an extract command reads from each element.
type ExtractKind string

const (
	ExtractText      ExtractKind = "text"
	ExtractHTML      ExtractKind = "html"
	ExtractAttribute ExtractKind = "attribute"
	ExtractProperty  ExtractKind = "property"
)

// WaitCondition names the condition a wait command polls for.
type WaitCondition string

const (
	WaitLoad             WaitCondition = "load"
	WaitDOMContentLoaded WaitCondition = "domcontentloaded"
	WaitNetworkIdle      WaitCondition = "networkidle"
	WaitVisible          WaitCondition = "visible"
	WaitHidden           WaitCondition = "hidden"
	WaitAttached         WaitCondition = "attached"
	WaitDetached         WaitCondition = "detached"
	WaitTextEquals       WaitCondition = "text_equals"
	WaitCustomScript     WaitCondition = "custom_script"
)

// ElementWait reports whether the condition targets a selector rather
// than the page as a whole.
func (c WaitCondition) ElementWait() bool {
	switch c {
	case WaitVisible, WaitHidden, WaitAttached, WaitDetached, WaitTextEquals:
		return true
	}
	return false
}

// Position is a fractional coordinate inside an element's bounding box,
// both axes in [0, 1]. {0.5, 0.5} is the element center.
type Position struct {
	X float64 `json:"x" validate:"gte=0,lte=1"`
	Y float64 `json:"y" validate:"gte=0,lte=1"`
}

// NavigateCommand loads a URL in the session's page and waits for the
// requested lifecycle milestone.
type NavigateCommand struct {
	URL       string    `json:"url" validate:"required"`
	WaitUntil WaitUntil `json:"wait_until,omitempty" validate:"omitempty,oneof=load domcontentloaded networkidle"`
	Referer   string    `json:"referer,omitempty"`
}

func (*NavigateCommand) CommandMethod() string { return MethodNavigate }
func (*NavigateCommand) Mutating() bool        { return true }

// UnmarshalJSON applies wire defaults before decoding.
func (c *NavigateCommand) UnmarshalJSON(data []byte) error {
	type alias NavigateCommand
	a := alias{WaitUntil: WaitUntilLoad}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if a.WaitUntil == "" {
		a.WaitUntil = WaitUntilLoad
	}
	*c = NavigateCommand(a)
	return nil
}

// ClickCommand clicks the first element matching Selector.
type ClickCommand struct {
	Selector   string      `json:"selector" validate:"required,min=1"`
	Button     MouseButton `json:"button,omitempty" validate:"omitempty,oneof=left right middle"`
	ClickCount int         `json:"click_count,omitempty" validate:"omitempty,gte=1,lte=10"`
	Force      bool        `json:"force,omitempty"`
	Position   *Position   `json:"position,omitempty"`
}

func (*ClickCommand) CommandMethod() string { return MethodClick }
func (*ClickCommand) Mutating() bool        { return true }

func (c *ClickCommand) UnmarshalJSON(data []byte) error {
	type alias ClickCommand
	a := alias{Button: MouseButtonLeft, ClickCount: 1}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if a.Button == "" {
		a.Button = MouseButtonLeft
	}
	if a.ClickCount == 0 {
		a.ClickCount = 1
	}
	*c = ClickCommand(a)
	return nil
}

// FillCommand enters text into the first element matching Selector.
// ClearFirst and ValidateInput default to true on the wire.
type FillCommand struct {
	Selector      string `json:"selector" validate:"required,min=1"`
	Text          string `json:"text"`
	ClearFirst    bool   `json:"clear_first"`
	PressEnter    bool   `json:"press_enter,omitempty"`
	TypingDelayMS int    `json:"typing_delay_ms,omitempty" validate:"gte=0,lte=1000"`
	ValidateInput bool   `json:"validate_input"`
}

func (*FillCommand) CommandMethod() string { return MethodFill }
func (*FillCommand) Mutating() bool        { return true }

func (c *FillCommand) UnmarshalJSON(data []byte) error {
	type alias FillCommand
	a := alias{ClearFirst: true, ValidateInput: true}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*c = FillCommand(a)
	return nil
}

// ExtractCommand reads data from one or all elements matching Selector.
// TrimWhitespace defaults to true on the wire.
type ExtractCommand struct {
	Selector       string      `json:"selector" validate:"required,min=1"`
	Kind           ExtractKind `json:"extract_type,omitempty" validate:"omitempty,oneof=text html attribute property"`
	AttributeName  string      `json:"attribute_name,omitempty"`
	PropertyName   string      `json:"property_name,omitempty"`
	Multiple       bool        `json:"multiple,omitempty"`
	TrimWhitespace bool        `json:"trim_whitespace"`
}

func (*ExtractCommand) CommandMethod() string { return MethodExtract }
func (*ExtractCommand) Mutating() bool        { return false }

func (c *ExtractCommand) UnmarshalJSON(data []byte) error {
	type alias ExtractCommand
	a := alias{Kind: ExtractText, TrimWhitespace: true}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if a.Kind == "" {
		a.Kind = ExtractText
	}
	*c = ExtractCommand(a)
	return nil
}

// WaitCommand blocks until a page or element condition holds, polling
// element conditions at PollIntervalMS. CustomJS must be a zero-argument
// function expression, e.g. "() => window.app && window.app.ready".
type WaitCommand struct {
	Condition      WaitCondition `json:"condition" validate:"required,oneof=load domcontentloaded networkidle visible hidden attached detached text_equals custom_script"`
	Selector       string        `json:"selector,omitempty"`
	TextContent    string        `json:"text_content,omitempty"`
	CustomJS       string        `json:"custom_js,omitempty"`
	PollIntervalMS int           `json:"poll_interval_ms,omitempty" validate:"omitempty,gte=50,lte=5000"`
}

func (*WaitCommand) CommandMethod() string { return MethodWait }
func (*WaitCommand) Mutating() bool        { return false }

func (c *WaitCommand) UnmarshalJSON(data []byte) error {
	type alias WaitCommand
	a := alias{PollIntervalMS: 100}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if a.PollIntervalMS == 0 {
		a.PollIntervalMS = 100
	}
	*c = WaitCommand(a)
	return nil
}

// CacheEligible reports whether a command's result may be served from
// the result cache. Only extracts qualify: wait results are inherently
// time-sensitive and mutating commands change the state they report.
func CacheEligible(cmd Command) bool {
	_, ok := cmd.(*ExtractCommand)
	return ok
}
