package schema

// ResponseMeta carries the fields common to every success reply.
// Embedded in the per-method response types so the wire object stays
// flat, matching the request framing.
type ResponseMeta struct {
	ID              string     `json:"id"`
	Success         bool       `json:"success"`
	Timestamp       float64    `json:"timestamp"`
	ExecutionTimeMS int64      `json:"execution_time_ms"`
	SessionID       string     `json:"session_id,omitempty"`
	FromCache       bool       `json:"from_cache,omitempty"`
	StateDiff       *StateDiff `json:"state_diff,omitempty"`
}

// StateDiff summarizes the observable page changes caused by a mutating
// command. Signals are coarse: the final URL, the title, and whether the
// DOM element population changed.
type StateDiff struct {
	URLChanged   bool   `json:"url_changed"`
	TitleChanged bool   `json:"title_changed"`
	DOMChanged   bool   `json:"dom_changed"`
	URL          string `json:"url,omitempty"`
	Title        string `json:"title,omitempty"`
}

// Changed reports whether any observed signal moved.
func (d *StateDiff) Changed() bool {
	if d == nil {
		return false
	}
	return d.URLChanged || d.TitleChanged || d.DOMChanged
}

// NavigateResult reports the outcome of a navigation.
type NavigateResult struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	StatusCode int    `json:"status_code,omitempty"`
	Redirected bool   `json:"redirected"`
	LoadTimeMS int64  `json:"load_time_ms"`
}

// Point is an absolute viewport coordinate in CSS pixels.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ClickResult reports what was clicked and where.
type ClickResult struct {
	ElementFound   bool   `json:"element_found"`
	ElementVisible bool   `json:"element_visible"`
	ClickPosition  Point  `json:"click_position"`
	ElementText    string `json:"element_text"`
	ElementTag     string `json:"element_tag"`
}

// FillResult reports the element's value before and after the fill.
// ValidationPassed is only meaningful when the command requested
// validation; a mismatch is reported, not treated as a failure.
type FillResult struct {
	ElementFound     bool   `json:"element_found"`
	ElementType      string `json:"element_type"`
	TextEntered      string `json:"text_entered"`
	PreviousValue    string `json:"previous_value"`
	CurrentValue     string `json:"current_value"`
	ValidationPassed bool   `json:"validation_passed"`
}

// ElementInfo describes one matched element in an extract result.
type ElementInfo struct {
	Tag   string `json:"tag"`
	Class string `json:"class"`
	Index int    `json:"index"`
}

// ExtractResult carries the extracted data. Data is a string for single
// extraction and an ordered slice (DOM order) when Multiple was set.
type ExtractResult struct {
	ElementsFound int           `json:"elements_found"`
	Data          any           `json:"data"`
	ElementInfo   []ElementInfo `json:"element_info"`
}

// WaitResult reports how a wait resolved.
type WaitResult struct {
	ConditionMet     bool           `json:"condition_met"`
	WaitTimeMS       int64          `json:"wait_time_ms"`
	FinalState       string         `json:"final_state"`
	ElementCount     int            `json:"element_count,omitempty"`
	ConditionDetails map[string]any `json:"condition_details,omitempty"`
}

// Per-method success replies. Embedding flattens both structs into one
// wire object: {"id": ..., "success": true, ..., "url": ..., "title": ...}.
type (
	NavigateResponse struct {
		ResponseMeta
		NavigateResult
	}
	ClickResponse struct {
		ResponseMeta
		ClickResult
	}
	FillResponse struct {
		ResponseMeta
		FillResult
	}
	ExtractResponse struct {
		ResponseMeta
		ExtractResult
	}
	WaitResponse struct {
		ResponseMeta
		WaitResult
	}
)

// BuildResponse pairs a result payload with its reply envelope. The
// payload must be one of the five *Result types.
func BuildResponse(meta ResponseMeta, payload any) any {
	meta.Success = true
	switch r := payload.(type) {
	case *NavigateResult:
		return &NavigateResponse{ResponseMeta: meta, NavigateResult: *r}
	case *ClickResult:
		return &ClickResponse{ResponseMeta: meta, ClickResult: *r}
	case *FillResult:
		return &FillResponse{ResponseMeta: meta, FillResult: *r}
	case *ExtractResult:
		return &ExtractResponse{ResponseMeta: meta, ExtractResult: *r}
	case *WaitResult:
		return &WaitResponse{ResponseMeta: meta, WaitResult: *r}
	}
	return nil
}
