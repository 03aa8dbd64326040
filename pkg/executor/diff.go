package executor

import (
	"github.com/go-rod/rod"

	"github.com/mshafei721/AIAG-P/pkg/schema"
)

// domSizeJS is the cheap structural signal compared around mutating
// commands. Element count is coarse but moves whenever the DOM
// population changes, which is all cache invalidation needs.
const domSizeJS = `() => document.getElementsByTagName("*").length`

// pageState is the observable-signal snapshot taken before and after a
// mutating command.
type pageState struct {
	URL   string
	Title string
	Nodes int
}

// capturePageState reads the current signals, best effort. A page that
// is mid-navigation may refuse either read; the zero values then simply
// register as a change.
func capturePageState(p *rod.Page) pageState {
	var st pageState
	if info, err := p.Info(); err == nil {
		st.URL = info.URL
		st.Title = info.Title
	}
	if res, err := p.Eval(domSizeJS); err == nil {
		st.Nodes = res.Value.Int()
	}
	return st
}

// diffStates folds two snapshots into the wire diff envelope. URL and
// title are only carried when they moved.
func diffStates(before, after pageState) *schema.StateDiff {
	d := &schema.StateDiff{
		URLChanged:   before.URL != after.URL,
		TitleChanged: before.Title != after.Title,
		DOMChanged:   before.Nodes != after.Nodes,
	}
	if d.URLChanged {
		d.URL = after.URL
	}
	if d.TitleChanged {
		d.Title = after.Title
	}
	return d
}
