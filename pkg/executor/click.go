package executor

import (
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/mshafei721/AIAG-P/pkg/schema"
)

func (e *Executor) click(p *rod.Page, cmd *schema.ClickCommand, timeout time.Duration) (*schema.ClickResult, error) {
	els, err := p.Elements(cmd.Selector)
	if err != nil {
		return nil, clickError(err, timeout)
	}
	if len(els) == 0 {
		return nil, schema.NewCommandError(schema.ErrCodeElementNotFound, schema.ErrTypeElement, "element not found: %s", cmd.Selector)
	}
	el := els.First()

	visible, err := el.Visible()
	if err != nil {
		return nil, clickError(err, timeout)
	}
	if !visible && !cmd.Force {
		return nil, schema.NewCommandError(schema.ErrCodeElementNotVisible, schema.ErrTypeElement, "element not visible: %s", cmd.Selector)
	}

	text, _ := el.Text()
	tag := elementTag(el)

	var box *proto.DOMRect
	if shape, err := el.Shape(); err == nil {
		box = shape.Box()
	}
	point := clickPoint(box, cmd.Position)

	// A forced or positioned click bypasses rod's interactability walk
	// and drives the mouse at the computed coordinate directly.
	if cmd.Force || cmd.Position != nil {
		if err := p.Mouse.MoveTo(proto.Point{X: float64(point.X), Y: float64(point.Y)}); err != nil {
			return nil, clickError(err, timeout)
		}
		if err := p.Mouse.Click(mouseButton(cmd.Button), cmd.ClickCount); err != nil {
			return nil, clickError(err, timeout)
		}
	} else if err := el.Click(mouseButton(cmd.Button), cmd.ClickCount); err != nil {
		return nil, clickError(err, timeout)
	}

	return &schema.ClickResult{
		ElementFound:   true,
		ElementVisible: visible,
		ClickPosition:  point,
		ElementText:    text,
		ElementTag:     tag,
	}, nil
}

// clickPoint computes the viewport coordinate to click: the fractional
// position inside box when one was given, else the box center. A nil
// box degrades to the origin.
func clickPoint(box *proto.DOMRect, pos *schema.Position) schema.Point {
	if box == nil {
		return schema.Point{}
	}
	if pos != nil {
		return schema.Point{
			X: int(box.X + box.Width*pos.X),
			Y: int(box.Y + box.Height*pos.Y),
		}
	}
	return schema.Point{
		X: int(box.X + box.Width/2),
		Y: int(box.Y + box.Height/2),
	}
}

func mouseButton(b schema.MouseButton) proto.InputMouseButton {
	switch b {
	case schema.MouseButtonRight:
		return proto.InputMouseButtonRight
	case schema.MouseButtonMiddle:
		return proto.InputMouseButtonMiddle
	default:
		return proto.InputMouseButtonLeft
	}
}

func clickError(err error, timeout time.Duration) error {
	if deadlineHit(err) {
		return timeoutError("click", timeout)
	}
	return schema.NewCommandError(schema.ErrCodeElementNotInteractable, schema.ErrTypeInteraction, "click failed: %v", err)
}
