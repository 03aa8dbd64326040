package executor

import (
	"context"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"

	"github.com/mshafei721/AIAG-P/pkg/schema"
)

func (e *Executor) fill(ctx context.Context, p *rod.Page, cmd *schema.FillCommand, timeout time.Duration) (*schema.FillResult, error) {
	els, err := p.Elements(cmd.Selector)
	if err != nil {
		return nil, fillError(err, timeout)
	}
	if len(els) == 0 {
		return nil, schema.NewCommandError(schema.ErrCodeElementNotFound, schema.ErrTypeElement, "element not found: %s", cmd.Selector)
	}
	el := els.First()

	tag := elementTag(el)
	valueBacked := tag == "input" || tag == "textarea"
	if !valueBacked && !contentEditable(el) {
		return nil, schema.NewCommandError(schema.ErrCodeElementNotInteractable, schema.ErrTypeInteraction, "element <%s> is not fillable: %s", tag, cmd.Selector)
	}

	elementType := tag
	if attr, err := el.Attribute("type"); err == nil && attr != nil && *attr != "" {
		elementType = *attr
	}

	var previous string
	if valueBacked {
		previous = propertyString(el, "value")
	}

	if cmd.ClearFirst {
		if err := el.SelectAllText(); err != nil {
			return nil, fillError(err, timeout)
		}
	}

	if cmd.TypingDelayMS > 0 {
		err = typeWithDelay(ctx, p, el, cmd.Text, time.Duration(cmd.TypingDelayMS)*time.Millisecond)
	} else {
		err = el.Input(cmd.Text)
	}
	if err != nil {
		return nil, fillError(err, timeout)
	}

	if cmd.PressEnter {
		if err := el.Type(input.Enter); err != nil {
			return nil, fillError(err, timeout)
		}
	}

	current := cmd.Text
	if valueBacked {
		current = propertyString(el, "value")
	}
	validationPassed := true
	if cmd.ValidateInput {
		validationPassed = current == cmd.Text
	}

	return &schema.FillResult{
		ElementFound:     true,
		ElementType:      elementType,
		TextEntered:      cmd.Text,
		PreviousValue:    previous,
		CurrentValue:     current,
		ValidationPassed: validationPassed,
	}, nil
}

// typeWithDelay emulates per-character typing. Input pastes the whole
// string at once, which defeats pages that watch key cadence.
func typeWithDelay(ctx context.Context, p *rod.Page, el *rod.Element, text string, delay time.Duration) error {
	if err := el.Focus(); err != nil {
		return err
	}
	for _, r := range text {
		if err := p.InsertText(string(r)); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil
}

func contentEditable(el *rod.Element) bool {
	res, err := el.Eval(`() => this.isContentEditable === true`)
	if err != nil {
		return false
	}
	return res.Value.Bool()
}

func fillError(err error, timeout time.Duration) error {
	if deadlineHit(err) {
		return timeoutError("fill", timeout)
	}
	return schema.NewCommandError(schema.ErrCodeElementNotInteractable, schema.ErrTypeInteraction, "fill failed: %v", err)
}
