package executor

import (
	"strings"
	"time"

	"github.com/go-rod/rod"

	"github.com/mshafei721/AIAG-P/pkg/schema"
)

func (e *Executor) extract(p *rod.Page, cmd *schema.ExtractCommand, timeout time.Duration) (*schema.ExtractResult, error) {
	els, err := p.Elements(cmd.Selector)
	if err != nil {
		return nil, extractError(err, timeout)
	}
	count := len(els)
	if count == 0 {
		return nil, schema.NewCommandError(schema.ErrCodeElementNotFound, schema.ErrTypeElement, "no elements found: %s", cmd.Selector)
	}

	n := 1
	if cmd.Multiple {
		n = count
	}
	data := make([]any, 0, n)
	info := make([]schema.ElementInfo, 0, n)
	for i := 0; i < n; i++ {
		el := els[i]
		v, err := extractOne(el, cmd)
		if err != nil {
			if deadlineHit(err) {
				return nil, timeoutError("extract", timeout)
			}
			// One bad element does not fail the batch.
			e.log.Warn("element extraction failed",
				"selector", cmd.Selector,
				"index", i,
				"error", err)
			data = append(data, "")
			info = append(info, schema.ElementInfo{Tag: "unknown", Index: i})
			continue
		}
		data = append(data, v)
		meta := schema.ElementInfo{Tag: elementTag(el), Index: i}
		if attr, err := el.Attribute("class"); err == nil && attr != nil {
			meta.Class = *attr
		}
		info = append(info, meta)
	}

	res := &schema.ExtractResult{ElementsFound: count, ElementInfo: info}
	if cmd.Multiple {
		res.Data = data
	} else {
		res.Data = data[0]
	}
	return res, nil
}

// extractOne reads the requested value from a single element. Absent
// attributes and null properties come back as empty strings so the
// data slice stays index-aligned with the match set.
func extractOne(el *rod.Element, cmd *schema.ExtractCommand) (any, error) {
	switch cmd.Kind {
	case schema.ExtractHTML:
		res, err := el.Eval(`() => this.innerHTML`)
		if err != nil {
			return nil, err
		}
		return res.Value.Str(), nil
	case schema.ExtractAttribute:
		attr, err := el.Attribute(cmd.AttributeName)
		if err != nil {
			return nil, err
		}
		if attr == nil {
			return "", nil
		}
		return *attr, nil
	case schema.ExtractProperty:
		v, err := el.Property(cmd.PropertyName)
		if err != nil {
			return nil, err
		}
		if v.Val() == nil {
			return "", nil
		}
		return v.Val(), nil
	default:
		text, err := el.Text()
		if err != nil {
			return nil, err
		}
		if cmd.TrimWhitespace {
			text = strings.TrimSpace(text)
		}
		return text, nil
	}
}

func extractError(err error, timeout time.Duration) error {
	if deadlineHit(err) {
		return timeoutError("extract", timeout)
	}
	return schema.NewCommandError(schema.ErrCodeExtractionFailed, schema.ErrTypeExtraction, "extract failed: %v", err)
}
