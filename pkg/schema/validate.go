package schema

import (
	"github.com/go-playground/validator/v10"
)

// validate is the shared field validator. Struct tags cover ranges and
// enums; cross-field rules that tags cannot express cleanly live in
// Validate below.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a decoded request against the command schema. It
// returns a *CommandError with code INVALID_PARAMS naming the first
// failing rule, or nil.
func Validate(req *Request) *CommandError {
	if req.TimeoutMS < MinTimeoutMS || req.TimeoutMS > MaxTimeoutMS {
		return invalidParam("timeout", "must be between %d and %d ms", MinTimeoutMS, MaxTimeoutMS)
	}
	if err := validate.Struct(req.Cmd); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			return invalidParam(fieldName(errs[0]), "failed %q rule", errs[0].Tag())
		}
		return NewCommandError(ErrCodeInvalidParams, ErrTypeValidation, "invalid parameters")
	}

	switch cmd := req.Cmd.(type) {
	case *ExtractCommand:
		if cmd.Kind == ExtractAttribute && cmd.AttributeName == "" {
			return invalidParam("attribute_name", "required for attribute extraction")
		}
		if cmd.Kind == ExtractProperty && cmd.PropertyName == "" {
			return invalidParam("property_name", "required for property extraction")
		}
	case *WaitCommand:
		if cmd.Condition.ElementWait() && cmd.Selector == "" {
			return invalidParam("selector", "required for %s condition", cmd.Condition)
		}
		if cmd.Condition == WaitTextEquals && cmd.TextContent == "" {
			return invalidParam("text_content", "required for text_equals condition")
		}
		if cmd.Condition == WaitCustomScript && cmd.CustomJS == "" {
			return invalidParam("custom_js", "required for custom_script condition")
		}
	}
	return nil
}

func invalidParam(field, format string, args ...any) *CommandError {
	ce := NewCommandError(ErrCodeInvalidParams, ErrTypeValidation, "invalid %s: "+format, append([]any{field}, args...)...)
	return ce.WithDetail("field", field)
}

// fieldName maps a validator error to the wire field name. The JSON
// names diverge from the Go names, so translate the common ones.
func fieldName(fe validator.FieldError) string {
	switch fe.Field() {
	case "URL":
		return "url"
	case "WaitUntil":
		return "wait_until"
	case "Selector":
		return "selector"
	case "Button":
		return "button"
	case "ClickCount":
		return "click_count"
	case "Text":
		return "text"
	case "TypingDelayMS":
		return "typing_delay_ms"
	case "Kind":
		return "extract_type"
	case "AttributeName":
		return "attribute_name"
	case "PropertyName":
		return "property_name"
	case "Condition":
		return "condition"
	case "TextContent":
		return "text_content"
	case "CustomJS":
		return "custom_js"
	case "PollIntervalMS":
		return "poll_interval_ms"
	case "X", "Y":
		return "position"
	}
	return fe.Field()
}
