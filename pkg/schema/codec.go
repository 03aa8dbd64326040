package schema

import (
	"encoding/json"
	"time"
)

// Request is one decoded request frame: the envelope fields plus the
// typed command variant.
type Request struct {
	Envelope
	Cmd Command
}

// Decode parses one request frame. Method-specific fields sit at the
// top level of the frame alongside the envelope, so the same bytes are
// unmarshalled twice: once for the envelope, once for the variant.
//
// Failures return a *CommandError with code INVALID_COMMAND; the
// caller replies without closing the connection. Field-level
// validation is a separate step (Validate) so input sanitization can
// run between decode and validation.
func Decode(frame []byte) (*Request, *CommandError) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, NewCommandError(ErrCodeInvalidCommand, ErrTypeProtocol, "malformed frame: invalid JSON")
	}
	if env.ID == "" {
		return nil, NewCommandError(ErrCodeInvalidCommand, ErrTypeProtocol, "missing request id")
	}
	if env.TimeoutMS == 0 {
		env.TimeoutMS = DefaultTimeoutMS
	}

	var cmd Command
	switch env.Method {
	case MethodNavigate:
		cmd = &NavigateCommand{}
	case MethodClick:
		cmd = &ClickCommand{}
	case MethodFill:
		cmd = &FillCommand{}
	case MethodExtract:
		cmd = &ExtractCommand{}
	case MethodWait:
		cmd = &WaitCommand{}
	case "":
		return nil, NewCommandError(ErrCodeInvalidCommand, ErrTypeProtocol, "missing method")
	default:
		return nil, NewCommandError(ErrCodeInvalidCommand, ErrTypeProtocol, "unknown method %q", env.Method)
	}
	if err := json.Unmarshal(frame, cmd); err != nil {
		return nil, NewCommandError(ErrCodeInvalidCommand, ErrTypeProtocol, "malformed %s fields", env.Method)
	}
	return &Request{Envelope: env, Cmd: cmd}, nil
}

// Timeout returns the request's timeout as a duration, clamped to
// ceiling when ceiling is non-zero.
func (r *Request) Timeout(ceiling time.Duration) time.Duration {
	d := time.Duration(r.TimeoutMS) * time.Millisecond
	if ceiling > 0 && d > ceiling {
		d = ceiling
	}
	return d
}

// Encode marshals any reply value to one wire frame.
func Encode(reply any) ([]byte, error) {
	return json.Marshal(reply)
}

// Now returns the wire timestamp for the current instant: fractional
// seconds since the Unix epoch.
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
