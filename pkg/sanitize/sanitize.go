// Package sanitize screens command inputs for script-injection
// patterns before they reach schema validation or a browser page.
// Rejections report the matched pattern category, never the
// offending input itself.
package sanitize

import (
	"net/url"
	"strings"

	"github.com/mshafei721/AIAG-P/pkg/schema"
)

// Config bounds input sizes and sets the navigation policy.
type Config struct {
	// MaxSelectorLen caps CSS selector length in bytes.
	MaxSelectorLen int
	// MaxTextLen caps free-text input length in bytes.
	MaxTextLen int
	// MaxURLLen caps navigation URL length in bytes.
	MaxURLLen int
	// MaxScriptLen caps custom wait-script length in bytes.
	MaxScriptLen int
	// AllowCustomScript permits wait commands with a custom_js
	// condition. Off by default.
	AllowCustomScript bool
	// AllowNonHTTPURLs opens the navigation scheme gate beyond http
	// and https. Injection patterns are still rejected.
	AllowNonHTTPURLs bool
	// AllowedDomains restricts navigation to the listed domains when
	// non-empty. Entries may use a "*.example.com" wildcard form.
	AllowedDomains []string
	// BlockedDomains rejects navigation to the listed domains.
	// Checked before AllowedDomains.
	BlockedDomains []string
}

// DefaultConfig returns the sanitizer limits used by the gateway
// unless overridden.
func DefaultConfig() *Config {
	return &Config{
		MaxSelectorLen: 1000,
		MaxTextLen:     10000,
		MaxURLLen:      2048,
		MaxScriptLen:   5000,
	}
}

// WithLimits overrides the selector, text, and URL size ceilings.
func (c *Config) WithLimits(selector, text, url int) *Config {
	c.MaxSelectorLen = selector
	c.MaxTextLen = text
	c.MaxURLLen = url
	return c
}

// WithCustomScript toggles custom wait-script execution.
func (c *Config) WithCustomScript(allow bool) *Config {
	c.AllowCustomScript = allow
	return c
}

// WithNonHTTPURLs toggles the navigation scheme gate.
func (c *Config) WithNonHTTPURLs(allow bool) *Config {
	c.AllowNonHTTPURLs = allow
	return c
}

// WithDomainPolicy sets the navigation allow and block lists.
func (c *Config) WithDomainPolicy(allowed, blocked []string) *Config {
	c.AllowedDomains = allowed
	c.BlockedDomains = blocked
	return c
}

// Sanitizer checks decoded commands against the configured policy.
// It is safe for concurrent use.
type Sanitizer struct {
	cfg    *Config
	policy *domainPolicy
}

// New builds a Sanitizer from cfg. A nil cfg uses DefaultConfig.
func New(cfg *Config) *Sanitizer {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Sanitizer{
		cfg:    cfg,
		policy: newDomainPolicy(cfg.AllowedDomains, cfg.BlockedDomains),
	}
}

// Check inspects every string field of the decoded command. It
// normalizes selector and URL fields in place and returns a typed
// rejection on the first violation. Empty fields are skipped; schema
// validation owns required-field errors.
func (s *Sanitizer) Check(req *schema.Request) *schema.CommandError {
	switch cmd := req.Cmd.(type) {
	case *schema.NavigateCommand:
		cmd.URL = strings.TrimSpace(cmd.URL)
		return s.checkURL(cmd.URL)
	case *schema.ClickCommand:
		cmd.Selector = strings.TrimSpace(cmd.Selector)
		return s.checkSelector(cmd.Selector)
	case *schema.FillCommand:
		cmd.Selector = strings.TrimSpace(cmd.Selector)
		if cerr := s.checkSelector(cmd.Selector); cerr != nil {
			return cerr
		}
		return s.checkText(cmd.Text, "text")
	case *schema.ExtractCommand:
		cmd.Selector = strings.TrimSpace(cmd.Selector)
		return s.checkSelector(cmd.Selector)
	case *schema.WaitCommand:
		cmd.Selector = strings.TrimSpace(cmd.Selector)
		if cerr := s.checkSelector(cmd.Selector); cerr != nil {
			return cerr
		}
		if cerr := s.checkText(cmd.TextContent, "text_content"); cerr != nil {
			return cerr
		}
		return s.checkScript(cmd.CustomJS)
	}
	return nil
}

func (s *Sanitizer) checkSelector(sel string) *schema.CommandError {
	if sel == "" {
		return nil
	}
	if len(sel) > s.cfg.MaxSelectorLen {
		return tooLong("selector", s.cfg.MaxSelectorLen)
	}
	if r := matchRule(selectorRules, sel); r != "" {
		return unsafe("selector", r)
	}
	if !balancedSelector(sel) {
		return unsafe("selector", "unbalanced_delimiters")
	}
	return nil
}

func (s *Sanitizer) checkText(text, field string) *schema.CommandError {
	if text == "" {
		return nil
	}
	if len(text) > s.cfg.MaxTextLen {
		return tooLong(field, s.cfg.MaxTextLen)
	}
	if r := matchRule(scriptRules, text); r != "" {
		return unsafe(field, r)
	}
	return nil
}

func (s *Sanitizer) checkURL(raw string) *schema.CommandError {
	if raw == "" {
		return nil
	}
	if len(raw) > s.cfg.MaxURLLen {
		return tooLong("url", s.cfg.MaxURLLen)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return schema.NewCommandError(schema.ErrCodeInvalidURL, schema.ErrTypeValidation,
			"url is not parseable").WithDetail("field", "url")
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" && !s.cfg.AllowNonHTTPURLs {
		return schema.NewCommandError(schema.ErrCodeInvalidURL, schema.ErrTypeValidation,
			"url scheme is not allowed").
			WithDetail("field", "url").
			WithDetail("allowed_schemes", []string{"http", "https"})
	}
	if r := matchRule(scriptRules, raw); r != "" {
		return unsafe("url", r)
	}
	if !s.policy.Allows(u.Hostname()) {
		return unsafe("url", "domain_policy")
	}
	return nil
}

func (s *Sanitizer) checkScript(js string) *schema.CommandError {
	if js == "" {
		return nil
	}
	if !s.cfg.AllowCustomScript {
		return schema.NewCommandError(schema.ErrCodeUnsafeInput, schema.ErrTypeSecurity,
			"custom script execution is disabled").WithDetail("field", "custom_js")
	}
	if len(js) > s.cfg.MaxScriptLen {
		return tooLong("custom_js", s.cfg.MaxScriptLen)
	}
	if blockedScriptCall.MatchString(js) {
		return unsafe("custom_js", "blocked_function")
	}
	return nil
}

func unsafe(field, rule string) *schema.CommandError {
	return schema.NewCommandError(schema.ErrCodeUnsafeInput, schema.ErrTypeSecurity,
		"%s rejected by input policy", field).
		WithDetail("field", field).
		WithDetail("rule", rule)
}

func tooLong(field string, limit int) *schema.CommandError {
	return schema.NewCommandError(schema.ErrCodeUnsafeInput, schema.ErrTypeSecurity,
		"%s exceeds maximum length", field).
		WithDetail("field", field).
		WithDetail("max_length", limit)
}

// balancedSelector verifies bracket pairing outside quoted runs, so a
// truncated attribute selector cannot smuggle an open construct into
// the page.
func balancedSelector(sel string) bool {
	var stack []byte
	var quote byte
	for i := 0; i < len(sel); i++ {
		ch := sel[i]
		if quote != 0 {
			if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '"', '\'':
			quote = ch
		case '(', '[', '{':
			stack = append(stack, ch)
		case ')':
			if len(stack) == 0 || stack[len(stack)-1] != '(' {
				return false
			}
			stack = stack[:len(stack)-1]
		case ']':
			if len(stack) == 0 || stack[len(stack)-1] != '[' {
				return false
			}
			stack = stack[:len(stack)-1]
		case '}':
			if len(stack) == 0 || stack[len(stack)-1] != '{' {
				return false
			}
			stack = stack[:len(stack)-1]
		}
	}
	return len(stack) == 0 && quote == 0
}
