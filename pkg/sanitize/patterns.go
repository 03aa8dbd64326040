package sanitize

import "regexp"

// rule pairs a pattern category name with its compiled expression.
// The category is what a rejection reports to the client.
type rule struct {
	name string
	re   *regexp.Regexp
}

// scriptRules cover script injection in free text and URLs.
var scriptRules = []rule{
	{"script_tag", regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)},
	{"javascript_scheme", regexp.MustCompile(`(?i)javascript:`)},
	{"data_html", regexp.MustCompile(`(?i)data:text/html`)},
	{"vbscript_scheme", regexp.MustCompile(`(?i)vbscript:`)},
	{"event_handler", regexp.MustCompile(`(?i)\bon\w+\s*=`)},
	{"eval_call", regexp.MustCompile(`(?i)\beval\s*\(`)},
	{"function_constructor", regexp.MustCompile(`\bFunction\s*\(`)},
	{"timer_call", regexp.MustCompile(`(?i)\bset(?:Timeout|Interval)\s*\(`)},
	{"global_object", regexp.MustCompile(`(?i)\b(?:document|window|location)\s*\.`)},
	{"dialog_call", regexp.MustCompile(`(?i)\b(?:alert|confirm|prompt)\s*\(`)},
}

// selectorRules cover constructs that have no place in a CSS
// selector. data: is banned outright here, unlike in URLs.
var selectorRules = []rule{
	{"javascript_scheme", regexp.MustCompile(`(?i)javascript:`)},
	{"data_scheme", regexp.MustCompile(`(?i)data:`)},
	{"css_expression", regexp.MustCompile(`(?i)expression\s*\(`)},
	{"css_import", regexp.MustCompile(`(?i)@import`)},
	{"css_url", regexp.MustCompile(`(?i)\burl\s*\(`)},
	{"event_handler", regexp.MustCompile(`(?i)\bon\w+\s*=`)},
	{"script_tag", regexp.MustCompile(`(?i)</?script`)},
}

// blockedScriptCall rejects calls that would let a custom wait
// script escalate beyond reading page state.
var blockedScriptCall = regexp.MustCompile(
	`(?i)\b(?:eval|Function|setTimeout|setInterval|XMLHttpRequest|fetch|import|require)\s*\(`)

func matchRule(rules []rule, input string) string {
	for _, r := range rules {
		if r.re.MatchString(input) {
			return r.name
		}
	}
	return ""
}
