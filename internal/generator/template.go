package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/mattn/go-shellwords"
)

func init() {
	Register("template", func(opts Options) (Generator, error) {
		return NewTemplate(opts), nil
	})
}

// Template is the local fallback used when no remote backend is configured.
// It matches a few keywords in the intent and otherwise echoes the request.
type Template struct {
	opts Options
}

func NewTemplate(opts Options) *Template {
	return &Template{opts: opts}
}

type templateRule struct {
	keywords    []string
	explanation string
	body        string
}

var templateRules = []templateRule{
	{
		keywords:    []string{"date", "time", "now", "timestamp", "clock"},
		explanation: "Prints the current date and time.",
		body:        `print(os.date("%Y-%m-%d %H:%M:%S"))`,
	},
	{
		keywords:    []string{"upper", "uppercase", "shout"},
		explanation: "Prints the arguments in upper case.",
		body:        `print(string.upper(table.concat(args, " ")))`,
	},
	{
		keywords:    []string{"lower", "lowercase"},
		explanation: "Prints the arguments in lower case.",
		body:        `print(string.lower(table.concat(args, " ")))`,
	},
	{
		keywords:    []string{"count", "wc", "words"},
		explanation: "Counts the arguments.",
		body:        `print(#args)`,
	},
	{
		keywords:    []string{"reverse", "rev"},
		explanation: "Prints the arguments reversed.",
		body:        `print(string.reverse(table.concat(args, " ")))`,
	},
}

func (t *Template) Generate(ctx context.Context, intent Intent, correction *Correction) (Candidate, error) {
	if err := ctx.Err(); err != nil {
		return Candidate{}, &Error{Kind: KindTimeout, Backend: "template", Err: err}
	}
	words, err := shellwords.Parse(intent.Text)
	if err != nil {
		words = strings.Fields(intent.Text)
	}
	name := intent.Name
	if name == "" {
		name = Slug(strings.Join(words, " "))
	}
	if name == "" {
		return Candidate{}, newError(KindInvalidResponse, "template", "cannot derive a command name from %q", intent.Text)
	}

	explanation := "Echoes the request; no generative backend is configured."
	body := fmt.Sprintf(`io.stderr(%s)
print(%s)
if #args > 0 then
  print(table.concat(args, " "))
end`, luaQuote("ergo: template backend has no rule for "+intent.Text+"\n"), luaQuote(name))
	if r, ok := matchTemplateRule(words); ok {
		explanation, body = r.explanation, r.body
	}

	var b strings.Builder
	fmt.Fprintf(&b, "-- template for: %s\n", luaComment(intent.Text))
	if correction != nil && strings.TrimSpace(correction.Feedback) != "" {
		fmt.Fprintf(&b, "-- feedback: %s\n", luaComment(correction.Feedback))
	}
	b.WriteString(body)
	b.WriteString("\n")
	return finalize("template", draft{
		Name:        name,
		Script:      b.String(),
		Explanation: explanation,
	}, t.opts.Allow)
}

func matchTemplateRule(words []string) (templateRule, bool) {
	for _, r := range templateRules {
		for _, w := range words {
			lw := strings.ToLower(w)
			for _, k := range r.keywords {
				if lw == k {
					return r, true
				}
			}
		}
	}
	return templateRule{}, false
}
