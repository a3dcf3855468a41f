package generator

import (
	"regexp"
	"strings"

	"github.com/flarebyte/ergo/internal/permission"
)

// draft is a candidate as a backend produced it, before validation.
type draft struct {
	Name        string
	Script      string
	Permissions []string
	Explanation string
}

// finalize validates a draft. Permissions go through the grammar and the
// configured allow-list; any failure rejects the whole candidate.
func finalize(backend string, d draft, allow []permission.Kind) (Candidate, error) {
	if strings.TrimSpace(d.Script) == "" {
		return Candidate{}, newError(KindInvalidResponse, backend, "empty script")
	}
	set, err := permission.ParseAll(d.Permissions)
	if err != nil {
		return Candidate{}, &Error{Kind: KindUnrecognizedPermission, Backend: backend, Err: err}
	}
	if err := set.Validate(allow); err != nil {
		return Candidate{}, &Error{Kind: KindUnrecognizedPermission, Backend: backend, Err: err}
	}
	return Candidate{
		Name:        Slug(d.Name),
		Script:      d.Script,
		Permissions: set,
		Explanation: strings.TrimSpace(d.Explanation),
	}, nil
}

var slugStrip = regexp.MustCompile(`[^a-z0-9._-]+`)

// Slug turns free text into a command name candidate: lower case words
// joined by dashes, at most four words.
func Slug(s string) string {
	words := strings.Fields(strings.ToLower(s))
	if len(words) > 4 {
		words = words[:4]
	}
	for i, w := range words {
		words[i] = slugStrip.ReplaceAllString(w, "")
	}
	out := strings.Trim(strings.Join(words, "-"), "-._")
	for strings.Contains(out, "--") {
		out = strings.ReplaceAll(out, "--", "-")
	}
	if len(out) > 76 {
		out = strings.TrimRight(out[:76], "-._")
	}
	return out
}
