package generator

import (
	"encoding/json"
	"errors"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// payloadSchema is the shape a remote model must answer with. Definitions are
// closed, so unexpected fields are rejected.
const payloadSchema = `
#Payload: {
	name?:        string
	explanation?: string
	description?: string
	script:       string & =~"[^[:space:]]"
	permissions:  [...string]
}
`

type payload struct {
	Name        string   `json:"name"`
	Explanation string   `json:"explanation"`
	Description string   `json:"description"`
	Script      string   `json:"script"`
	Permissions []string `json:"permissions"`
}

// extractJSONObject returns the outermost {...} span of text. Models often
// wrap the object in prose or code fences.
func extractJSONObject(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return "", errors.New("no JSON object in response")
	}
	return text[start : end+1], nil
}

// decodePayload checks text against payloadSchema and returns the draft.
func decodePayload(text string) (draft, error) {
	raw, err := extractJSONObject(text)
	if err != nil {
		return draft{}, err
	}
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return draft{}, err
	}
	ctx := cuecontext.New()
	schema := ctx.CompileString(payloadSchema).LookupPath(cue.ParsePath("#Payload"))
	if err := schema.Err(); err != nil {
		return draft{}, err
	}
	v := schema.Unify(ctx.Encode(doc))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return draft{}, err
	}
	var p payload
	if err := v.Decode(&p); err != nil {
		return draft{}, err
	}
	explanation := p.Explanation
	if explanation == "" {
		explanation = p.Description
	}
	return draft{
		Name:        p.Name,
		Script:      p.Script,
		Permissions: p.Permissions,
		Explanation: explanation,
	}, nil
}
