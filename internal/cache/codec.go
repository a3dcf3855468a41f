package cache

import (
	"bytes"
	"sort"

	"github.com/flarebyte/ergo/internal/artifact"
	"gopkg.in/yaml.v3"
)

// Marshal returns canonical YAML for a set of records: one top-level key per
// command name, sorted, with record fields in declaration order.
func Marshal(records map[string]artifact.Record) ([]byte, error) {
	top := &yaml.Node{Kind: yaml.MappingNode}
	names := make([]string, 0, len(records))
	for name := range records {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rec := &yaml.Node{}
		if err := rec.Encode(records[name]); err != nil {
			return nil, err
		}
		top.Content = append(top.Content, scalarNode(name), rec)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(top); err != nil {
		_ = enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	out := bytes.TrimRight(buf.Bytes(), "\n")
	out = append(out, '\n')
	return out, nil
}

// Unmarshal decodes a commands file. Empty input is an empty set.
func Unmarshal(b []byte) (map[string]artifact.Record, error) {
	out := map[string]artifact.Record{}
	if len(bytes.TrimSpace(b)) == 0 {
		return out, nil
	}
	if err := yaml.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]artifact.Record{}
	}
	return out, nil
}

func scalarNode(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}
