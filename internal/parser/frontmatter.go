package parser

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"
)

// maxFrontMatterBytes bounds the YAML block accepted at the top of a file.
const maxFrontMatterBytes = 1 << 20

// splitFrontMatter separates a leading "---" delimited YAML block from a
// markdown source. Scalar values are kept as strings; lists are joined with
// ", ". Sources without a closed block are returned unchanged.
func splitFrontMatter(src []byte) (map[string]string, []byte, error) {
	src = bytes.TrimPrefix(src, []byte("\xef\xbb\xbf"))
	first, rest, ok := cutLine(src)
	if !ok || strings.TrimSpace(string(first)) != "---" {
		return nil, src, nil
	}

	var block []byte
	remaining := rest
	for len(remaining) > 0 {
		line, next, _ := cutLine(remaining)
		switch strings.TrimSpace(string(line)) {
		case "---", "...":
			meta, err := decodeFrontMatter(block)
			if err != nil {
				return nil, src, err
			}
			return meta, bytes.TrimLeft(next, "\r\n"), nil
		}
		block = append(block, line...)
		remaining = next
	}
	return nil, src, nil
}

func decodeFrontMatter(block []byte) (map[string]string, error) {
	meta := map[string]string{}
	if len(bytes.TrimSpace(block)) == 0 {
		return meta, nil
	}
	if len(block) > maxFrontMatterBytes {
		return nil, fmt.Errorf("front matter exceeds %d bytes", maxFrontMatterBytes)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(block, &raw); err != nil {
		return nil, fmt.Errorf("parse front matter: %w", err)
	}
	for k, v := range raw {
		if s := scalarString(v); s != "" {
			meta[strings.ToLower(k)] = s
		}
	}
	return meta, nil
}

func scalarString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s := scalarString(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+scalarString(val[k]))
		}
		return strings.Join(parts, ", ")
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

// cutLine returns the first line of b including its newline.
func cutLine(b []byte) (line, rest []byte, found bool) {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		return b[:i+1], b[i+1:], true
	}
	return b, nil, len(b) > 0
}
