package workflow

import (
	"regexp"
	"strings"

	"github.com/ziadkadry99/tracegraph/internal/model"
)

var fieldAccessRe = regexp.MustCompile(`\.get\(\s*['"](\w+)['"]`)

// ExtractContract recovers a step's data contract from its source snippet:
// the parameter list and return annotation of the def line, and the keys
// read through .get("field") accesses, capped at fieldLimit.
func ExtractContract(name, snippet string, fieldLimit int) model.DataContract {
	c := model.DataContract{Parameters: []string{}, FieldsAccessed: []string{}}
	short := name
	if i := strings.LastIndexByte(short, '.'); i >= 0 {
		short = short[i+1:]
	}

	if params, ret, ok := parseSignature(snippet, short); ok {
		c.Parameters = params
		c.ReturnType = ret
	}

	seen := make(map[string]bool)
	for _, m := range fieldAccessRe.FindAllStringSubmatch(snippet, -1) {
		if fieldLimit > 0 && len(c.FieldsAccessed) >= fieldLimit {
			break
		}
		if !seen[m[1]] {
			seen[m[1]] = true
			c.FieldsAccessed = append(c.FieldsAccessed, m[1])
		}
	}
	return c
}

// parseSignature finds "def name(" in snippet and splits its parameter list
// on top-level commas. self and cls are omitted.
func parseSignature(snippet, name string) (params []string, returnType string, ok bool) {
	start := strings.Index(snippet, "def "+name+"(")
	if start < 0 {
		return nil, "", false
	}
	open := start + len("def "+name)
	depth := 0
	closeIdx := -1
	var parts []string
	last := open + 1
scan:
	for i := open; i < len(snippet); i++ {
		switch snippet[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
			if depth == 0 {
				closeIdx = i
				parts = append(parts, snippet[last:i])
				break scan
			}
		case ',':
			if depth == 1 {
				parts = append(parts, snippet[last:i])
				last = i + 1
			}
		}
	}
	if closeIdx < 0 {
		return nil, "", false
	}

	params = []string{}
	for _, p := range parts {
		p = strings.Join(strings.Fields(p), " ")
		if p == "" || p == "self" || p == "cls" {
			continue
		}
		params = append(params, p)
	}

	rest := snippet[closeIdx+1:]
	if colon := strings.IndexByte(rest, ':'); colon >= 0 {
		rest = rest[:colon]
	}
	if i := strings.Index(rest, "->"); i >= 0 {
		returnType = strings.TrimSpace(rest[i+2:])
	}
	return params, returnType, true
}
