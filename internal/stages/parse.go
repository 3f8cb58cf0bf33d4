package stages

import "strings"

// splitLines splits a free-text list answer into trimmed items. Respondents
// are asked for one item per line; bullets, numbering, and semicolon-joined
// lines show up anyway, so all three are tolerated.
func splitLines(text string) []string {
	var items []string
	for _, line := range strings.FieldsFunc(text, func(r rune) bool {
		return r == '\n' || r == ';'
	}) {
		item := strings.TrimSpace(line)
		item = strings.TrimLeft(item, "-*• \t")
		if i := strings.IndexByte(item, '.'); i > 0 && i <= 2 && isDigits(item[:i]) {
			item = strings.TrimSpace(item[i+1:])
		}
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// splitParts splits a pipe-separated item into exactly n trimmed parts,
// padding missing ones with empty strings. 'name | baseline | target' style.
func splitParts(item string, n int) []string {
	raw := strings.SplitN(item, "|", n)
	parts := make([]string, n)
	for i := range raw {
		parts[i] = strings.TrimSpace(raw[i])
	}
	return parts
}
