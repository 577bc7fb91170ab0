package normalize

import "strings"

func builtinTransforms() map[string]TransformFunc {
	return map[string]TransformFunc{
		"normalize_severity": normalizeSeverity,
		"trim_whitespace":    trimWhitespace,
		"strip_markdown":     stripMarkdown,
	}
}

// normalizeSeverity folds string severities into the 1..4 scale so servers
// that report "error"/"warning" words match servers that report numbers.
func normalizeSeverity(item map[string]any) map[string]any {
	raw, ok := item["severity"].(string)
	if !ok {
		return item
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "error", "fatal":
		item["severity"] = float64(1)
	case "warning", "warn":
		item["severity"] = float64(2)
	case "info", "information", "note":
		item["severity"] = float64(3)
	case "hint":
		item["severity"] = float64(4)
	default:
		delete(item, "severity")
	}
	return item
}

func trimWhitespace(item map[string]any) map[string]any {
	for key, value := range item {
		if s, ok := value.(string); ok {
			item[key] = strings.TrimSpace(s)
		}
	}
	return item
}

// stripMarkdown removes fenced code markers from hover contents for hosts
// that render plain text.
func stripMarkdown(item map[string]any) map[string]any {
	raw, ok := item["contents"].(string)
	if !ok {
		return item
	}
	var kept []string
	for _, line := range strings.Split(raw, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	item["contents"] = strings.TrimSpace(strings.Join(kept, "\n"))
	return item
}
