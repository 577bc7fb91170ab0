package normalize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"langd/internal/domain"
)

// Mapper applies declarative field-mapping rules to raw server payloads.
// Transforms are registered at construction; the built-ins cover the
// common cases and hosts may add their own.
type Mapper struct {
	transforms map[string]TransformFunc
}

// TransformFunc post-processes one mapped item before conversion into the
// host model.
type TransformFunc func(item map[string]any) map[string]any

func NewMapper() *Mapper {
	m := &Mapper{transforms: make(map[string]TransformFunc)}
	for name, fn := range builtinTransforms() {
		m.transforms[name] = fn
	}
	return m
}

// RegisterTransform adds or replaces a named transform.
func (m *Mapper) RegisterTransform(name string, fn TransformFunc) {
	if name == "" || fn == nil {
		return
	}
	m.transforms[name] = fn
}

// MapDiagnostics selects the array at the rules' items_path and maps each
// element through field_mappings. A source path with no match is omitted
// from the output, never an error: not every server populates every
// optional field. An empty array maps to an empty list.
func (m *Mapper) MapDiagnostics(raw json.RawMessage, rules *domain.MappingRules) ([]domain.Diagnostic, error) {
	if rules == nil {
		return nil, domain.ErrNoMappingRules
	}
	items := gjson.GetBytes(raw, normalizePath(rules.ItemsPath))
	if !items.Exists() {
		return []domain.Diagnostic{}, nil
	}

	var out []domain.Diagnostic
	appendItem := func(item gjson.Result) {
		mapped := m.mapFields(item, rules)
		out = append(out, toDiagnostic(mapped))
	}
	if items.IsArray() {
		items.ForEach(func(_, item gjson.Result) bool {
			appendItem(item)
			return true
		})
	} else {
		appendItem(items)
	}
	if out == nil {
		out = []domain.Diagnostic{}
	}
	return out, nil
}

// MapDiagnosticItem maps a single item rather than a whole response. The
// item is re-wrapped in the minimal envelope the rules expect so the two
// entry points share one code path.
func (m *Mapper) MapDiagnosticItem(item json.RawMessage, rules *domain.MappingRules) (domain.Diagnostic, error) {
	if rules == nil {
		return domain.Diagnostic{}, domain.ErrNoMappingRules
	}
	envelope, err := rewrapItem(item, rules.ItemsPath)
	if err != nil {
		return domain.Diagnostic{}, err
	}
	mapped, err := m.MapDiagnostics(envelope, rules)
	if err != nil {
		return domain.Diagnostic{}, err
	}
	if len(mapped) == 0 {
		return domain.Diagnostic{}, nil
	}
	return mapped[0], nil
}

// MapHover selects the single object at content_path and maps it.
func (m *Mapper) MapHover(raw json.RawMessage, rules *domain.MappingRules) (*domain.Hover, error) {
	if rules == nil {
		return nil, domain.ErrNoMappingRules
	}
	content := gjson.GetBytes(raw, normalizePath(rules.ContentPath))
	if !content.Exists() {
		return nil, nil
	}
	mapped := m.mapFields(content, rules)
	hover := toHover(mapped)
	return &hover, nil
}

func (m *Mapper) mapFields(item gjson.Result, rules *domain.MappingRules) map[string]any {
	out := make(map[string]any, len(rules.FieldMappings))
	for target, source := range rules.FieldMappings {
		value := item.Get(normalizePath(source))
		if !value.Exists() {
			continue
		}
		out[target] = value.Value()
	}
	if rules.Transform != "" {
		if fn := m.transforms[rules.Transform]; fn != nil {
			out = fn(out)
		}
	}
	return out
}

// normalizePath accepts JSONPath-flavored expressions ("$.result",
// "$.items[0].message") alongside bare gjson paths and returns gjson
// syntax.
func normalizePath(expr string) string {
	path := strings.TrimSpace(expr)
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}
	var b strings.Builder
	for i := 0; i < len(path); i++ {
		switch path[i] {
		case '[':
			if b.Len() > 0 {
				b.WriteByte('.')
			}
		case ']':
		default:
			b.WriteByte(path[i])
		}
	}
	return b.String()
}

// rewrapItem nests item under the path the rules expect, as a one-element
// array.
func rewrapItem(item json.RawMessage, itemsPath string) (json.RawMessage, error) {
	path := normalizePath(itemsPath)
	var decoded any
	if err := json.Unmarshal(item, &decoded); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}
	var wrapped any = []any{decoded}
	if path != "@this" {
		segments := strings.Split(path, ".")
		for i := len(segments) - 1; i >= 0; i-- {
			wrapped = map[string]any{segments[i]: wrapped}
		}
	}
	encoded, err := json.Marshal(wrapped)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return json.RawMessage(encoded), nil
}

func toDiagnostic(m map[string]any) domain.Diagnostic {
	return domain.Diagnostic{
		Message:   asString(m["message"]),
		Severity:  domain.Severity(asInt(m["severity"])),
		Source:    asString(m["source"]),
		Code:      asString(m["code"]),
		Line:      asInt(m["line"]),
		Column:    asInt(m["column"]),
		EndLine:   asInt(m["end_line"]),
		EndColumn: asInt(m["end_column"]),
	}
}

func toHover(m map[string]any) domain.Hover {
	return domain.Hover{
		Contents: asString(m["contents"]),
		Kind:     asString(m["kind"]),
		Line:     asInt(m["line"]),
		Column:   asInt(m["column"]),
	}
}

func asString(v any) string {
	switch typed := v.(type) {
	case string:
		return typed
	case nil:
		return ""
	case float64:
		return strings.TrimSuffix(fmt.Sprintf("%v", typed), ".0")
	default:
		return fmt.Sprintf("%v", typed)
	}
}

func asInt(v any) int {
	switch typed := v.(type) {
	case float64:
		return int(typed)
	case int:
		return typed
	case int64:
		return int(typed)
	default:
		return 0
	}
}
