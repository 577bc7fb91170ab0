package domain

// Normalized language-intelligence shapes. These are the host-side models
// every server payload is mapped into; consumers never see server-specific
// JSON.

// Severity follows the conventional 1..4 scale.
type Severity int

const (
	SeverityError   Severity = 1
	SeverityWarning Severity = 2
	SeverityInfo    Severity = 3
	SeverityHint    Severity = 4
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	case SeverityHint:
		return "hint"
	default:
		return "unknown"
	}
}

type Diagnostic struct {
	Message   string   `json:"message"`
	Severity  Severity `json:"severity,omitempty"`
	Source    string   `json:"source,omitempty"`
	Code      string   `json:"code,omitempty"`
	Line      int      `json:"line,omitempty"`
	Column    int      `json:"column,omitempty"`
	EndLine   int      `json:"end_line,omitempty"`
	EndColumn int      `json:"end_column,omitempty"`
}

type Hover struct {
	Contents string `json:"contents"`
	Kind     string `json:"kind,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
}

// CompletionSource records which side produced an item.
type CompletionSource string

const (
	CompletionSourceExternal CompletionSource = "external"
	CompletionSourceInternal CompletionSource = "internal"
)

type CompletionItem struct {
	Label  string           `json:"label"`
	Detail string           `json:"detail,omitempty"`
	Kind   string           `json:"kind,omitempty"`
	Score  float64          `json:"score,omitempty"`
	Source CompletionSource `json:"source,omitempty"`
}
