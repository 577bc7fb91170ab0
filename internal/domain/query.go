package domain

// CompletionRequest carries the context a completion query runs against.
// The whole value is forwarded to the external server as params; the
// internal fallback provider only reads Prefix and Text.
type CompletionRequest struct {
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
	Prefix string `json:"prefix,omitempty"`
	Text   string `json:"text,omitempty"`
}
