package model

// Template is a reusable message body referenced by steps through its ID.
type Template struct {
	ID      string `json:"id" yaml:"id"`
	Subject string `json:"subject,omitempty" yaml:"subject,omitempty"`
	Content string `json:"content" yaml:"content"`
}

// Message is the resolved content of a step, ready for delivery. Body is markdown.
type Message struct {
	Subject string
	Body    string
}
