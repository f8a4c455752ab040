package processor

import (
	"bytes"
	"fmt"
	"sync"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// TemplateProcessor renders Go templates with the sprig function set. A sweep
// renders the same few bodies for many contacts, so parsed templates are kept
// by source text, up to DefaultTemplateCacheSize of them.
type TemplateProcessor struct {
	mu     sync.RWMutex
	parsed map[string]*template.Template
	limit  int
}

// DefaultTemplateCacheSize is the number of parsed templates kept.
const DefaultTemplateCacheSize = 512

// NewTemplateProcessor creates a new TemplateProcessor.
func NewTemplateProcessor() *TemplateProcessor {
	return &TemplateProcessor{
		parsed: make(map[string]*template.Template),
		limit:  DefaultTemplateCacheSize,
	}
}

func (p *TemplateProcessor) lookup(content string) (*template.Template, error) {
	p.mu.RLock()
	t, ok := p.parsed[content]
	p.mu.RUnlock()
	if ok {
		return t, nil
	}

	t, err := template.New("step").Funcs(sprig.TxtFuncMap()).Parse(content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	p.mu.Lock()
	if _, ok := p.parsed[content]; !ok && len(p.parsed) >= p.limit {
		// Evict an arbitrary entry.
		for k := range p.parsed {
			delete(p.parsed, k)
			break
		}
	}
	p.parsed[content] = t
	p.mu.Unlock()
	return t, nil
}

// Process renders content against data.
func (p *TemplateProcessor) Process(content string, data map[string]interface{}) (string, error) {
	if content == "" {
		return "", nil
	}

	t, err := p.lookup(content)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}
