package processor

import (
	"sync"

	"github.com/andrewhowdencom/drip/internal/model"
)

// TemplateStore looks up templates by ID.
type TemplateStore interface {
	Template(id string) (model.Template, bool)
}

// Catalog is a TemplateStore whose contents can be swapped while it is read.
type Catalog struct {
	mu        sync.RWMutex
	templates map[string]model.Template
}

// NewCatalog creates a catalog holding templates.
func NewCatalog(templates ...model.Template) *Catalog {
	c := &Catalog{}
	c.Replace(templates)
	return c
}

// Template returns the template with the given ID.
func (c *Catalog) Template(id string) (model.Template, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.templates[id]
	return t, ok
}

// Replace swaps the catalog contents for templates. Later duplicates win.
func (c *Catalog) Replace(templates []model.Template) {
	m := make(map[string]model.Template, len(templates))
	for _, t := range templates {
		m[t.ID] = t
	}
	c.mu.Lock()
	c.templates = m
	c.mu.Unlock()
}

// Len returns the number of templates in the catalog.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.templates)
}
