package processor

import (
	"errors"
	"fmt"

	"github.com/andrewhowdencom/drip/internal/model"
)

// ErrContentUnavailable is returned when a step's content cannot be produced.
var ErrContentUnavailable = errors.New("content unavailable")

// Resolver produces the message for a step, rendering inline bodies and
// catalog templates against the subscription's trigger data.
type Resolver struct {
	templates TemplateStore
	renderer  Processor
}

// NewResolver creates a Resolver that looks templates up in templates, which may be nil.
func NewResolver(templates TemplateStore) *Resolver {
	return &Resolver{
		templates: templates,
		renderer:  NewTemplateProcessor(),
	}
}

// ResolveStepContent renders step for contactID. An inline message takes
// precedence over a template reference.
func (r *Resolver) ResolveStepContent(c *model.Campaign, step model.Step, contactID string, triggerData map[string]interface{}) (*model.Message, error) {
	subject, body := step.Subject, step.Message
	if body == "" {
		if step.TemplateID == "" {
			return nil, fmt.Errorf("%w: step %d has no message or template", ErrContentUnavailable, step.Position)
		}
		if r.templates == nil {
			return nil, fmt.Errorf("%w: no template catalog to resolve '%s'", ErrContentUnavailable, step.TemplateID)
		}
		t, ok := r.templates.Template(step.TemplateID)
		if !ok {
			return nil, fmt.Errorf("%w: template '%s' not found", ErrContentUnavailable, step.TemplateID)
		}
		body = t.Content
		if subject == "" {
			subject = t.Subject
		}
	}

	if triggerData == nil {
		triggerData = map[string]interface{}{}
	}
	data := map[string]interface{}{
		"TriggerData":  triggerData,
		"ContactID":    contactID,
		"CampaignID":   c.ID,
		"CampaignName": c.Name,
		"Step":         step.Position,
	}

	renderedBody, err := r.renderer.Process(body, data)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to render step %d: %w", ErrContentUnavailable, step.Position, err)
	}
	renderedSubject, err := r.renderer.Process(subject, data)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to render subject of step %d: %w", ErrContentUnavailable, step.Position, err)
	}

	return &model.Message{Subject: renderedSubject, Body: renderedBody}, nil
}
