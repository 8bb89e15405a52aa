package query

import (
	"fmt"

	"github.com/fibreflow/ticket-notify/internal/domain/notification"
)

// TemplateDTO describes a registered template.
type TemplateDTO struct {
	ID          notification.TemplateID `json:"id"`
	Name        string                  `json:"name"`
	Description string                  `json:"description"`
	Body        string                  `json:"template"`
	Variables   []string                `json:"variables"`
}

// TemplatePreviewDTO is a template rendered with sample values.
type TemplatePreviewDTO struct {
	ID      notification.TemplateID `json:"id"`
	Preview string                  `json:"preview"`
}

// ListTemplates returns every registered template in ID order.
func ListTemplates() []TemplateDTO {
	all := notification.Templates()
	out := make([]TemplateDTO, 0, len(all))
	for _, t := range all {
		out = append(out, TemplateDTO{
			ID:          t.ID,
			Name:        t.Name,
			Description: t.Description,
			Body:        t.Body,
			Variables:   t.Variables,
		})
	}
	return out
}

// PreviewTemplate renders a template with sample values.
func PreviewTemplate(id notification.TemplateID) (*TemplatePreviewDTO, error) {
	text, err := notification.Preview(id)
	if err != nil {
		return nil, fmt.Errorf("preview_template: %w", err)
	}
	return &TemplatePreviewDTO{ID: id, Preview: text}, nil
}
