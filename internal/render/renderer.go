package render

import (
	"fmt"

	"github.com/academic360/notification-worker/internal/domain"
)

// Context is the data every subject and body template is executed against.
type Context struct {
	Notification *domain.Notification
	Content      *domain.Content
	User         *domain.User
	Recipient    domain.Recipient
	// Data is Content.TemplateData, exposed at the top level for brevity.
	Data map[string]any
}

// NewContext builds the render context for one recipient of a job.
func NewContext(n *domain.Notification, c *domain.Content, u *domain.User, r domain.Recipient) Context {
	return Context{Notification: n, Content: c, User: u, Recipient: r, Data: c.TemplateData}
}

// Renderer turns parsed content into the final subject and HTML body.
type Renderer struct {
	engine Engine
}

func NewRenderer(engine Engine) *Renderer {
	return &Renderer{engine: engine}
}

// Subject renders a templated subject, falling back to the literal
// fallback when the template produces nothing.
func (r *Renderer) Subject(c *domain.Content, ctx Context) (string, error) {
	switch c.Subject.Kind {
	case domain.SourceTemplate:
		s, err := r.engine.RenderString(c.Subject.Text, ctx)
		if err != nil {
			return "", fmt.Errorf("render subject: %w", err)
		}
		if s == "" {
			return c.Subject.Fallback, nil
		}
		return s, nil
	default:
		return c.Subject.Text, nil
	}
}

// Body renders the named template file, or returns the literal HTML.
func (r *Renderer) Body(c *domain.Content, ctx Context) (string, error) {
	switch c.Body.Kind {
	case domain.SourceTemplate:
		html, err := r.engine.RenderFile(c.Body.Text, ctx)
		if err != nil {
			return "", fmt.Errorf("template rendering failed: %w", err)
		}
		return html, nil
	default:
		return c.Body.Text, nil
	}
}

// Render returns both subject and body.
func (r *Renderer) Render(c *domain.Content, ctx Context) (subject, html string, err error) {
	if subject, err = r.Subject(c, ctx); err != nil {
		return "", "", err
	}
	if html, err = r.Body(c, ctx); err != nil {
		return "", "", err
	}
	return subject, html, nil
}
