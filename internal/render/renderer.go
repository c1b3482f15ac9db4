package render

import (
	"html/template"
	"path/filepath"
	"strings"

	"github.com/herald-dispatch/herald/internal/models"
)

// PreheaderContextKey is the reserved context key the rendered preheader is
// stored under, so subject and body templates can reference it.
const PreheaderContextKey = "private_preheader"

// Context carries the named values available to the templates.
type Context map[string]any

// Clone returns a shallow copy so callers can augment a context without
// mutating the original.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	for key, value := range c {
		out[key] = value
	}
	return out
}

// TemplatedEmail is the result of rendering a notification's template slots.
type TemplatedEmail struct {
	Subject string
	Body    string
}

// Renderer turns a notification plus context into deliverable content.
type Renderer interface {
	Render(notification *models.Notification, context Context) (*TemplatedEmail, error)
}

// HTMLRenderer renders the notification's template references as
// html/template files resolved against a root directory.
//
// Slots render in a fixed order: preheader, subject, body. The preheader
// result is written into a private copy of the context before subject and
// body run, leaving the caller's context untouched. A failure in an earlier
// slot stops the later ones; no partial result is ever returned. Empty slot
// references (non-email notifications) are skipped.
type HTMLRenderer struct {
	root string
}

// NewHTMLRenderer constructs a renderer rooted at the given template directory.
func NewHTMLRenderer(root string) *HTMLRenderer {
	return &HTMLRenderer{root: root}
}

func (r *HTMLRenderer) Render(notification *models.Notification, context Context) (*TemplatedEmail, error) {
	context = context.Clone()

	if ref := notification.PreheaderTemplate; ref != "" {
		preheader, err := r.renderFile(ref, context)
		if err != nil {
			return nil, &PreheaderRenderError{Template: ref, Err: err}
		}
		context[PreheaderContextKey] = template.HTML(preheader)
	}

	var subject string
	if ref := notification.SubjectTemplate; ref != "" {
		rendered, err := r.renderFile(ref, context)
		if err != nil {
			return nil, &SubjectRenderError{Template: ref, Err: err}
		}
		subject = rendered
	}

	body, err := r.renderFile(notification.BodyTemplate, context)
	if err != nil {
		return nil, &BodyRenderError{Template: notification.BodyTemplate, Err: err}
	}

	return &TemplatedEmail{Subject: strings.TrimSpace(subject), Body: body}, nil
}

func (r *HTMLRenderer) renderFile(ref string, context Context) (string, error) {
	tmpl, err := template.New(filepath.Base(ref)).Option("missingkey=error").ParseFiles(filepath.Join(r.root, ref))
	if err != nil {
		return "", err
	}

	var out strings.Builder
	if err := tmpl.Execute(&out, context); err != nil {
		return "", err
	}
	return out.String(), nil
}
