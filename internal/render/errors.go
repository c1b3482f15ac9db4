package render

import (
	"errors"
	"fmt"
)

// Rendering failures are attributed to the specific template slot that broke,
// so operators can tell a bad preheader asset from a bad body asset. All three
// wrap the underlying template engine error.

// PreheaderRenderError reports a failure rendering the preheader template.
type PreheaderRenderError struct {
	Template string
	Err      error
}

func (e *PreheaderRenderError) Error() string {
	return fmt.Sprintf("render: preheader template %q: %v", e.Template, e.Err)
}

func (e *PreheaderRenderError) Unwrap() error { return e.Err }

// SubjectRenderError reports a failure rendering the subject template.
type SubjectRenderError struct {
	Template string
	Err      error
}

func (e *SubjectRenderError) Error() string {
	return fmt.Sprintf("render: subject template %q: %v", e.Template, e.Err)
}

func (e *SubjectRenderError) Unwrap() error { return e.Err }

// BodyRenderError reports a failure rendering the body template.
type BodyRenderError struct {
	Template string
	Err      error
}

func (e *BodyRenderError) Error() string {
	return fmt.Sprintf("render: body template %q: %v", e.Template, e.Err)
}

func (e *BodyRenderError) Unwrap() error { return e.Err }

// IsRenderError reports whether err is one of the slot-attributed rendering errors.
func IsRenderError(err error) bool {
	var preheaderErr *PreheaderRenderError
	var subjectErr *SubjectRenderError
	var bodyErr *BodyRenderError
	return errors.As(err, &preheaderErr) || errors.As(err, &subjectErr) || errors.As(err, &bodyErr)
}
