package adapter

import "context"

// EmailMessage is a fully rendered email ready for the transport.
type EmailMessage struct {
	To       string
	Subject  string
	HTML     string
	Text     string
	Category string
}

// EmailTransport delivers one message and returns the provider's message id.
type EmailTransport interface {
	Send(ctx context.Context, msg EmailMessage) (string, error)
}

// RenderedEmail is the output of a template render.
type RenderedEmail struct {
	Subject string
	HTML    string
	Text    string
}

// TemplateRenderer renders named email templates.
type TemplateRenderer interface {
	// Subject renders only the subject line.
	Subject(name string, data map[string]any) (string, error)
	Render(name string, data map[string]any) (*RenderedEmail, error)
}
