package templates

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"io/fs"
	"path"
	"strings"
	texttemplate "text/template"

	"gopkg.in/yaml.v3"

	"fleet-maintenance/internal/domain"
	"fleet-maintenance/internal/domain/ports/adapter"
)

//go:embed emails
var EmailsFS embed.FS

var _ adapter.TemplateRenderer = (*Renderer)(nil)

type source struct {
	Subject string `yaml:"subject"`
	HTML    string `yaml:"html"`
	Text    string `yaml:"text"`
}

type compiled struct {
	subject *texttemplate.Template
	html    *htmltemplate.Template
	text    *texttemplate.Template
}

// Renderer holds parsed email templates keyed by name. HTML bodies are
// escaped with html/template; subjects and text bodies are not.
type Renderer struct {
	templates map[string]*compiled
}

// NewRenderer parses every *.yaml file under the emails directory of fsys.
func NewRenderer(fsys fs.FS) (*Renderer, error) {
	files, err := fs.Glob(fsys, path.Join("emails", "*.yaml"))
	if err != nil {
		return nil, err
	}
	r := &Renderer{templates: make(map[string]*compiled)}
	for _, f := range files {
		data, err := fs.ReadFile(fsys, f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f, err)
		}
		if err := r.load(data); err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
	}
	return r, nil
}

// NewDefaultRenderer uses the templates compiled into the binary.
func NewDefaultRenderer() (*Renderer, error) {
	return NewRenderer(EmailsFS)
}

func newRendererFromBytes(data []byte) (*Renderer, error) {
	r := &Renderer{templates: make(map[string]*compiled)}
	return r, r.load(data)
}

func (r *Renderer) load(data []byte) error {
	var sources map[string]source
	if err := yaml.Unmarshal(data, &sources); err != nil {
		return fmt.Errorf("parse templates: %w", err)
	}
	for name, s := range sources {
		if strings.TrimSpace(s.Subject) == "" || (s.HTML == "" && s.Text == "") {
			return fmt.Errorf("template %q needs a subject and a body", name)
		}
		c := &compiled{}
		var err error
		if c.subject, err = texttemplate.New(name + ".subject").Parse(s.Subject); err != nil {
			return fmt.Errorf("template %q subject: %w", name, err)
		}
		if s.HTML != "" {
			if c.html, err = htmltemplate.New(name + ".html").Parse(s.HTML); err != nil {
				return fmt.Errorf("template %q html: %w", name, err)
			}
		}
		if s.Text != "" {
			if c.text, err = texttemplate.New(name + ".text").Parse(s.Text); err != nil {
				return fmt.Errorf("template %q text: %w", name, err)
			}
		}
		r.templates[name] = c
	}
	return nil
}

// Names lists the loaded template names.
func (r *Renderer) Names() []string {
	out := make([]string, 0, len(r.templates))
	for n := range r.templates {
		out = append(out, n)
	}
	return out
}

func (r *Renderer) Subject(name string, data map[string]any) (string, error) {
	c, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrTemplateNotFound, name)
	}
	var b bytes.Buffer
	if err := c.subject.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s subject: %w", name, err)
	}
	// Header injection guard.
	return strings.Join(strings.Fields(b.String()), " "), nil
}

func (r *Renderer) Render(name string, data map[string]any) (*adapter.RenderedEmail, error) {
	subject, err := r.Subject(name, data)
	if err != nil {
		return nil, err
	}
	c := r.templates[name]
	out := &adapter.RenderedEmail{Subject: subject}
	var b bytes.Buffer
	if c.html != nil {
		if err := c.html.Execute(&b, data); err != nil {
			return nil, fmt.Errorf("render %s html: %w", name, err)
		}
		out.HTML = b.String()
		b.Reset()
	}
	if c.text != nil {
		if err := c.text.Execute(&b, data); err != nil {
			return nil, fmt.Errorf("render %s text: %w", name, err)
		}
		out.Text = b.String()
	}
	return out, nil
}
