package core

import (
	"bytes"
	"encoding/base64"
	htmltmpl "html/template"
	"io"
	"io/fs"
	"net/http"
	"net/mail"
	"path"
	"strings"
	texttmpl "text/template"

	"github.com/pkg/errors"
)

type (
	Attachment struct {
		Content     *bytes.Buffer
		ContentType string
		Filename    string
	}

	EmailMessage struct {
		From        mail.Address // zero value means the service default
		To          []mail.Address
		Cc          []mail.Address
		Bcc         []mail.Address
		Subject     string
		BodyStr     string // simple text/plain, non-templated content
		Attachments []Attachment

		// templated contents
		TemplateName string // without ext
		TemplateData interface{}
		TextContent  string
		HTMLContent  string
	}

	ContextData struct {
		FrontendBaseURL string
		Data            interface{}
	}

	// EmailService is any service that can send emails
	EmailService interface {
		// SendMessages sends messages concurrently
		SendMessages(messages ...*EmailMessage)
	}

	// EmailTemplates holds the parsed `<name>.txt` and `<name>.gohtml` templates, each executed with its `_base` layout.
	EmailTemplates struct {
		frontendBaseURL string
		text            map[string]*texttmpl.Template
		html            map[string]*htmltmpl.Template
	}
)

// ParseEmailTemplates parses every template found at the root of fsys.
// Files starting with "_" are layouts. With strict, missing keys fail the rendering.
func ParseEmailTemplates(fsys fs.FS, frontendBaseURL string, strict bool) (*EmailTemplates, error) {
	tmpls := &EmailTemplates{
		frontendBaseURL: frontendBaseURL,
		text:            make(map[string]*texttmpl.Template),
		html:            make(map[string]*htmltmpl.Template),
	}

	fps, err := fs.Glob(fsys, "*")
	if err != nil {
		return nil, errors.Wrap(err, "fs.Glob()")
	}

	for _, fp := range fps {
		ext := path.Ext(fp)
		if strings.HasPrefix(fp, "_") || !(ext == ".txt" || ext == ".gohtml") {
			continue
		}
		name := strings.TrimSuffix(fp, ext)

		if ext == ".txt" {
			tmpl, err := texttmpl.ParseFS(fsys, "_base.txt", fp)
			if err != nil {
				return nil, errors.Wrapf(err, "texttmpl.ParseFS(%s)", fp)
			}
			if strict {
				tmpl = tmpl.Option("missingkey=error")
			}
			tmpls.text[name] = tmpl
		} else {
			tmpl, err := htmltmpl.ParseFS(fsys, "_base.gohtml", fp)
			if err != nil {
				return nil, errors.Wrapf(err, "htmltmpl.ParseFS(%s)", fp)
			}
			if strict {
				tmpl = tmpl.Option("missingkey=error")
			}
			tmpls.html[name] = tmpl
		}
	}
	return tmpls, nil
}

func (t *EmailTemplates) contextData(m *EmailMessage) ContextData {
	return ContextData{
		FrontendBaseURL: t.frontendBaseURL,
		Data:            m.TemplateData,
	}
}

// Render fills the text and html contents of m. tmpls may be nil for non-templated messages.
func (m *EmailMessage) Render(tmpls *EmailTemplates) error {
	if m.BodyStr != "" {
		m.TextContent = m.BodyStr
	}
	if m.TemplateName == "" || tmpls == nil {
		return nil
	}

	if tmpl, ok := tmpls.text[m.TemplateName]; ok && m.BodyStr == "" {
		var buff bytes.Buffer
		if err := tmpl.Execute(&buff, tmpls.contextData(m)); err != nil {
			return errors.Wrapf(err, "render(%s.txt)", m.TemplateName)
		}
		m.TextContent = buff.String()
	}
	if tmpl, ok := tmpls.html[m.TemplateName]; ok {
		var buff bytes.Buffer
		if err := tmpl.Execute(&buff, tmpls.contextData(m)); err != nil {
			return errors.Wrapf(err, "render(%s.gohtml)", m.TemplateName)
		}
		m.HTMLContent = buff.String()
	}
	return nil
}

func (m *EmailMessage) Attach(r io.Reader, filename string, ct ...string) error {
	content, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "io.ReadAll()")
	}

	at := Attachment{Filename: filename, Content: new(bytes.Buffer)}
	encoder := base64.NewEncoder(base64.StdEncoding, at.Content)
	if _, err := encoder.Write(content); err != nil {
		return errors.Wrap(err, "base64.Encode()")
	}
	_ = encoder.Close()

	if len(ct) > 0 {
		at.ContentType = ct[0]
	} else {
		at.ContentType = http.DetectContentType(content)
	}
	m.Attachments = append(m.Attachments, at)
	return nil
}

func (m *EmailMessage) HasRecipients() bool  { return len(m.To) > 0 }
func (m *EmailMessage) HasContent() bool     { return (m.TextContent != "") || (m.HTMLContent != "") }
func (m *EmailMessage) HasAttachments() bool { return len(m.Attachments) > 0 }
