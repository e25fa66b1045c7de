package core

import (
	"bytes"
	texttmpl "text/template"
)

type (
	SMSMessage struct {
		To      []string // mobile numbers, 09xxxxxxxxx
		BodyStr string   // non-templated content

		TemplateName string // without ext, eg. "otp"
		TemplateData interface{}
		Content      string
	}

	// SMSService is any service that can send text messages.
	SMSService interface {
		// SendMessages sends messages concurrently
		SendMessages(messages ...*SMSMessage)
	}
)

func (m *SMSMessage) Render(conf *Config) error {
	if m.BodyStr != "" {
		m.Content = m.BodyStr
		return nil
	} else if m.TemplateName == "" {
		return nil
	}

	tmpl, ok := lookupTemplate(smsTemplatesDir, m.TemplateName, ".txt").(*texttmpl.Template)
	if !ok {
		return nil
	}

	var buff bytes.Buffer
	data := ContextData{AppName: conf.AppName, FrontendBaseURL: conf.FrontendBaseURL, Data: m.TemplateData}
	if err := tmpl.Execute(&buff, data); err != nil {
		return err
	}
	m.Content = buff.String()
	return nil
}

func (m *SMSMessage) HasRecipients() bool { return len(m.To) > 0 }
func (m *SMSMessage) HasContent() bool    { return m.Content != "" }
