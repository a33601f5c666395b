package authoring

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/temirov/carbon/internal/change"
)

const (
	defaultMessageTemplateConstant     = "{{ .OriginalMessage }}"
	messageTemplateNameConstant        = "message"
	messageTemplateMissingKeyOption    = "missingkey=error"
	messageTemplateParseErrorTemplate  = "message template is invalid: %v"
	messageTemplateRenderErrorTemplate = "unable to render message template: %w"
	messageTemplateEmptyResultMessage  = "message template rendered an empty message"
	fallbackMessageTemplateConstant    = "Migrate origin change %s"
	sampleOriginalMessageConstant      = "Sample change"
	sampleOriginReferenceConstant      = "0000000"
	sampleWorkflowNameConstant         = "sample"
)

// MessageContext carries the substitution tokens available to a message template.
type MessageContext struct {
	OriginalMessage string
	OriginReference string
	WorkflowName    string
	Summary         string
	Author          change.Author
	Mode            change.MigrationMode
	Changes         change.Sequence
	ChangeCount     int
}

// MessageTemplate renders destination commit messages.
type MessageTemplate struct {
	raw        string
	compiled   *template.Template
	parseError error
}

// NewMessageTemplate parses raw. An empty template renders the original message unchanged.
// Parse problems are reported by Validate rather than returned here.
func NewMessageTemplate(raw string) MessageTemplate {
	if len(strings.TrimSpace(raw)) == 0 {
		raw = defaultMessageTemplateConstant
	}
	compiled, parseError := template.New(messageTemplateNameConstant).Option(messageTemplateMissingKeyOption).Parse(raw)
	return MessageTemplate{raw: raw, compiled: compiled, parseError: parseError}
}

// Raw returns the template source.
func (messageTemplate MessageTemplate) Raw() string {
	return messageTemplate.raw
}

// Validate reports template syntax errors and references to unknown tokens.
func (messageTemplate MessageTemplate) Validate() []string {
	if messageTemplate.compiled == nil && messageTemplate.parseError == nil {
		messageTemplate = NewMessageTemplate(messageTemplate.raw)
	}
	if messageTemplate.parseError != nil {
		return []string{fmt.Sprintf(messageTemplateParseErrorTemplate, messageTemplate.parseError)}
	}
	sample := MessageContext{
		OriginalMessage: sampleOriginalMessageConstant,
		OriginReference: sampleOriginReferenceConstant,
		WorkflowName:    sampleWorkflowNameConstant,
		Summary:         sampleOriginalMessageConstant,
		ChangeCount:     1,
	}
	if _, renderError := messageTemplate.Render(sample); renderError != nil {
		return []string{fmt.Sprintf(messageTemplateParseErrorTemplate, renderError)}
	}
	return nil
}

// Render substitutes the context into the template.
func (messageTemplate MessageTemplate) Render(messageContext MessageContext) (string, error) {
	if messageTemplate.compiled == nil && messageTemplate.parseError == nil {
		messageTemplate = NewMessageTemplate(messageTemplate.raw)
	}
	if messageTemplate.parseError != nil {
		return "", fmt.Errorf(messageTemplateRenderErrorTemplate, messageTemplate.parseError)
	}
	var rendered bytes.Buffer
	if executeError := messageTemplate.compiled.Execute(&rendered, messageContext); executeError != nil {
		return "", fmt.Errorf(messageTemplateRenderErrorTemplate, executeError)
	}
	message := strings.TrimSpace(rendered.String())
	if len(message) == 0 {
		message = fallbackMessage(messageContext)
	}
	if len(message) == 0 {
		return "", fmt.Errorf(messageTemplateRenderErrorTemplate, errors.New(messageTemplateEmptyResultMessage))
	}
	return message, nil
}

// fallbackMessage names the change when the template renders nothing, as it does for origin changes without a message.
func fallbackMessage(messageContext MessageContext) string {
	if summary := strings.TrimSpace(messageContext.Summary); len(summary) > 0 {
		return summary
	}
	if reference := strings.TrimSpace(messageContext.OriginReference); len(reference) > 0 {
		return fmt.Sprintf(fallbackMessageTemplateConstant, reference)
	}
	return ""
}
