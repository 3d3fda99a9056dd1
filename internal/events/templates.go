package events

import (
	"fmt"
	"strings"
)

// MessageTemplateEngine renders human readable messages for events.
type MessageTemplateEngine struct {
	templates map[Type]string
}

var defaultTemplates = NewMessageTemplateEngine()

// NewMessageTemplateEngine creates an engine with the default templates.
func NewMessageTemplateEngine() *MessageTemplateEngine {
	return &MessageTemplateEngine{
		templates: map[Type]string{
			TypeRefreshingToken:         "Refreshing access token for {{.ResourceServer}}",
			TypeAccessTokenStored:       "Access token stored for {{.ResourceServer}}",
			TypeAccessTokenError:        "Storing access token for {{.ResourceServer}} failed{{if .Error}}: {{.Error}}{{end}}",
			TypeAccessTokenCleared:      "Access token cleared for {{.ResourceServer}}",
			TypeRefreshTokenError:       "Refreshing access token for {{.ResourceServer}} failed{{if .Error}}: {{.Error}}{{end}}",
			TypeClearTokenError:         "Clearing tokens for {{.ResourceServer}} failed{{if .Error}}: {{.Error}}{{end}}",
			TypeReauthorizationRequired: "Re-authorization required for {{.ResourceServer}}{{if .Error}}: {{.Error}}{{end}}",
			TypeConfigStored:            "Resource config stored for {{.ResourceServer}}",
		},
	}
}

// Render generates the message for an event of type t.
func (e *MessageTemplateEngine) Render(t Type, data Event) string {
	template, exists := e.templates[t]
	if !exists {
		return fmt.Sprintf("Event: %s for %s", string(t), data.ResourceServer)
	}

	result := strings.ReplaceAll(template, "{{.ResourceServer}}", data.ResourceServer)
	result = strings.ReplaceAll(result, "{{.Error}}", data.Error)
	return renderConditional(result, "{{if .Error}}", "{{end}}", data.Error != "")
}

// SetTemplate overrides the template for t.
func (e *MessageTemplateEngine) SetTemplate(t Type, template string) {
	e.templates[t] = template
}

// renderConditional keeps or drops the first start...end block.
func renderConditional(template, startMarker, endMarker string, condition bool) string {
	startIndex := strings.Index(template, startMarker)
	if startIndex == -1 {
		return template
	}
	endIndex := strings.Index(template[startIndex:], endMarker)
	if endIndex == -1 {
		return template
	}
	endIndex += startIndex

	before := template[:startIndex]
	after := template[endIndex+len(endMarker):]
	if condition {
		return before + template[startIndex+len(startMarker):endIndex] + after
	}
	return before + after
}
