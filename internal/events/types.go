package events

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies a token lifecycle notification.
type Type string

const (
	// TypeRefreshingToken is emitted before a refresh grant is sent.
	TypeRefreshingToken Type = "refreshingToken"

	// TypeAccessTokenStored is emitted after a token record was durably persisted.
	TypeAccessTokenStored Type = "accessTokenStored"

	// TypeAccessTokenError is emitted when a token endpoint response could not be stored.
	TypeAccessTokenError Type = "accessTokenError"

	// TypeAccessTokenCleared is emitted after a token record was cleared.
	TypeAccessTokenCleared Type = "accessTokenCleared"

	// TypeRefreshTokenError is emitted when a refresh attempt failed.
	TypeRefreshTokenError Type = "refreshTokenError"

	// TypeClearTokenError is emitted when clearing a token record failed.
	TypeClearTokenError Type = "clearTokenError"

	// TypeReauthorizationRequired is emitted when the refresh token is missing
	// or was rejected and only an interactive login can recover.
	TypeReauthorizationRequired Type = "reauthorizationRequired"

	// TypeConfigStored is emitted when a resource config was registered.
	TypeConfigStored Type = "configStored"
)

// Severity tells subscribers whether an event needs attention.
type Severity string

const (
	SeverityNormal  Severity = "Normal"
	SeverityWarning Severity = "Warning"
)

// Event is one notification delivered to subscribers.
type Event struct {
	ID             string    `json:"id"`
	Type           Type      `json:"type"`
	Severity       Severity  `json:"severity"`
	ResourceServer string    `json:"resource_server,omitempty"`
	Message        string    `json:"message"`
	Error          string    `json:"error,omitempty"`
	Time           time.Time `json:"time"`
}

// New builds an event with a fresh ID and a rendered message.
func New(t Type, resourceServer string, err error) Event {
	e := Event{
		ID:             uuid.NewString(),
		Type:           t,
		Severity:       severityOf(t),
		ResourceServer: resourceServer,
		Time:           time.Now().UTC(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	e.Message = defaultTemplates.Render(t, e)
	return e
}

func severityOf(t Type) Severity {
	switch t {
	case TypeAccessTokenError,
		TypeRefreshTokenError,
		TypeClearTokenError,
		TypeReauthorizationRequired:
		return SeverityWarning
	default:
		return SeverityNormal
	}
}
