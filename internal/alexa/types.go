// Package alexa handles Smart Home skill directives for the TV endpoint:
// discovery plus the power, step speaker and input controllers.
package alexa

import (
	"context"
	"encoding/json"
	"maps"

	"github.com/fisaks/tvbridge/internal/command"
)

// Request is the envelope the skill receives.
type Request struct {
	Directive Directive `json:"directive"`
}

type Directive struct {
	Header   Header         `json:"header"`
	Endpoint *Endpoint      `json:"endpoint,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// Header is echoed back on the response with namespace and name replaced,
// which is how the reply is correlated. Fields without a struct field are
// kept in Extra and written back unchanged.
type Header struct {
	Namespace        string `json:"namespace"`
	Name             string `json:"name"`
	MessageID        string `json:"messageId,omitempty"`
	PayloadVersion   string `json:"payloadVersion,omitempty"`
	CorrelationToken string `json:"correlationToken,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// headerFields has Header's fields without its methods.
type headerFields Header

var headerKeys = []string{"namespace", "name", "messageId", "payloadVersion", "correlationToken"}

func (h *Header) UnmarshalJSON(data []byte) error {
	var known headerFields
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range headerKeys {
		delete(all, k)
	}
	if len(all) == 0 {
		all = nil
	}
	known.Extra = all
	*h = Header(known)
	return nil
}

func (h Header) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(headerFields(h))
	if err != nil || len(h.Extra) == 0 {
		return raw, err
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	merged := maps.Clone(h.Extra)
	maps.Copy(merged, out)
	return json.Marshal(merged)
}

type Endpoint struct {
	Scope      Scope          `json:"scope"`
	EndpointID string         `json:"endpointId,omitempty"`
	Cookie     map[string]any `json:"cookie,omitempty"`
}

type Scope struct {
	Type  string `json:"type,omitempty"`
	Token string `json:"token"`
}

type Response struct {
	Context *Context `json:"context,omitempty"`
	Event   Event    `json:"event"`
}

type Context struct {
	Properties []Property `json:"properties"`
}

type Property struct {
	Namespace                 string `json:"namespace"`
	Name                      string `json:"name"`
	Value                     any    `json:"value"`
	TimeOfSample              string `json:"timeOfSample"`
	UncertaintyInMilliseconds int    `json:"uncertaintyInMilliseconds"`
}

type Event struct {
	Header   Header    `json:"header"`
	Endpoint *Endpoint `json:"endpoint,omitempty"`
	Payload  any       `json:"payload"`
}

type ErrorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Error types used in ErrorResponse payloads.
const (
	ErrInvalidDirective = "INVALID_DIRECTIVE"
	ErrInvalidValue     = "INVALID_VALUE"
	ErrValueOutOfRange  = "VALUE_OUT_OF_RANGE"
)

// Publisher forwards a command to the TV. It never fails the directive.
type Publisher interface {
	Publish(ctx context.Context, cmd command.Command)
}
