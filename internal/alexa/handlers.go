package alexa

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fisaks/tvbridge/internal/command"
	"github.com/fisaks/tvbridge/internal/util"
)

const (
	uncertaintyMs  = 50
	maxVolumeSteps = 100
)

// Handlers turns directives into commands and builds the replies.
type Handlers struct {
	endpoint EndpointDescriptor
	pub      Publisher
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Handlers)

// WithClock replaces the clock used for timeOfSample.
func WithClock(now func() time.Time) Option {
	return func(h *Handlers) { h.now = now }
}

func WithEndpoint(e EndpointDescriptor) Option {
	return func(h *Handlers) { h.endpoint = e }
}

func NewHandlers(pub Publisher, logger *slog.Logger, opts ...Option) *Handlers {
	h := &Handlers{
		endpoint: DefaultEndpoint(),
		pub:      pub,
		logger:   logger,
		now:      time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Handlers) Discovery(_ context.Context, req Request) Response {
	header := req.Directive.Header
	header.Name = "Discover.Response"
	return Response{Event: Event{
		Header:  header,
		Payload: DiscoveryPayload{Endpoints: []EndpointDescriptor{h.endpoint}},
	}}
}

func (h *Handlers) Power(ctx context.Context, req Request) Response {
	var on bool
	switch req.Directive.Header.Name {
	case "TurnOn":
		on = true
	case "TurnOff":
		on = false
	default:
		return h.errorResponse(req, ErrInvalidDirective,
			fmt.Sprintf("unsupported power directive %q", req.Directive.Header.Name))
	}
	cmd := command.NewPower(on)
	h.logger.Info("power", "state", powerState(on))
	h.pub.Publish(ctx, cmd)
	return h.response(req, "Alexa.PowerController", "powerState", powerState(on))
}

func powerState(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

// StepSpeaker handles AdjustVolume and SetMute. volumeSteps wins when a
// payload carries both.
func (h *Handlers) StepSpeaker(ctx context.Context, req Request) Response {
	payload := req.Directive.Payload

	if raw, ok := payload["volumeSteps"]; ok {
		steps, ok := util.ToInt(raw)
		if !ok {
			return h.errorResponse(req, ErrInvalidValue, fmt.Sprintf("volumeSteps %v is not an integer", raw))
		}
		if steps < -maxVolumeSteps || steps > maxVolumeSteps {
			return h.errorResponse(req, ErrValueOutOfRange,
				fmt.Sprintf("volumeSteps %d is outside -%d..%d", steps, maxVolumeSteps, maxVolumeSteps))
		}
		h.logger.Info("volume", "steps", steps)
		h.pub.Publish(ctx, command.NewVolume(steps))
		return h.response(req, "Alexa.Speaker", "volumeSteps", steps)
	}
	if raw, ok := payload["mute"]; ok {
		muted, ok := util.ToBool(raw)
		if !ok {
			return h.errorResponse(req, ErrInvalidValue, fmt.Sprintf("mute %v is not a boolean", raw))
		}
		h.logger.Info("mute", "muted", muted)
		h.pub.Publish(ctx, command.NewMute(muted))
		return h.response(req, "Alexa.Speaker", "muted", muted)
	}
	return h.errorResponse(req, ErrInvalidValue, "payload has neither volumeSteps nor mute")
}

func (h *Handlers) Input(ctx context.Context, req Request) Response {
	name, ok := util.ToString(req.Directive.Payload["input"])
	if !ok || name == "" {
		return h.errorResponse(req, ErrInvalidValue, "payload has no input")
	}
	if strings.Contains(name, ":") {
		return h.errorResponse(req, ErrInvalidValue, fmt.Sprintf("input %q cannot contain ':'", name))
	}
	h.logger.Info("input", "input", name)
	h.pub.Publish(ctx, command.NewInput(name))
	return h.response(req, "Alexa.InputController", "input", name)
}

// Error answers directives no handler claims.
func (h *Handlers) Error(_ context.Context, req Request) Response {
	hdr := req.Directive.Header
	return h.errorResponse(req, ErrInvalidDirective,
		fmt.Sprintf("unsupported directive %s.%s", hdr.Namespace, hdr.Name))
}

func (h *Handlers) response(req Request, namespace, name string, value any) Response {
	header := req.Directive.Header
	header.Namespace = "Alexa"
	header.Name = "Response"
	return Response{
		Context: &Context{Properties: []Property{{
			Namespace:                 namespace,
			Name:                      name,
			Value:                     value,
			TimeOfSample:              h.now().UTC().Format(time.RFC3339Nano),
			UncertaintyInMilliseconds: uncertaintyMs,
		}}},
		Event: Event{Header: header, Payload: struct{}{}},
	}
}

func (h *Handlers) errorResponse(req Request, errType, message string) Response {
	h.logger.Warn("directive rejected", "namespace", req.Directive.Header.Namespace,
		"name", req.Directive.Header.Name, "type", errType, "message", message)

	header := req.Directive.Header
	header.Namespace = "Alexa"
	header.Name = "ErrorResponse"

	endpoint := &Endpoint{Scope: Scope{Type: "BearerToken"}}
	if ep := req.Directive.Endpoint; ep != nil {
		endpoint.Scope.Token = ep.Scope.Token
		if ep.Scope.Type != "" {
			endpoint.Scope.Type = ep.Scope.Type
		}
		endpoint.EndpointID = ep.EndpointID
	}
	return Response{Event: Event{
		Header:   header,
		Endpoint: endpoint,
		Payload:  ErrorPayload{Type: errType, Message: message},
	}}
}
