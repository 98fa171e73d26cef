package alexa

import (
	"context"
)

// Router picks the handler for a directive. The first match wins: the
// Discover name, then the power, step speaker and input namespaces.
// Anything else gets an ErrorResponse.
type Router struct {
	h *Handlers
}

func NewRouter(h *Handlers) *Router {
	return &Router{h: h}
}

func (r *Router) Handle(ctx context.Context, req Request) Response {
	hdr := req.Directive.Header
	switch {
	case hdr.Name == "Discover":
		return r.h.Discovery(ctx, req)
	case hdr.Namespace == "Alexa.PowerController":
		return r.h.Power(ctx, req)
	case hdr.Namespace == "Alexa.StepSpeaker":
		return r.h.StepSpeaker(ctx, req)
	case hdr.Namespace == "Alexa.InputController":
		return r.h.Input(ctx, req)
	default:
		return r.h.Error(ctx, req)
	}
}
