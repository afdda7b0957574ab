package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/geocluster/internal/humastar"
)

// EventName is the DOM event dispatched on Datastar clients for every bus
// event.
const EventName = "geocluster-event"

// RegisterEvents registers the Datastar event stream.
func (h *APIHandler) RegisterEvents(api huma.API) {
	huma.Get(api, "/api/v1/events", h.Events, huma.OperationTags("events"))
}

// Events streams dataset, source and tile events as Datastar SSE until the
// client disconnects. Each event patches the lastEvent signal and fires a
// geocluster-event DOM event.
func (h *APIHandler) Events(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	return humastar.Stream(func(sse humastar.SSE) {
		ch := h.svc.Bus.Subscribe()
		defer h.svc.Bus.Unsubscribe(ch)

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				sse.Signals(map[string]any{"lastEvent": ev})
				sse.Dispatch(EventName, ev)
			}
		}
	}), nil
}
