package httpapi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/hertz-contrib/sse"

	"github.com/AltairaLabs/compute-sessions/internal/broadcast"
)

// eventSubscribed is the first event of every stream; its data is the subscriber id
const eventSubscribed = "subscribed"

func (h *Handler) subscribe(ctx context.Context, c *app.RequestContext) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	sub, err := h.sessions.Subscribe(ctx, id)
	if err != nil {
		h.writeError(c, id, err)
		return
	}
	defer h.sessions.Unsubscribe(id, sub.ID)

	h.logger.Info("Subscriber attached", "session_id", id, "subscriber", sub.ID)
	stream := sse.NewStream(c)
	if err := streamEvents(ctx, sub, stream.Publish); err != nil {
		h.logger.Debug("Subscriber stream ended", "session_id", id, "subscriber", sub.ID, "error", err)
	}
}

// streamEvents publishes every message of sub as an SSE event named after its
// kind, until the subscription closes or publishing fails
func streamEvents(ctx context.Context, sub *broadcast.Subscription, publish func(*sse.Event) error) error {
	if err := publish(&sse.Event{Event: eventSubscribed, Data: []byte(sub.ID)}); err != nil {
		return fmt.Errorf("failed to publish subscription: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			data, err := json.Marshal(msg)
			if err != nil {
				return fmt.Errorf("failed to encode message: %w", err)
			}
			if err := publish(&sse.Event{Event: string(msg.Kind), Data: data}); err != nil {
				return err
			}
		}
	}
}
