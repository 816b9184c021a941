package pgxendpoint

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/jrazmi/storeproxy/core/proxy"
	"github.com/jrazmi/storeproxy/infrastructure/rpc/natsrpc"
)

// Subject returns the NATS subject an action is served on under prefix.
func Subject(prefix string, action proxy.Action) string {
	return prefix + "." + string(action)
}

// Serve subscribes the endpoint's four actions under prefix and answers
// requests until ctx is done. Handler errors reply success=false; the
// requester always gets an answer while the endpoint is up.
func (e *Endpoint) Serve(ctx context.Context, conn *nats.Conn, prefix string) error {
	if prefix == "" {
		return fmt.Errorf("subject prefix is required")
	}

	subs := make([]*nats.Subscription, 0, len(proxy.Actions))
	for _, action := range proxy.Actions {
		handler, err := e.handler(action)
		if err != nil {
			return err
		}

		subject := Subject(prefix, action)
		sub, err := conn.Subscribe(subject, e.serveMsg(ctx, action, handler))
		if err != nil {
			for _, s := range subs {
				s.Unsubscribe()
			}
			return fmt.Errorf("subscribing to %s: %w", subject, err)
		}
		subs = append(subs, sub)

		e.log.InfoContext(ctx, "endpoint serving",
			"table", e.table,
			"subject", subject)
	}

	<-ctx.Done()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			e.log.Error("unsubscribe failed", "error", err)
		}
	}
	return nil
}

// serveMsg answers one request on the serving context, so cancelling
// Serve also cancels in-flight database work.
func (e *Endpoint) serveMsg(ctx context.Context, action proxy.Action, handler handlerFunc) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var envelope natsrpc.Envelope
		if err := json.Unmarshal(msg.Data, &envelope); err != nil {
			e.log.Error("malformed request envelope",
				"table", e.table,
				"action", action,
				"error", err)
			e.respond(msg, failureResponse())
			return
		}

		resp, err := handler(ctx, envelope.Args)
		if err != nil {
			e.log.Error("endpoint operation failed",
				"table", e.table,
				"action", action,
				"error", err)
			e.respond(msg, failureResponse())
			return
		}
		e.respond(msg, resp)
	}
}

func (e *Endpoint) respond(msg *nats.Msg, data []byte) {
	if err := msg.Respond(data); err != nil {
		e.log.Error("reply failed", "table", e.table, "error", err)
	}
}
