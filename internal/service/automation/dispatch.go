package automation

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"automation-engine/internal/model"
)

const defaultSendConcurrency = 8

// sendAll issues one Send per message with at most limit calls in flight.
// Every message gets its own Outcome; a failure never cancels its siblings.
func sendAll(ctx context.Context, sender Sender, cfg model.ProviderConfig, msgs []model.OutboundMessage, limit int) []Outcome {
	if limit <= 0 {
		limit = defaultSendConcurrency
	}

	outcomes := make([]Outcome, len(msgs))
	var g errgroup.Group
	g.SetLimit(limit)

	for i, msg := range msgs {
		g.Go(func() error {
			outcomes[i] = sendOne(ctx, sender, cfg, msg)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func sendOne(ctx context.Context, sender Sender, cfg model.ProviderConfig, msg model.OutboundMessage) (out Outcome) {
	out = Outcome{Email: msg.Email, Name: msg.Name}
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("send panicked: %v", r)
		}
	}()

	if err := ctx.Err(); err != nil {
		out.Err = err
		return out
	}
	out.MessageID, out.Err = sender.Send(ctx, cfg, msg)
	return out
}

func failAll(msgs []model.OutboundMessage, err error) []Outcome {
	outcomes := make([]Outcome, len(msgs))
	for i, msg := range msgs {
		outcomes[i] = Outcome{Email: msg.Email, Name: msg.Name, Err: err}
	}
	return outcomes
}
