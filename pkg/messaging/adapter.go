package messaging

import (
	"context"
	"fmt"
)

// Consume subscribes to channel and feeds every message to handler until ctx is done.
// Handler errors are passed to onError and do not stop consumption.
func Consume(ctx context.Context, broker Broker, channel string, handler Handler, onError func(error)) error {
	msgChan, err := broker.Subscribe(ctx, channel)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgChan:
			if !ok {
				return nil
			}
			if err := handler(ctx, msg); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}
