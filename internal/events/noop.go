package events

import "context"

// NoopProducer is used when the event stream is disabled.
type NoopProducer struct{}

func (NoopProducer) ProduceTurnEvent(ctx context.Context, evt *TurnEvent) error { return nil }
func (NoopProducer) Close() error                                               { return nil }
