package registry

import "context"

// NoopRegistry is used when no redis address is configured.
type NoopRegistry struct{}

func (NoopRegistry) Register(ctx context.Context, userID, clientID string) error   { return nil }
func (NoopRegistry) Deregister(ctx context.Context, userID, clientID string) error { return nil }
func (NoopRegistry) StartHeartbeat(ctx context.Context) error                      { return nil }
func (NoopRegistry) StopHeartbeat()                                                {}
func (NoopRegistry) Close() error                                                  { return nil }
