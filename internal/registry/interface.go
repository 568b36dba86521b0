package registry

import "context"

// Registry tracks which server instance holds each live connection. Entries
// are TTL keys refreshed by a heartbeat so a crashed instance's sessions
// expire on their own.
type Registry interface {
	Register(ctx context.Context, userID, clientID string) error
	Deregister(ctx context.Context, userID, clientID string) error
	StartHeartbeat(ctx context.Context) error
	StopHeartbeat()
	Close() error
}
