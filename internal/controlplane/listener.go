package controlplane

import "context"

// Listener delivers decoded control-plane messages to a channel until ctx
// is done or the underlying transport closes.
type Listener interface {
	Listen(ctx context.Context) (<-chan Message, error)
	Close() error
}
