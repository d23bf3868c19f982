package httpapi

import "context"

// serverBaseCtx is cancelled on shutdown so long-lived event streams end
// before the server waits for in-flight requests.
var serverBaseCtx = context.Background()

// SetBaseContext installs the shutdown context; nil restores Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	serverBaseCtx = ctx
}

// joinContexts derives a stream context from the request and the shutdown
// context. Call the returned func when the stream ends.
func joinContexts(base, req context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(req)
	stop := context.AfterFunc(base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
