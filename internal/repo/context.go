package repo

import "context"

type requesterContextKey struct{}

// WithRequester attaches the authenticated requester to the context. The
// HTTP auth middleware sets it; handlers and the GraphQL resolver read it
// back.
func WithRequester(ctx context.Context, req *Requester) context.Context {
	return context.WithValue(ctx, requesterContextKey{}, req)
}

// RequesterFromContext returns the requester attached to the context, or
// nil when the request is unauthenticated.
func RequesterFromContext(ctx context.Context) *Requester {
	req, _ := ctx.Value(requesterContextKey{}).(*Requester)
	return req
}
