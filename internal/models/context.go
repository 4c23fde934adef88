package models

import "context"

type correlationKey struct{}

// ContextWithCorrelationID stores the correlation id carried by the current
// request or event so outbound calls and events can propagate it.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func CorrelationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// HeaderCorrelationID is the HTTP header used on the synchronous hop.
const HeaderCorrelationID = "X-Correlation-ID"
