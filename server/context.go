package server

import "context"

type contextKey string

const ctxKeySubject contextKey = "auth.subject"

// contextWithSubject stores the authenticated username on the request
// context for downstream handlers.
func contextWithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, ctxKeySubject, subject)
}

// subjectFromContext returns the authenticated username, if any.
func subjectFromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(ctxKeySubject).(string)
	return s, ok
}
