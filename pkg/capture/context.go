package capture

import "context"

type ctxKey struct{}

// reqState is the per-request capture state carried in the context.
type reqState struct {
	recordID  string
	requestID string
	done      bool
}

func withState(ctx context.Context, st *reqState) context.Context {
	return context.WithValue(ctx, ctxKey{}, st)
}

func stateFrom(ctx context.Context) *reqState {
	st, _ := ctx.Value(ctxKey{}).(*reqState)
	return st
}

// RecordIDFrom returns the capture record id of the request ctx belongs to.
func RecordIDFrom(ctx context.Context) (string, bool) {
	st := stateFrom(ctx)
	if st == nil || st.recordID == "" {
		return "", false
	}
	return st.recordID, true
}

// RequestIDFrom returns the framework-level request id.
func RequestIDFrom(ctx context.Context) (string, bool) {
	st := stateFrom(ctx)
	if st == nil || st.requestID == "" {
		return "", false
	}
	return st.requestID, true
}
