package audit

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"strings"
	"time"

	"glgapp.org/internal/auth"
	"glgapp.org/internal/obs"
)

type ctxKey struct{}

// Entry is one audit line.
type Entry struct {
	TS        string         `json:"ts"`
	Type      string         `json:"type"`
	Event     string         `json:"event"`
	Outcome   string         `json:"outcome"`
	RequestID string         `json:"request_id,omitempty"`
	Subject   string         `json:"subject,omitempty"`
	Fields    map[string]any `json:"fields"`
}

// WithRequestID stores the request id picked up by LogEvent and error logs.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID = strings.TrimSpace(requestID); requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, requestID)
}

// RequestIDFromContext returns the id stored by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	rid, _ := ctx.Value(ctxKey{}).(string)
	return rid
}

// LogEvent writes an audit entry for event. The verified subject, when the
// request got that far, is taken from the identity in ctx.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	e := Entry{
		TS:        time.Now().UTC().Format(time.RFC3339Nano),
		Type:      "audit",
		Event:     event,
		Outcome:   outcome(event),
		RequestID: RequestIDFromContext(ctx),
		Fields:    map[string]any{},
	}
	if subject, ok := auth.SubjectFromContext(ctx); ok {
		e.Subject = subject
	}
	maps.Copy(e.Fields, fields)

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
