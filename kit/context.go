package kit

import "context"

type contextKey string

const (
	RequestIDKey contextKey = "kit_request_id"
	RunIDKey     contextKey = "kit_run_id"
	PatientIDKey contextKey = "kit_patient_id"
	TransportKey contextKey = "kit_transport" // "http", "mcp", "cli"
)

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}

func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RunIDKey, id)
}
func GetRunID(ctx context.Context) string {
	v, _ := ctx.Value(RunIDKey).(string)
	return v
}

func WithPatientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, PatientIDKey, id)
}
func GetPatientID(ctx context.Context) string {
	v, _ := ctx.Value(PatientIDKey).(string)
	return v
}

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return "cli"
}

// LogAttrs returns the kit values present in ctx as slog key/value pairs.
func LogAttrs(ctx context.Context) []any {
	var attrs []any
	if v := GetRunID(ctx); v != "" {
		attrs = append(attrs, "run", v)
	}
	if v := GetRequestID(ctx); v != "" {
		attrs = append(attrs, "request", v)
	}
	if v := GetPatientID(ctx); v != "" {
		attrs = append(attrs, "patient", v)
	}
	return attrs
}
