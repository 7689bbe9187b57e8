package logger

import "context"

type contextKey string

const RunIDKey contextKey = "run_id"
const PolicyIDKey contextKey = "policy_id"

func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RunIDKey, id)
}

func GetRunID(ctx context.Context) string {
	if id, ok := ctx.Value(RunIDKey).(string); ok {
		return id
	}
	return ""
}

func WithPolicyID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, PolicyIDKey, id)
}

func GetPolicyID(ctx context.Context) string {
	if id, ok := ctx.Value(PolicyIDKey).(string); ok {
		return id
	}
	return ""
}
