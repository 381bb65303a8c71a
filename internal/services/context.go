package services

import (
	"context"
	"strings"
)

type contextKey int

const (
	projectIDKey contextKey = iota
	nodeKey
	jobIDKey
	sceneIDKey
	requestIDKey
)

// WithProjectID annotates ctx with the owning project identifier.
func WithProjectID(ctx context.Context, projectID string) context.Context {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return ctx
	}
	return context.WithValue(ctx, projectIDKey, projectID)
}

// ProjectIDFromContext extracts the project identifier when present.
func ProjectIDFromContext(ctx context.Context) (string, bool) {
	return stringFromContext(ctx, projectIDKey)
}

// WithNode annotates ctx with the executing pipeline node name.
func WithNode(ctx context.Context, node string) context.Context {
	node = strings.TrimSpace(node)
	if node == "" {
		return ctx
	}
	return context.WithValue(ctx, nodeKey, node)
}

// NodeFromContext extracts the pipeline node name when present.
func NodeFromContext(ctx context.Context) (string, bool) {
	return stringFromContext(ctx, nodeKey)
}

// WithJobID annotates ctx with a job identifier.
func WithJobID(ctx context.Context, jobID string) context.Context {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return ctx
	}
	return context.WithValue(ctx, jobIDKey, jobID)
}

// JobIDFromContext extracts the job identifier when present.
func JobIDFromContext(ctx context.Context) (string, bool) {
	return stringFromContext(ctx, jobIDKey)
}

// WithSceneID annotates ctx with a scene identifier.
func WithSceneID(ctx context.Context, sceneID string) context.Context {
	sceneID = strings.TrimSpace(sceneID)
	if sceneID == "" {
		return ctx
	}
	return context.WithValue(ctx, sceneIDKey, sceneID)
}

// SceneIDFromContext extracts the scene identifier when present.
func SceneIDFromContext(ctx context.Context) (string, bool) {
	return stringFromContext(ctx, sceneIDKey)
}

// WithRequestID annotates ctx with a correlation identifier.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the correlation identifier when present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return stringFromContext(ctx, requestIDKey)
}

func stringFromContext(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value, ok := ctx.Value(key).(string)
	if !ok || strings.TrimSpace(value) == "" {
		return "", false
	}
	return value, true
}
