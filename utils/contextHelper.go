package utils

import (
	"context"

	"github.com/google/uuid"
	"github.com/mmdatafocus/ims_backend/appctx"
)

var (
	ContextKeyUsername      = appctx.ContextKeyUsername
	ContextKeyBranchId      = appctx.ContextKeyBranchId
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeyRequestPath   = appctx.ContextKeyRequestPath
)

func GetUsernameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyUsername)
}

// GetUsernameOrSystem is what gets stamped into created_by / updated_by.
func GetUsernameOrSystem(ctx context.Context) string {
	if username, ok := GetUsernameFromContext(ctx); ok && username != "" {
		return username
	}
	return "system"
}

func GetBranchIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyBranchId)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func GetRequestPathFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyRequestPath)
}

func SetRequestPathInContext(ctx context.Context, path string) context.Context {
	return appctx.Set(ctx, ContextKeyRequestPath, path)
}

func SetUsernameInContext(ctx context.Context, username string) context.Context {
	return appctx.Set(ctx, ContextKeyUsername, username)
}

func SetBranchIdInContext(ctx context.Context, branchId string) context.Context {
	return appctx.Set(ctx, ContextKeyBranchId, branchId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

// EnsureCorrelationId returns ctx carrying a correlation id, minting one if absent.
func EnsureCorrelationId(ctx context.Context) (context.Context, string) {
	if id, ok := GetCorrelationIdFromContext(ctx); ok && id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return SetCorrelationIdInContext(ctx, id), id
}
