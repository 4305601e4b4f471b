package controllers

import (
	"context"

	"github.com/docsignal/DocSignal/internal/pkg/cache"
)

func pingCache(ctx context.Context) error {
	return cache.GetClient().Ping(ctx).Err()
}
