/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package tokens

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/marcus-qen/tabops/internal/metrics"
	"github.com/marcus-qen/tabops/internal/siteconn"
)

// maxRetries bounds every request to two attempts.
const maxRetries = 1

// retry runs op, retrying once when the failure is retryable. It returns the
// number of attempts made and the last error.
func (r *Registry) retry(ctx context.Context, kind string, op func(context.Context) error) (int, error) {
	attempts := 0
	b := backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), maxRetries), ctx)

	err := backoff.RetryNotify(func() error {
		attempts++
		err := op(ctx)
		metrics.RecordRequest(kind, err)
		if err != nil && !siteconn.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		r.logger.Warn("request failed, retrying",
			zap.String("kind", kind),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	})
	return attempts, err
}
