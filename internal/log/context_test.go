// SPDX-License-Identifier: MIT
package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestIDFromContext(ctx))

	ctx = ContextWithRequestID(ctx, "req-123")
	assert.Equal(t, "req-123", RequestIDFromContext(ctx))
}

func TestJobIDRoundTrip(t *testing.T) {
	ctx := ContextWithJobID(context.Background(), "job-9")
	assert.Equal(t, "job-9", JobIDFromContext(ctx))
	assert.Empty(t, JobIDFromContext(context.Background()))
}

func TestWithComponentFromContextCarriesIDs(t *testing.T) {
	// The enriched logger must not panic and must be usable without Configure.
	ctx := ContextWithRequestID(context.Background(), "req-1")
	logger := WithComponentFromContext(ctx, "test")
	logger.Debug().Msg("noop")
}
