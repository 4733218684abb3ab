package telemetry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/nais/hostops/pkg/telemetry"
	"github.com/stretchr/testify/assert"
)

func TestNoCollectorConfigured(t *testing.T) {
	ctx := context.Background()
	tp, err := telemetry.New(ctx, "test", "")
	assert.NoError(t, err)
	assert.Nil(t, tp)
	assert.NoError(t, telemetry.Shutdown(ctx, tp))

	stepCtx, span := telemetry.StartStep(ctx, "pull")
	assert.NotNil(t, stepCtx)
	telemetry.EndStep(span, errors.New("pull failed"))
}
