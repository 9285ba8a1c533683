package llmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/api/schemas"
)

type tierEcho struct{ name string }

func (e *tierEcho) Generate(context.Context, schemas.GenerationRequest) (string, error) {
	return e.name, nil
}

func TestRouterSelectsTier(t *testing.T) {
	t.Parallel()

	r, err := NewLLMRouter(zaptest.NewLogger(t), &tierEcho{"fast"}, &tierEcho{"powerful"})
	require.NoError(t, err)

	out, err := r.Generate(context.Background(), schemas.GenerationRequest{Tier: schemas.TierFast})
	require.NoError(t, err)
	assert.Equal(t, "fast", out)

	out, err = r.Generate(context.Background(), schemas.GenerationRequest{Tier: schemas.TierPowerful})
	require.NoError(t, err)
	assert.Equal(t, "powerful", out)
}

func TestRouterDefaultsToPowerful(t *testing.T) {
	t.Parallel()

	r, err := NewLLMRouter(zaptest.NewLogger(t), &tierEcho{"fast"}, &tierEcho{"powerful"})
	require.NoError(t, err)

	out, err := r.Generate(context.Background(), schemas.GenerationRequest{})
	require.NoError(t, err)
	assert.Equal(t, "powerful", out)
}

func TestRouterRequiresBothClients(t *testing.T) {
	t.Parallel()

	_, err := NewLLMRouter(zaptest.NewLogger(t), &tierEcho{"fast"}, nil)
	require.Error(t, err)
}
