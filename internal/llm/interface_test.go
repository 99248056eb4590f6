// internal/llm/interface_test.go
package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	initialized map[string]string
}

func (p *stubProvider) Initialize(config map[string]string) error {
	p.initialized = config
	return nil
}

func (p *stubProvider) GetName() string { return "Stub" }

func (p *stubProvider) GetSupportedModels() []string {
	return []string{"stub-1"}
}

func (p *stubProvider) CompleteText(_ context.Context, req CompletionRequest) (*CompletionResponse, error) {
	return &CompletionResponse{Text: "回声: " + req.Messages[len(req.Messages)-1].Content}, nil
}

func TestGetProvider_InitializesRegisteredFactory(t *testing.T) {
	Register("stub", func() Provider { return &stubProvider{} })

	provider, err := GetProvider("stub", map[string]string{"api_key": "k"})
	require.NoError(t, err)
	assert.Equal(t, "Stub", provider.GetName())

	resp, err := provider.CompleteText(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "你好"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "回声: 你好", resp.Text)
}

func TestGetProvider_UnknownProvider(t *testing.T) {
	_, err := GetProvider("nonexistent", nil)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestGetSupportedModelsForProvider(t *testing.T) {
	Register("stub", func() Provider { return &stubProvider{} })

	assert.Equal(t, []string{"stub-1"}, GetSupportedModelsForProvider("stub"))
	assert.Empty(t, GetSupportedModelsForProvider("nonexistent"))
}
