package dm

import (
	"context"

	"github.com/lokutor-ai/turncore/pkg/providers"
)

type fakeLLM struct {
	response     string
	lastMessages []providers.Message
}

func (f *fakeLLM) Complete(ctx context.Context, messages []providers.Message) (string, error) {
	f.lastMessages = messages
	return f.response, nil
}

func (f *fakeLLM) Name() string { return "fake-llm" }
