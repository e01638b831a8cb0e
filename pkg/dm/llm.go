package dm

import (
	"context"
	"strings"

	"github.com/lokutor-ai/turncore/pkg/providers"
)

// LLMBackedDM wraps a kept LLMProvider as a generate-style dm.Source: the
// dialog context is rendered as alternating user/assistant turns and the
// model's completion becomes the response. "Goodbye" detection is left to
// the caller (cns.EndDialogIfGoodbye); this Source never reports ended.
type LLMBackedDM struct {
	llm          providers.LLMProvider
	systemPrompt string
}

// NewLLMBackedDM builds an LLMBackedDM. systemPrompt may be empty.
func NewLLMBackedDM(llm providers.LLMProvider, systemPrompt string) *LLMBackedDM {
	return &LLMBackedDM{llm: llm, systemPrompt: systemPrompt}
}

// GetResponse implements dm.Source by completing the rendered dialog
// history. dialogContext alternates speakers starting with whichever
// spoke first in the session; since the core only ever appends strings in
// order, turns are assigned role "user"/"assistant" by parity.
func (d *LLMBackedDM) GetResponse(ctx context.Context, dialogContext []string) (string, bool, interface{}, error) {
	messages := make([]providers.Message, 0, len(dialogContext)+1)
	if d.systemPrompt != "" {
		messages = append(messages, providers.Message{Role: "system", Content: d.systemPrompt})
	}
	for i, utt := range dialogContext {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		messages = append(messages, providers.Message{Role: role, Content: utt})
	}

	reply, err := d.llm.Complete(ctx, messages)
	if err != nil {
		return "", false, nil, err
	}
	return strings.TrimSpace(reply), false, nil, nil
}
