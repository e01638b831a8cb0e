package dm

import (
	"context"
	"strings"
	"testing"
)

func testBank() Bank {
	return Bank{
		Questions: []Question{
			{Question: "How are you doing today?", FollowUps: []string{"Did you sleep well?", "Go on."}},
			{Question: "Do you exercise regularly?", FollowUps: []string{"What kind?", "How often?"}},
		},
		Acknowledgements: []string{"I see.", "okay"},
		Segues:           []string{"so,", "yeah,"},
	}
}

func TestQuestionBankFirstResponseIsFirstQuestion(t *testing.T) {
	d := NewQuestionBankDM(testBank(), 1, nil, 1)
	resp, ended, _, err := d.GetResponse(context.Background(), nil)
	if err != nil {
		t.Fatalf("GetResponse: %v", err)
	}
	if ended {
		t.Errorf("expected ended=false on first response")
	}
	if resp != "How are you doing today?" {
		t.Errorf("expected first question, got %q", resp)
	}
}

func TestQuestionBankConsumesFollowUpsThenAdvances(t *testing.T) {
	d := NewQuestionBankDM(testBank(), 1, nil, 2)
	ctx := context.Background()

	first, _, _, _ := d.GetResponse(ctx, nil)
	followUp, ended, _, err := d.GetResponse(ctx, []string{first})
	if err != nil {
		t.Fatalf("GetResponse: %v", err)
	}
	if ended {
		t.Fatalf("expected ended=false on follow-up")
	}
	if !strings.HasSuffix(followUp, "Did you sleep well?") && !strings.HasSuffix(followUp, "Go on.") {
		t.Errorf("expected a follow-up from the first question, got %q", followUp)
	}

	next, ended, _, err := d.GetResponse(ctx, []string{first, followUp})
	if err != nil {
		t.Fatalf("GetResponse: %v", err)
	}
	if ended {
		t.Fatalf("expected ended=false when a second question remains")
	}
	if !strings.HasSuffix(next, "Do you exercise regularly?") {
		t.Errorf("expected to move to the next main question, got %q", next)
	}
}

func TestQuestionBankEndsWhenExhausted(t *testing.T) {
	d := NewQuestionBankDM(Bank{Questions: []Question{{Question: "Only one.", FollowUps: nil}}}, 0, nil, 3)
	ctx := context.Background()

	first, ended, _, _ := d.GetResponse(ctx, nil)
	if first != "Only one." || ended {
		t.Fatalf("unexpected first response %q ended=%v", first, ended)
	}

	_, ended, _, err := d.GetResponse(ctx, []string{first})
	if err != nil {
		t.Fatalf("GetResponse: %v", err)
	}
	if !ended {
		t.Errorf("expected ended=true once the bank is exhausted")
	}
}

func TestQuestionBankFollowUpUsesAcknowledgementAndSegue(t *testing.T) {
	d := NewQuestionBankDM(testBank(), 1, nil, 2)
	ctx := context.Background()

	first, _, _, _ := d.GetResponse(ctx, nil)
	followUp, _, _, err := d.GetResponse(ctx, []string{first})
	if err != nil {
		t.Fatalf("GetResponse: %v", err)
	}
	if followUp == "Did you sleep well?" || followUp == "Go on." {
		t.Errorf("expected the bare follow-up to be prefixed with an acknowledgement/segue, got %q", followUp)
	}

	hasAck := false
	for _, ack := range testBank().Acknowledgements {
		if strings.HasPrefix(followUp, ack) {
			hasAck = true
		}
	}
	if !hasAck {
		t.Errorf("expected the response to lead with a configured acknowledgement, got %q", followUp)
	}
}

func TestQuestionBankRankerIsConsulted(t *testing.T) {
	calls := 0
	rank := func(ctx context.Context, dialogContext []string, candidates []string) (string, error) {
		calls++
		return candidates[0], nil
	}
	d := NewQuestionBankDM(testBank(), 1, rank, 1)
	ctx := context.Background()

	first, _, _, _ := d.GetResponse(ctx, nil)
	_, _, _, err := d.GetResponse(ctx, []string{first})
	if err != nil {
		t.Fatalf("GetResponse: %v", err)
	}
	if calls == 0 {
		t.Errorf("expected the ranker to be consulted for the follow-up choice")
	}
}

func TestQuestionBankPerSessionCopyDoesNotMutateSharedBank(t *testing.T) {
	shared := testBank()
	d := NewQuestionBankDM(shared, 1, nil, 1)
	_, _, _, _ = d.GetResponse(context.Background(), nil)

	if len(shared.Questions) != 2 {
		t.Errorf("expected the caller's Bank to be untouched, got %d questions", len(shared.Questions))
	}
}

func TestLLMBackedDMRendersAlternatingRoles(t *testing.T) {
	fake := &fakeLLM{response: "  hello back  "}
	d := NewLLMBackedDM(fake, "be concise")

	resp, ended, _, err := d.GetResponse(context.Background(), []string{"hi", "hello"})
	if err != nil {
		t.Fatalf("GetResponse: %v", err)
	}
	if ended {
		t.Errorf("LLMBackedDM should never report ended")
	}
	if resp != "hello back" {
		t.Errorf("expected trimmed response, got %q", resp)
	}
	if fake.lastMessages[0].Role != "system" {
		t.Errorf("expected system prompt first, got role %q", fake.lastMessages[0].Role)
	}
	if !strings.Contains(fake.lastMessages[0].Content, "concise") {
		t.Errorf("expected system prompt content to be forwarded")
	}
}
