package types

import "testing"

func TestTokenUsage_Add(t *testing.T) {
	t.Parallel()

	u := TokenUsage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3, Cost: 0.5}
	u.Add(TokenUsage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 5, Cost: 1.25})

	if u.PromptTokens != 4 || u.CompletionTokens != 6 || u.TotalTokens != 8 {
		t.Fatalf("unexpected tokens: %+v", u)
	}
	if u.Cost != 1.75 {
		t.Fatalf("unexpected cost: %v", u.Cost)
	}
}

func TestSplitCostTokens(t *testing.T) {
	t.Parallel()

	prompt, completion := SplitCostTokens(100)
	if prompt != 30 || completion != 70 {
		t.Fatalf("expected 30/70 split, got %d/%d", prompt, completion)
	}

	prompt, completion = SplitCostTokens(0)
	if prompt != 0 || completion != 0 {
		t.Fatalf("expected 0/0 split for zero total, got %d/%d", prompt, completion)
	}
}
