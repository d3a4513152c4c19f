package types

// TokenUsage represents token consumption and derived cost for one request.
type TokenUsage struct {
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
	TotalTokens      int     `json:"total_tokens,omitempty"`
	Cost             float64 `json:"cost,omitempty"`
}

// Add adds another TokenUsage to this one.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
	u.Cost += other.Cost
}

// SplitCostTokens derives prompt/completion counts from a total when a
// backend reports only a combined figure, using the 30/70 input/output
// heuristic.
func SplitCostTokens(total int) (prompt, completion int) {
	prompt = total * 3 / 10
	completion = total - prompt
	return prompt, completion
}
