package dto

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	AccountID string        `json:"accountId"`
	Messages  []ChatMessage `json:"messages"`
}

type ChatResponse struct {
	Reply            string      `json:"reply"`
	Sources          []SearchHit `json:"sources"`
	RemainingCredits int         `json:"remainingCredits"`
}

type ComposeRequest struct {
	AccountID string `json:"accountId"`
	Context   string `json:"context"`
	Prompt    string `json:"prompt"`
}

type AutocompleteRequest struct {
	AccountID string `json:"accountId"`
	Input     string `json:"input"`
}

type CompletionResponse struct {
	Text string `json:"text"`
}

// CompletionRequest is a single prompt sent to the language model.
type CompletionRequest struct {
	SystemPrompt string
	Messages     []ChatMessage
	MaxTokens    int
	Temperature  float64
}
