package models

// Role values used in conversation messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single prior turn in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// QueryOptions carries optional per-call tuning. A nil pointer field means
// "use the provider default".
type QueryOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"maxTokens,omitempty"`
	Model       string   `json:"model,omitempty"`
}

// QueryRequest is the body of POST /query.
type QueryRequest struct {
	Query     string       `json:"query"`
	Providers []string     `json:"providers,omitempty"`
	Options   QueryOptions `json:"options,omitempty"`
	History   []Message    `json:"conversationHistory,omitempty"`
}

// Result statuses for an AIResponse.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// AIResponse is the uniform per-provider result unit.
// Exactly one of Response and Error is set, matching Status.
type AIResponse struct {
	Provider      string  `json:"provider"`
	Model         string  `json:"model"`
	Response      *string `json:"response"`
	Status        string  `json:"status"`
	Error         string  `json:"error,omitempty"`
	ExecutionTime int64   `json:"executionTime"`
	TokensUsed    int     `json:"tokensUsed,omitempty"`
}

// QueryResponse is the aggregate fan-out result.
type QueryResponse struct {
	Success            bool         `json:"success"`
	Results            []AIResponse `json:"results"`
	TotalExecutionTime int64        `json:"totalExecutionTime"`
}

// ProviderInfo describes one registered provider for GET /providers.
type ProviderInfo struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Models    []string `json:"models"`
	Available bool     `json:"available"`
	Reason    string   `json:"reason,omitempty"`
}

// Reply is what an adapter returns from a successful upstream call.
// TokensUsed is zero when the upstream does not report usage.
type Reply struct {
	Text       string
	TokensUsed int
}
