package ai

import "context"

// Message roles on the wire.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenParams tune a single generation.
type GenParams struct {
	Temperature float64
	TopP        float64
	TopK        int
}

// Request is one inference call: a system instruction, the conversation so
// far, and generation parameters.
type Request struct {
	System    string
	Messages  []Message
	Params    GenParams
	MaxTokens int
}

type Provider interface {
	Generate(ctx context.Context, req Request) (string, error)
}
