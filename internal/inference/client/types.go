package client

import (
	"context"
	"time"
)

// Engine is the contract the chat pipeline depends on. Client talks to an
// Ollama-compatible server; Mock is an in-process stand-in.
type Engine interface {
	Health(ctx context.Context) bool
	ListModels(ctx context.Context) ([]ModelInfo, error)
	Generate(ctx context.Context, model string, messages []Message, options map[string]any) (*Reply, error)
	PullModel(ctx context.Context, model string) error
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ModelInfo struct {
	Name       string       `json:"name"`
	Model      string       `json:"model,omitempty"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest,omitempty"`
	ModifiedAt time.Time    `json:"modified_at,omitempty"`
	Details    ModelDetails `json:"details,omitempty"`
}

type ModelDetails struct {
	Format            string `json:"format,omitempty"`
	Family            string `json:"family,omitempty"`
	ParameterSize     string `json:"parameter_size,omitempty"`
	QuantizationLevel string `json:"quantization_level,omitempty"`
}

// Reply is a successful generation. Durations are reported by the server in
// nanoseconds.
type Reply struct {
	Model         string `json:"model"`
	Content       string `json:"content"`
	EvalCount     int    `json:"eval_count"`
	PromptEvalCnt int    `json:"prompt_eval_count"`
	EvalDuration  int64  `json:"eval_duration"`
	LoadDuration  int64  `json:"load_duration"`
	TotalDuration int64  `json:"total_duration"`
}

type tagsResponse struct {
	Models []ModelInfo `json:"models"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Model           string  `json:"model"`
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	EvalCount       int     `json:"eval_count"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalDuration    int64   `json:"eval_duration"`
	LoadDuration    int64   `json:"load_duration"`
	TotalDuration   int64   `json:"total_duration"`
}

type pullRequest struct {
	Name   string `json:"name"`
	Stream bool   `json:"stream"`
}

type pullResponse struct {
	Status string `json:"status"`
}
