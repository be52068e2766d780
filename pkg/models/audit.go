package models

import "time"

// AuditRecord is one proxied exchange as persisted by the audit store.
type AuditRecord struct {
	ID                  int64      `json:"id"`
	ProviderID          string     `json:"provider_id"`
	IsChat              bool       `json:"is_chat"`
	RequestBody         string     `json:"request_body"`
	ResponseBody        string     `json:"response_body,omitempty"`
	RequestStartedAt    time.Time  `json:"request_started_at"`
	ResponseCompletedAt *time.Time `json:"response_completed_at,omitempty"`
	Model               string     `json:"model"`
	PromptTokens        *int64     `json:"prompt_tokens"`
	CompletionTokens    *int64     `json:"completion_tokens"`
	TokensPerSecond     *int64     `json:"tokens_per_second"`
}

// Completion carries the fields written when an exchange terminates.
type Completion struct {
	ResponseBody     string
	PromptTokens     *int64
	CompletionTokens *int64
	TokensPerSecond  *int64
}

// LogQuery selects a page of completed audit records. Page is zero-based.
type LogQuery struct {
	Page     int
	Size     int
	SortBy   string
	SortDesc bool
}

// UsageStat aggregates completed exchanges per provider and model.
type UsageStat struct {
	ProviderID       string  `json:"provider_id"`
	Model            string  `json:"model"`
	Requests         int64   `json:"requests"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	AvgTokensPerSec  float64 `json:"avg_tokens_per_second"`
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }
