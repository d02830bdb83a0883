// Package task defines the durable task record and its Redis-backed
// store.
package task

import (
	"time"

	"github.com/IgnatG/langextract-api/internal/extraction"
)

// State is the lifecycle state of a task.
type State string

const (
	StatePending State = "PENDING"
	StateStarted State = "STARTED"
	StateSuccess State = "SUCCESS"
	StateFailure State = "FAILURE"
	StateRevoked State = "REVOKED"
)

// Terminal reports whether no further transition may leave s.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailure || s == StateRevoked
}

// Request is the extraction request a task owns. Exactly one of
// RawText and DocumentURL is set.
type Request struct {
	RawText            string               `json:"raw_text,omitempty"`
	DocumentURL        string               `json:"document_url,omitempty"`
	Prompt             string               `json:"prompt_description"`
	Examples           []extraction.Example `json:"examples,omitempty"`
	Model              string               `json:"model,omitempty"`
	Providers          []string             `json:"providers,omitempty"`
	Temperature        float64              `json:"temperature"`
	Passes             int                  `json:"passes"`
	ConsensusThreshold *float64             `json:"consensus_threshold,omitempty"`
	MaxCharBuffer      int                  `json:"max_char_buffer,omitempty"`
	MaxWorkers         int                  `json:"max_workers,omitempty"`
	CallbackURL        string               `json:"callback_url,omitempty"`
	CallbackHeaders    map[string]string    `json:"callback_headers,omitempty"`
	IdempotencyKey     string               `json:"idempotency_key,omitempty"`
}

// EffectiveProviders returns the provider set the request runs
// against: the explicit providers list, or the single model.
func (r Request) EffectiveProviders() []string {
	if len(r.Providers) > 0 {
		return r.Providers
	}
	return []string{r.Model}
}

// Task is the durable unit of work. The state lives in its own store
// key so transitions can be compare-and-set atomically; State here is
// filled in on read.
type Task struct {
	ID          string             `json:"task_id"`
	State       State              `json:"status"`
	Request     Request            `json:"request"`
	Result      *extraction.Result `json:"result,omitempty"`
	ErrorDetail string             `json:"error_detail,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}
