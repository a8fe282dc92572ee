// Package memory implements the append-only ordered message log shared by
// the Planning Flow and its executor agents (SPEC_FULL.md §3).
package memory

import (
	"sync"

	"github.com/fudanyi/agentflow/internal/model"
)

// Memory is an ordered, append-only sequence of messages. A Memory value
// may be shared by reference between a flow and its currently-running
// executor (SPEC_FULL.md §9 "Shared memory between flow and executor");
// all mutation goes through its methods so both observers see the same
// ordering without needing their own copy.
type Memory struct {
	mu       sync.Mutex
	messages []model.Message
}

// New constructs an empty Memory.
func New() *Memory { return &Memory{} }

// Add appends a single message.
func (m *Memory) Add(msg model.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
}

// AddMessages appends multiple messages, preserving their order.
func (m *Memory) AddMessages(msgs []model.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msgs...)
}

// ReplaceAll replaces the entire message log, used by summarization
// (SPEC_FULL.md §4.9) to install the compressed history.
func (m *Memory) ReplaceAll(msgs []model.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append([]model.Message(nil), msgs...)
}

// Messages returns a copy of the current message log, safe for the caller
// to iterate or mutate without affecting this Memory.
func (m *Memory) Messages() []model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Len reports the number of messages currently stored.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// Last returns the last message and true, or the zero value and false when
// empty.
func (m *Memory) Last() (model.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		return model.Message{}, false
	}
	return m.messages[len(m.messages)-1], true
}
