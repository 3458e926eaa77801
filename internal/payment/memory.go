package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrIntentNotFound is returned when a payment intent does not exist.
var ErrIntentNotFound = errors.New("payment intent not found")

// MemoryProvider is an in-memory Provider for tests and local development.
// Intents start pending; tests drive them to a terminal state with
// MarkSucceeded or MarkFailed.
type MemoryProvider struct {
	mu      sync.Mutex
	seq     int
	intents map[string]*Intent

	// CreateErr, when set, is returned by CreateIntent.
	CreateErr error
}

// NewMemoryProvider creates an empty in-memory provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		intents: make(map[string]*Intent),
	}
}

var _ Provider = (*MemoryProvider)(nil)

// CreateIntent implements Provider.
func (p *MemoryProvider) CreateIntent(_ context.Context, req IntentRequest) (*Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.CreateErr != nil {
		return nil, p.CreateErr
	}

	p.seq++
	intent := &Intent{
		ID:           fmt.Sprintf("pi_test_%d", p.seq),
		ClientSecret: fmt.Sprintf("pi_test_%d_secret", p.seq),
		Amount:       req.Amount,
		Currency:     req.Currency,
		Status:       IntentStatusPending,
	}
	p.intents[intent.ID] = intent

	out := *intent
	return &out, nil
}

// GetIntent implements Provider.
func (p *MemoryProvider) GetIntent(_ context.Context, id string) (*Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	intent, ok := p.intents[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	out := *intent
	return &out, nil
}

// CancelIntent implements Provider.
func (p *MemoryProvider) CancelIntent(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	intent, ok := p.intents[id]
	if !ok {
		return ErrIntentNotFound
	}
	intent.Status = IntentStatusCanceled
	return nil
}

// MarkSucceeded moves an intent to the succeeded state.
func (p *MemoryProvider) MarkSucceeded(id string) {
	p.setStatus(id, IntentStatusSucceeded)
}

// MarkFailed moves an intent to the failed state.
func (p *MemoryProvider) MarkFailed(id string) {
	p.setStatus(id, IntentStatusFailed)
}

func (p *MemoryProvider) setStatus(id string, status IntentStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if intent, ok := p.intents[id]; ok {
		intent.Status = status
	}
}
