// Package ledger appends immutable cost records for paid speech operations.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tiger/discharge-followup/api/calls"
)

// Store persists cost items. Items are never updated or deleted.
type Store interface {
	InsertCostItem(ctx context.Context, item calls.CostItem) error
	CostItems(ctx context.Context, callID string) ([]calls.CostItem, error)
}

// Ledger computes totals at write time and sums them on read.
type Ledger struct {
	store   Store
	pricing Pricing
	now     func() time.Time
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithPricing replaces DefaultPricing.
func WithPricing(p Pricing) Option {
	return func(l *Ledger) { l.pricing = p }
}

// WithClock injects the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{store: store, pricing: DefaultPricing(), now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Pricing returns the active price table.
func (l *Ledger) Pricing() Pricing {
	return l.pricing
}

// Record appends one cost item with TotalCost = units × unitPrice.
func (l *Ledger) Record(ctx context.Context, callID string, category calls.CostCategory, provider string, units, unitPrice decimal.Decimal) (calls.CostItem, error) {
	if strings.TrimSpace(callID) == "" {
		return calls.CostItem{}, fmt.Errorf("call id is required")
	}
	if err := category.Validate(); err != nil {
		return calls.CostItem{}, err
	}
	if units.IsNegative() || unitPrice.IsNegative() {
		return calls.CostItem{}, fmt.Errorf("units and unit price must be non-negative")
	}
	item := calls.CostItem{
		ID:        uuid.NewString(),
		CallID:    callID,
		Category:  category,
		Provider:  strings.ToLower(strings.TrimSpace(provider)),
		Units:     units,
		UnitCost:  unitPrice,
		TotalCost: units.Mul(unitPrice),
		CreatedAt: l.now().UTC(),
	}
	if err := l.store.InsertCostItem(ctx, item); err != nil {
		return calls.CostItem{}, fmt.Errorf("record cost item: %w", err)
	}
	return item, nil
}

// RecordPriced records units at the table price. Free providers record nothing and
// report recorded=false.
func (l *Ledger) RecordPriced(ctx context.Context, callID string, category calls.CostCategory, provider string, units decimal.Decimal) (calls.CostItem, bool, error) {
	price, ok := l.pricing.Lookup(category, provider)
	if !ok {
		return calls.CostItem{}, false, nil
	}
	item, err := l.Record(ctx, callID, category, price.Provider, units, price.UnitPrice)
	if err != nil {
		return calls.CostItem{}, false, err
	}
	return item, true, nil
}

// Items lists a call's cost items in insertion order.
func (l *Ledger) Items(ctx context.Context, callID string) ([]calls.CostItem, error) {
	return l.store.CostItems(ctx, callID)
}

// TotalCost sums the call's recorded totals.
func (l *Ledger) TotalCost(ctx context.Context, callID string) (decimal.Decimal, error) {
	items, err := l.store.CostItems(ctx, callID)
	if err != nil {
		return decimal.Zero, err
	}
	return Sum(items), nil
}

// Sum adds up TotalCost across items.
func Sum(items []calls.CostItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.TotalCost)
	}
	return total
}

// MemoryStore keeps cost items in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	items []calls.CostItem
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) InsertCostItem(ctx context.Context, item calls.CostItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, item)
	return nil
}

func (s *MemoryStore) CostItems(ctx context.Context, callID string) ([]calls.CostItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]calls.CostItem, 0)
	for _, item := range s.items {
		if item.CallID == callID {
			out = append(out, item)
		}
	}
	return out, nil
}
