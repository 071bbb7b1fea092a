package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Paparusi/labo-sub000/internal/domain"
)

// MemoryStore is an in-process Store. It keeps the same locking and
// all-or-nothing guarantees as PostgresStore: WithFactoryLock serializes per
// factory and stages writes until fn returns nil.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*domain.Account
	emails   map[string]string
	plans    map[string]*domain.Plan
	intents  map[string]*domain.PaymentIntent
	orderRef map[string]string
	subs     map[string]*domain.Subscription
	subOrder []string
	seq      map[string]int

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*domain.Account),
		emails:   make(map[string]string),
		plans:    make(map[string]*domain.Plan),
		intents:  make(map[string]*domain.PaymentIntent),
		orderRef: make(map[string]string),
		subs:     make(map[string]*domain.Subscription),
		seq:      make(map[string]int),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// ---- plans ----

func (s *MemoryStore) ListPlans(context.Context) ([]*domain.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, copyPlan(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PriceMonthly != out[j].PriceMonthly {
			return out[i].PriceMonthly < out[j].PriceMonthly
		}
		return out[i].Slug < out[j].Slug
	})
	return out, nil
}

func (s *MemoryStore) FindPlan(_ context.Context, id string) (*domain.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.plans[id]; ok {
		return copyPlan(p), nil
	}
	return nil, nil
}

func (s *MemoryStore) FindPlanBySlug(_ context.Context, slug string) (*domain.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.plans {
		if p.Slug == slug {
			return copyPlan(p), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) UpsertPlan(_ context.Context, p *domain.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.plans {
		if existing.Slug == p.Slug && id != p.ID {
			return fmt.Errorf("failed to upsert plan: slug %q already used by %s", p.Slug, id)
		}
	}
	cp := copyPlan(p)
	if old, ok := s.plans[p.ID]; ok {
		cp.CreatedAt = old.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.plans[p.ID] = cp
	return nil
}

// ---- accounts ----

func (s *MemoryStore) CreateAccount(_ context.Context, a *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.emails[a.Email]; ok {
		return fmt.Errorf("failed to create account: email %q already exists", a.Email)
	}
	cp := *a
	s.accounts[a.ID] = &cp
	s.emails[a.Email] = a.ID
	return nil
}

func (s *MemoryStore) FindAccountByEmail(_ context.Context, email string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.emails[email]; ok {
		cp := *s.accounts[id]
		return &cp, nil
	}
	return nil, nil
}

func (s *MemoryStore) FindAccountByID(_ context.Context, id string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.accounts[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (s *MemoryStore) AccountExists(_ context.Context, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.emails[email]
	return ok, nil
}

func (s *MemoryStore) ListAccounts(context.Context) ([]*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ---- intents ----

func (s *MemoryStore) CreateIntent(_ context.Context, p *domain.PaymentIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.intents[p.ID]; ok {
		return fmt.Errorf("failed to create payment intent: id %s already exists", p.ID)
	}
	if _, ok := s.orderRef[p.OrderRef]; ok {
		return fmt.Errorf("failed to create payment intent: order ref %s already exists", p.OrderRef)
	}
	s.intents[p.ID] = copyIntent(p)
	s.orderRef[p.OrderRef] = p.ID
	s.seq[p.ID] = len(s.seq)
	return nil
}

func (s *MemoryStore) FindIntent(_ context.Context, id string) (*domain.PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.intents[id]; ok {
		return copyIntent(p), nil
	}
	return nil, nil
}

func (s *MemoryStore) FindIntentByOrderRef(_ context.Context, orderRef string) (*domain.PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.orderRef[orderRef]; ok {
		return copyIntent(s.intents[id]), nil
	}
	return nil, nil
}

func (s *MemoryStore) ListIntents(_ context.Context, f IntentFilter) ([]*domain.PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.PaymentIntent
	for _, p := range s.intents {
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.Method != "" && p.Method != f.Method {
			continue
		}
		if f.FactoryID != "" && p.FactoryID != f.FactoryID {
			continue
		}
		out = append(out, copyIntent(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return s.seq[out[i].ID] < s.seq[out[j].ID]
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) CountIntentsByStatus(context.Context) (map[domain.PaymentStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.PaymentStatus]int)
	for _, p := range s.intents {
		out[p.Status]++
	}
	return out, nil
}

// ---- subscriptions ----

func (s *MemoryStore) CurrentSubscription(_ context.Context, factoryID string) (*domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.subOrder) - 1; i >= 0; i-- {
		sub := s.subs[s.subOrder[i]]
		if sub.FactoryID == factoryID && sub.Status.IsCurrent() {
			return copySubscription(sub), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) CountSubscriptionsByStatus(context.Context) (map[domain.SubscriptionStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.SubscriptionStatus]int)
	for _, sub := range s.subs {
		out[sub.Status]++
	}
	return out, nil
}

// Subscriptions returns every term of a factory, oldest first.
func (s *MemoryStore) Subscriptions(factoryID string) []*domain.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Subscription
	for _, id := range s.subOrder {
		if sub := s.subs[id]; sub.FactoryID == factoryID {
			out = append(out, copySubscription(sub))
		}
	}
	return out
}

// ---- transactions ----

func (s *MemoryStore) factoryLock(factoryID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	m, ok := s.locks[factoryID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[factoryID] = m
	}
	return m
}

func (s *MemoryStore) WithFactoryLock(ctx context.Context, factoryID string, fn func(ctx context.Context, tx BillingTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := s.factoryLock(factoryID)
	lock.Lock()
	defer lock.Unlock()

	tx := &memTx{
		s:       s,
		intents: make(map[string]*domain.PaymentIntent),
		subs:    make(map[string]*domain.Subscription),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

// memTx stages every write and applies them in one step on commit.
type memTx struct {
	s        *MemoryStore
	intents  map[string]*domain.PaymentIntent
	subs     map[string]*domain.Subscription
	inserted []string
}

func (t *memTx) intent(id string) *domain.PaymentIntent {
	if p, ok := t.intents[id]; ok {
		return p
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if p, ok := t.s.intents[id]; ok {
		return copyIntent(p)
	}
	return nil
}

func (t *memTx) LockIntent(_ context.Context, id string) (*domain.PaymentIntent, error) {
	p := t.intent(id)
	if p == nil {
		return nil, nil
	}
	return copyIntent(p), nil
}

func (t *memTx) ResolveIntent(_ context.Context, id string, status domain.PaymentStatus, raw []byte, at time.Time) error {
	if !status.IsTerminal() {
		return fmt.Errorf("cannot resolve intent to %q", status)
	}
	p := t.intent(id)
	if p == nil {
		return fmt.Errorf("failed to resolve payment intent: %s not found", id)
	}
	if p.Status != domain.PaymentPending {
		return ErrIntentNotPending
	}
	p.Status = status
	if len(raw) > 0 {
		p.GatewayResponse = append([]byte(nil), raw...)
	}
	resolved := at
	p.ResolvedAt = &resolved
	p.UpdatedAt = at
	t.intents[id] = p
	return nil
}

// view returns the factory's subscriptions as this transaction sees them,
// newest first.
func (t *memTx) view(factoryID string) []*domain.Subscription {
	var out []*domain.Subscription
	for i := len(t.inserted) - 1; i >= 0; i-- {
		if sub := t.subs[t.inserted[i]]; sub.FactoryID == factoryID {
			out = append(out, sub)
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for i := len(t.s.subOrder) - 1; i >= 0; i-- {
		id := t.s.subOrder[i]
		sub, staged := t.subs[id]
		if !staged {
			sub = t.s.subs[id]
		}
		if sub.FactoryID == factoryID {
			out = append(out, sub)
		}
	}
	return out
}

func (t *memTx) FindPlan(ctx context.Context, id string) (*domain.Plan, error) {
	return t.s.FindPlan(ctx, id)
}

func (t *memTx) CurrentSubscriptions(_ context.Context, factoryID string) ([]*domain.Subscription, error) {
	var out []*domain.Subscription
	for _, sub := range t.view(factoryID) {
		if sub.Status.IsCurrent() {
			out = append(out, copySubscription(sub))
		}
	}
	return out, nil
}

func (t *memTx) ExpireCurrent(_ context.Context, factoryID string, at time.Time) (int64, error) {
	var n int64
	for _, sub := range t.view(factoryID) {
		if !sub.Status.IsCurrent() {
			continue
		}
		cp := copySubscription(sub)
		cp.Status = domain.SubscriptionExpired
		cp.UpdatedAt = at
		t.subs[cp.ID] = cp
		n++
	}
	return n, nil
}

func (t *memTx) InsertSubscription(_ context.Context, sub *domain.Subscription) error {
	if sub.Status.IsCurrent() {
		for _, other := range t.view(sub.FactoryID) {
			if other.Status.IsCurrent() {
				return fmt.Errorf("failed to create subscription: factory %s already has a current term", sub.FactoryID)
			}
		}
	}
	if sub.PaymentID != nil {
		if t.paymentUsed(*sub.PaymentID) {
			return fmt.Errorf("failed to create subscription: payment %s already activated a term", *sub.PaymentID)
		}
	}
	t.subs[sub.ID] = copySubscription(sub)
	t.inserted = append(t.inserted, sub.ID)
	return nil
}

func (t *memTx) paymentUsed(paymentID string) bool {
	for _, sub := range t.subs {
		if sub.PaymentID != nil && *sub.PaymentID == paymentID {
			return true
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for _, sub := range t.s.subs {
		if sub.PaymentID != nil && *sub.PaymentID == paymentID {
			return true
		}
	}
	return false
}

func (t *memTx) commit() error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for id, p := range t.intents {
		t.s.intents[id] = p
	}
	for id, sub := range t.subs {
		if _, exists := t.s.subs[id]; !exists {
			continue
		}
		t.s.subs[id] = sub
	}
	for _, id := range t.inserted {
		t.s.subs[id] = t.subs[id]
		t.s.subOrder = append(t.s.subOrder, id)
	}
	return nil
}

func copyPlan(p *domain.Plan) *domain.Plan {
	cp := *p
	if p.Features != nil {
		cp.Features = make(map[string]bool, len(p.Features))
		for k, v := range p.Features {
			cp.Features[k] = v
		}
	}
	return &cp
}

func copyIntent(p *domain.PaymentIntent) *domain.PaymentIntent {
	cp := *p
	if p.GatewayResponse != nil {
		cp.GatewayResponse = append([]byte(nil), p.GatewayResponse...)
	}
	if p.ResolvedAt != nil {
		t := *p.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

func copySubscription(s *domain.Subscription) *domain.Subscription {
	cp := *s
	if s.TrialEndAt != nil {
		t := *s.TrialEndAt
		cp.TrialEndAt = &t
	}
	if s.PaymentID != nil {
		id := *s.PaymentID
		cp.PaymentID = &id
	}
	return &cp
}
