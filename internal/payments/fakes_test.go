package payments

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-checkout-payments/internal/config"
	"github.com/ariefcatur/go-checkout-payments/internal/gateway"
	"github.com/ariefcatur/go-checkout-payments/internal/orders"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func int64Ptr(i int64) *int64 { return &i }

// memStore mirrors the conditional updates of orders.Repo.
type memStore struct {
	mu        sync.Mutex
	orders    map[string]*orders.Order
	promoUses map[int64]int
	writes    int
	getErr    error
}

func newMemStore(seed ...orders.Order) *memStore {
	m := &memStore{orders: map[string]*orders.Order{}, promoUses: map[int64]int{}}
	for i := range seed {
		o := seed[i]
		m.orders[o.ID] = &o
	}
	return m
}

func (m *memStore) snapshot(id string) orders.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.orders[id]
}

func (m *memStore) Get(_ context.Context, id string) (*orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) FindByReference(_ context.Context, ref string) (*orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.PaymentReference != "" && o.PaymentReference == ref {
			cp := *o
			return &cp, nil
		}
	}
	return nil, orders.ErrNotFound
}

func (m *memStore) AttachPaymentReference(_ context.Context, id, prev, ref, provider, authURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.PaymentStatus != orders.PaymentPending || o.PaymentReference != prev {
		return orders.ErrReferenceConflict
	}
	o.PaymentReference, o.PaymentProvider, o.AuthorizationURL = ref, provider, authURL
	m.writes++
	return nil
}

func (m *memStore) MarkPaid(_ context.Context, id, ref string, paidAt time.Time) (bool, orders.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.PaymentReference != ref || o.PaymentStatus != orders.PaymentPending {
		return false, "", nil
	}
	o.PaymentStatus = orders.PaymentPaid
	if o.Status == orders.StatusPending {
		o.Status = orders.StatusConfirmed
	}
	o.PaidAt = &paidAt
	if o.PromotionID != nil {
		m.promoUses[*o.PromotionID]++
	}
	m.writes++
	return true, o.Status, nil
}

func (m *memStore) MarkFailed(_ context.Context, id, ref string) (bool, orders.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.PaymentReference != ref || o.PaymentStatus != orders.PaymentPending {
		return false, "", nil
	}
	o.PaymentStatus = orders.PaymentFailed
	m.writes++
	return true, o.Status, nil
}

func (m *memStore) failGets(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getErr = err
}

type fakeGateway struct {
	mu        sync.Mutex
	txs       map[string]gateway.Transaction
	initErr   error
	verifyErr error
	inits     []gateway.InitRequest
	decoder   *gateway.Client
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		txs:     map[string]gateway.Transaction{},
		decoder: gateway.New(config.Gateway{MinorUnit: 100}),
	}
}

func (g *fakeGateway) Provider() string { return "paystack" }

func (g *fakeGateway) Initialize(_ context.Context, req gateway.InitRequest) (gateway.InitResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inits = append(g.inits, req)
	if g.initErr != nil {
		return gateway.InitResult{}, g.initErr
	}
	return gateway.InitResult{AuthorizationURL: "https://pay.example/" + req.Reference, Reference: req.Reference}, nil
}

func (g *fakeGateway) Verify(_ context.Context, ref string) (gateway.Transaction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.verifyErr != nil {
		return gateway.Transaction{}, g.verifyErr
	}
	tx, ok := g.txs[ref]
	if !ok {
		return gateway.Transaction{}, fmt.Errorf("%w: %s", gateway.ErrReferenceNotFound, ref)
	}
	return tx, nil
}

func (g *fakeGateway) DecodeWebhook(raw []byte) (gateway.WebhookEvent, error) {
	return g.decoder.DecodeWebhook(raw)
}

type published struct {
	topic string
	value []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *fakePublisher) Publish(topic string, _, value []byte, _ ...kafka.Header) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, value: value})
}

func (p *fakePublisher) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.msgs {
		if m.topic == topic {
			n++
		}
	}
	return n
}

type memDedup struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (d *memDedup) Seen(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.keys[key], nil
}

func (d *memDedup) Mark(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.keys == nil {
		d.keys = map[string]bool{}
	}
	d.keys[key] = true
	return nil
}

type memCache struct {
	mu   sync.Mutex
	puts map[string]any
}

func (c *memCache) Put(_ context.Context, id string, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.puts == nil {
		c.puts = map[string]any{}
	}
	c.puts[id] = v
	return nil
}

// pendingOrder has reference R1 attached and promotion 7 applied.
func pendingOrder() orders.Order {
	return orders.Order{
		ID:               "11111111-1111-1111-1111-111111111111",
		OrderNumber:      "ORD-20260310-ABCDEF12",
		GuestEmail:       "buyer@example.com",
		Subtotal:         dec("68000"),
		Discount:         dec("15000"),
		ShippingFee:      dec("0"),
		Total:            dec("53000"),
		Currency:         "NGN",
		PromotionID:      int64Ptr(7),
		PromotionCode:    "FLASH25",
		Status:           orders.StatusPending,
		PaymentStatus:    orders.PaymentPending,
		PaymentReference: "R1",
		PaymentProvider:  "paystack",
		AuthorizationURL: "https://pay.example/R1",
	}
}
