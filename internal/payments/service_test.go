package payments

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/ariefcatur/go-checkout-payments/internal/apperr"
	"github.com/ariefcatur/go-checkout-payments/internal/gateway"
	"github.com/ariefcatur/go-checkout-payments/internal/orders"
	"github.com/ariefcatur/go-checkout-payments/internal/webhook"
)

const secret = "whsec_test"

type harness struct {
	store *memStore
	gw    *fakeGateway
	pub   *fakePublisher
	dedup *memDedup
	svc   *Service
}

func newHarness(seed ...orders.Order) *harness {
	h := &harness{
		store: newMemStore(seed...),
		gw:    newFakeGateway(),
		pub:   &fakePublisher{},
		dedup: &memDedup{},
	}
	h.svc = &Service{
		Orders:      h.store,
		Gateway:     h.gw,
		Reconciler:  &Reconciler{Orders: h.store, Producer: h.pub, Service: "test"},
		Verifier:    webhook.NewVerifier(secret),
		Dedup:       h.dedup,
		Producer:    h.pub,
		ServiceName: "test",
		CallbackURL: "https://shop.example/callback",
	}
	return h
}

func webhookBody(event, ref string, amountMinor int64) []byte {
	return []byte(fmt.Sprintf(`{"event":%q,"data":{"reference":%q,"status":"success","amount":%d,"currency":"NGN"}}`,
		event, ref, amountMinor))
}

func unreferenced() orders.Order {
	o := pendingOrder()
	o.PaymentReference, o.PaymentProvider, o.AuthorizationURL = "", "", ""
	return o
}

type ServiceTestSuite struct {
	suite.Suite
	ctx context.Context
}

func (s *ServiceTestSuite) SetupSuite() {
	s.ctx = context.Background()
}

func (s *ServiceTestSuite) TestWebhookInvalidSignatureTouchesNothing() {
	h := newHarness(pendingOrder())
	body := webhookBody(gateway.EventChargeSuccess, "R1", 5300000)

	for _, sig := range []string{"", "deadbeef", webhook.SignHex("wrong", body)} {
		_, err := h.svc.HandleWebhook(s.ctx, body, sig)
		s.True(apperr.Is(err, apperr.KindSignature), "signature %q: %v", sig, err)
		s.ErrorIs(err, ErrInvalidSignature)
	}
	s.Zero(h.store.writes)
	s.Equal(orders.PaymentPending, h.store.snapshot(pendingOrder().ID).PaymentStatus)
}

func (s *ServiceTestSuite) TestWebhookEmptySecretRejectsEverything() {
	h := newHarness(pendingOrder())
	h.svc.Verifier = webhook.NewVerifier("")
	body := webhookBody(gateway.EventChargeSuccess, "R1", 5300000)

	_, err := h.svc.HandleWebhook(s.ctx, body, webhook.SignHex("", body))
	s.True(apperr.Is(err, apperr.KindSignature), "got %v", err)
}

func (s *ServiceTestSuite) TestWebhookDuplicateDeliveries() {
	h := newHarness(pendingOrder())
	body := webhookBody(gateway.EventChargeSuccess, "R1", 5300000)
	sig := webhook.SignHex(secret, body)

	first, err := h.svc.HandleWebhook(s.ctx, body, sig)
	s.Require().NoError(err)
	s.Require().Equal(OutcomePaid, first.Outcome)

	second, err := h.svc.HandleWebhook(s.ctx, body, sig)
	s.Require().NoError(err)
	s.Equal(OutcomeDuplicate, second.Outcome)
	s.Equal(1, h.store.promoUses[7])
}

func (s *ServiceTestSuite) TestWebhookDuplicateWithoutDedupCache() {
	h := newHarness(pendingOrder())
	h.svc.Dedup = nil
	body := webhookBody(gateway.EventChargeSuccess, "R1", 5300000)
	sig := webhook.SignHex(secret, body)

	for i := 0; i < 3; i++ {
		_, err := h.svc.HandleWebhook(s.ctx, body, sig)
		s.Require().NoError(err)
	}
	s.Equal(1, h.store.writes)
	s.Equal(1, h.store.promoUses[7])
}

func (s *ServiceTestSuite) TestWebhookConflictsAreAcknowledged() {
	h := newHarness(pendingOrder())
	body := webhookBody(gateway.EventChargeSuccess, "UNKNOWN", 5300000)

	res, err := h.svc.HandleWebhook(s.ctx, body, webhook.SignHex(secret, body))
	s.Require().NoError(err, "conflict should be swallowed")
	s.Equal(OutcomeConflict, res.Outcome)
}

func (s *ServiceTestSuite) TestWebhookCurrencyMismatchIsAcknowledged() {
	h := newHarness(pendingOrder())
	body := []byte(`{"event":"charge.success","data":{"reference":"R1","status":"success","amount":5300000,"currency":"USD"}}`)

	res, err := h.svc.HandleWebhook(s.ctx, body, webhook.SignHex(secret, body))
	s.Require().NoError(err)
	s.Equal(OutcomeConflict, res.Outcome)
	s.Equal(orders.PaymentPending, h.store.snapshot(pendingOrder().ID).PaymentStatus)
}

func (s *ServiceTestSuite) TestWebhookChargeFailed() {
	h := newHarness(pendingOrder())
	body := []byte(`{"event":"charge.failed","data":{"reference":"R1","status":"failed","amount":5300000}}`)

	res, err := h.svc.HandleWebhook(s.ctx, body, webhook.SignHex(secret, body))
	s.Require().NoError(err)
	s.Equal(OutcomeFailed, res.Outcome)

	got := h.store.snapshot(pendingOrder().ID)
	s.Equal(orders.StatusPending, got.Status)
	s.Equal(orders.PaymentFailed, got.PaymentStatus)
}

func (s *ServiceTestSuite) TestWebhookUnknownEventIgnored() {
	h := newHarness(pendingOrder())
	body := webhookBody("transfer.success", "R1", 5300000)

	res, err := h.svc.HandleWebhook(s.ctx, body, webhook.SignHex(secret, body))
	s.Require().NoError(err)
	s.Equal(OutcomeIgnored, res.Outcome)
	s.Zero(h.store.writes)
}

func (s *ServiceTestSuite) TestWebhookStoreFailureIsReturned() {
	h := newHarness(pendingOrder())
	h.store.getErr = errors.New("db down")
	body := []byte(fmt.Sprintf(`{"event":"charge.success","data":{"reference":"OTHER","status":"success","amount":5300000,"metadata":{"order_id":%q}}}`,
		pendingOrder().ID))

	_, err := h.svc.HandleWebhook(s.ctx, body, webhook.SignHex(secret, body))
	s.Require().Error(err)
	s.False(IsConflict(err), "want infrastructure error, got %v", err)
	s.Empty(h.dedup.keys, "nothing marked as processed")
}

func (s *ServiceTestSuite) TestInitializeAttachesReference() {
	h := newHarness(unreferenced())
	id := unreferenced().ID

	res, err := h.svc.InitializePayment(s.ctx, InitRequest{OrderID: id})
	s.Require().NoError(err)
	s.NotEmpty(res.Reference)
	s.Equal("https://pay.example/"+res.Reference, res.AuthorizationURL)

	got := h.store.snapshot(id)
	s.Equal(res.Reference, got.PaymentReference)
	s.Equal("paystack", got.PaymentProvider)

	s.Require().Len(h.gw.inits, 1)
	init := h.gw.inits[0]
	s.True(init.Amount.Equal(dec("53000")), "amount %s", init.Amount)
	s.Equal("buyer@example.com", init.Email)
	s.Equal("https://shop.example/callback", init.CallbackURL)
	s.Equal(1, h.pub.count(orders.TopicPaymentInitialized))
}

func (s *ServiceTestSuite) TestInitializeRejectionLeavesOrderUnreferenced() {
	h := newHarness(unreferenced())
	h.gw.initErr = &gateway.InitializationError{StatusCode: 400, Message: "Invalid Email Address Passed"}

	_, err := h.svc.InitializePayment(s.ctx, InitRequest{OrderID: unreferenced().ID, Email: "x"})
	var ae *apperr.Error
	s.Require().ErrorAs(err, &ae)
	s.Equal(apperr.KindGateway, ae.Kind)
	s.Equal("Invalid Email Address Passed", ae.Message)

	got := h.store.snapshot(unreferenced().ID)
	s.Empty(got.PaymentReference)
	s.Equal(orders.PaymentPending, got.PaymentStatus)
}

func (s *ServiceTestSuite) TestInitializePendingAttemptIsResumed() {
	h := newHarness(pendingOrder())
	h.gw.txs["R1"] = gateway.Transaction{Reference: "R1", Status: gateway.StatusPending}

	res, err := h.svc.InitializePayment(s.ctx, InitRequest{OrderID: pendingOrder().ID})
	s.Require().NoError(err)
	s.True(res.Resumed)
	s.Equal("R1", res.Reference)
	s.Equal("https://pay.example/R1", res.AuthorizationURL)
	s.Empty(h.gw.inits, "no new gateway transaction")
}

func (s *ServiceTestSuite) TestInitializeFailedAttemptIsReplaced() {
	h := newHarness(pendingOrder())
	h.gw.txs["R1"] = gateway.Transaction{Reference: "R1", Status: gateway.StatusAbandoned}

	res, err := h.svc.InitializePayment(s.ctx, InitRequest{OrderID: pendingOrder().ID})
	s.Require().NoError(err)
	s.NotEqual("R1", res.Reference)
	s.False(res.Resumed)
	s.Equal(res.Reference, h.store.snapshot(pendingOrder().ID).PaymentReference)
}

func (s *ServiceTestSuite) TestInitializePaidAttemptIsReconciled() {
	h := newHarness(pendingOrder())
	h.gw.txs["R1"] = gateway.Transaction{Reference: "R1", Status: gateway.StatusSuccess, Amount: dec("53000"), Currency: "NGN"}

	res, err := h.svc.InitializePayment(s.ctx, InitRequest{OrderID: pendingOrder().ID})
	s.Require().NoError(err)
	s.Equal(orders.PaymentPaid, res.PaymentStatus)
	s.Empty(h.gw.inits)
}

func (s *ServiceTestSuite) TestInitializeRefusals() {
	paid := pendingOrder()
	paid.PaymentStatus = orders.PaymentPaid
	h := newHarness(paid)
	wrong := decimal.NewFromInt(1)

	cases := []struct {
		name string
		req  InitRequest
		kind apperr.Kind
	}{
		{"paid order", InitRequest{OrderID: paid.ID}, apperr.KindConflict},
		{"wrong amount", InitRequest{OrderID: paid.ID, Amount: &wrong}, apperr.KindValidation},
		{"unknown order", InitRequest{OrderID: "nope"}, apperr.KindNotFound},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, err := h.svc.InitializePayment(s.ctx, tc.req)
			s.True(apperr.Is(err, tc.kind), "got %v", err)
		})
	}
}

func (s *ServiceTestSuite) TestVerifyIdempotentAndTimeoutSafe() {
	h := newHarness(pendingOrder())
	h.gw.txs["R1"] = gateway.Transaction{Reference: "R1", Status: gateway.StatusSuccess, Amount: dec("53000"), Currency: "NGN"}

	for i := 0; i < 2; i++ {
		res, err := h.svc.VerifyPayment(s.ctx, "R1")
		s.Require().NoError(err)
		s.True(res.Success)
		s.Equal(pendingOrder().ID, res.OrderID)
	}
	s.Equal(1, h.store.promoUses[7])

	h2 := newHarness(pendingOrder())
	h2.gw.verifyErr = fmt.Errorf("%w: deadline", gateway.ErrTimeout)
	_, err := h2.svc.VerifyPayment(s.ctx, "R1")
	s.True(apperr.Is(err, apperr.KindUnavailable), "got %v", err)
	s.Equal(orders.PaymentPending, h2.store.snapshot(pendingOrder().ID).PaymentStatus)
}

func TestServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}
