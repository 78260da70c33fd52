package escrow

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"dealflow/internal/errors"
	"dealflow/internal/models"
	"dealflow/internal/repositories"
	"dealflow/internal/services/notification"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v72"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testWebhookSecret = "whsec_test_secret"

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []notification.Notification
}

func (r *recordingDispatcher) Enqueue(n notification.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *recordingDispatcher) countKind(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, n := range r.sent {
		if n.Kind == kind {
			count++
		}
	}
	return count
}

type testEnv struct {
	db       *gorm.DB
	svc      Service
	escrows  repositories.EscrowRepository
	notifier *recordingDispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, repositories.Migrate(db))

	escrows := repositories.NewEscrowRepository(db)
	commitments := repositories.NewCommitmentRepository(db)
	deals := repositories.NewDealRepository(db, nil)
	notifier := &recordingDispatcher{}

	return &testEnv{
		db:       db,
		svc:      NewService(db, escrows, commitments, deals, notifier, testWebhookSecret),
		escrows:  escrows,
		notifier: notifier,
	}
}

// seedCommitment inserts a deal and a committed commitment for amount
// 10,000.00 and returns the commitment.
func (e *testEnv) seedCommitment(t *testing.T) *models.Commitment {
	t.Helper()

	operator := &models.User{Email: fmt.Sprintf("op-%d@example.com", time.Now().UnixNano()), Password: "x", Role: models.RoleOperator}
	require.NoError(t, e.db.Create(operator).Error)
	investor := &models.User{Email: fmt.Sprintf("inv-%d@example.com", time.Now().UnixNano()), Password: "x", Role: models.RoleInvestor}
	require.NoError(t, e.db.Create(investor).Error)

	deal := &models.Deal{Title: "Bridge round", Status: models.DealActive, OperatorID: operator.ID}
	require.NoError(t, e.db.Create(deal).Error)

	c := &models.Commitment{
		DealID:         deal.ID,
		InvestorID:     investor.ID,
		Amount:         decimal.NewFromInt(10_000),
		Status:         models.CommitmentCommitted,
		FundingStatus:  models.FundingUnfunded,
		CommitmentDate: time.Now(),
	}
	require.NoError(t, e.db.Create(c).Error)
	return c
}

func (e *testEnv) reloadCommitment(t *testing.T, id uint) *models.Commitment {
	t.Helper()
	var c models.Commitment
	require.NoError(t, e.db.First(&c, id).Error)
	return &c
}

func (e *testEnv) reloadEscrow(t *testing.T, ref string) *models.EscrowTransaction {
	t.Helper()
	esc, err := e.escrows.GetByReference(context.Background(), ref)
	require.NoError(t, err)
	return esc
}

func (e *testEnv) dealTotal(t *testing.T, dealID uint) decimal.Decimal {
	t.Helper()
	var d models.Deal
	require.NoError(t, e.db.First(&d, dealID).Error)
	return d.TotalCommitted
}

func makeEvent(t *testing.T, eventType string, object interface{}) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	return stripe.Event{Type: eventType, Data: &stripe.EventData{Raw: raw}}
}

func paymentIntentEvent(t *testing.T, eventType, ref string, commitmentID uint, amountCents int64) stripe.Event {
	return makeEvent(t, eventType, map[string]interface{}{
		"id":     ref,
		"amount": amountCents,
		"metadata": map[string]string{
			"commitment_id": fmt.Sprintf("%d", commitmentID),
		},
	})
}

func chargeRefundedEvent(t *testing.T, ref string, refundedCents int64) stripe.Event {
	return makeEvent(t, EventChargeRefunded, map[string]interface{}{
		"id":              "ch_" + ref,
		"payment_intent":  map[string]interface{}{"id": ref},
		"amount_refunded": refundedCents,
	})
}

func TestInitiateFunding(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := env.seedCommitment(t)

	t.Run("not the owner", func(t *testing.T) {
		_, err := env.svc.InitiateFunding(ctx, c.ID, c.InvestorID+100, false, "pi_x")
		assert.ErrorIs(t, err, errors.ErrNotCommitmentOwner)
	})

	t.Run("owner initiates", func(t *testing.T) {
		e, err := env.svc.InitiateFunding(ctx, c.ID, c.InvestorID, false, "pi_abc")
		require.NoError(t, err)
		assert.Equal(t, models.EscrowPending, e.Status)
		assert.Equal(t, models.PaymentPending, e.PaymentStatus)
		assert.True(t, e.Amount.Equal(c.Amount))

		reloaded := env.reloadCommitment(t, c.ID)
		assert.Equal(t, models.FundingPendingPayment, reloaded.FundingStatus)
		assert.Equal(t, models.CommitmentCommitted, reloaded.Status)
	})

	t.Run("duplicate payment reference", func(t *testing.T) {
		_, err := env.svc.InitiateFunding(ctx, c.ID, c.InvestorID, false, "pi_abc")
		assert.ErrorIs(t, err, errors.ErrDuplicateFundingAttempt)
	})

	t.Run("admin on behalf with generated reference", func(t *testing.T) {
		c2 := env.seedCommitment(t)
		e, err := env.svc.InitiateFunding(ctx, c2.ID, 0, true, "")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(e.ExternalPaymentReference, "local_"))
	})

	t.Run("only committed commitments can fund", func(t *testing.T) {
		c3 := env.seedCommitment(t)
		require.NoError(t, env.db.Model(c3).Update("status", models.CommitmentCancelled).Error)

		_, err := env.svc.InitiateFunding(ctx, c3.ID, c3.InvestorID, false, "")
		assert.ErrorIs(t, err, errors.ErrInvalidTransition)
	})

	t.Run("missing commitment", func(t *testing.T) {
		_, err := env.svc.InitiateFunding(ctx, 9999, 1, true, "")
		assert.ErrorIs(t, err, errors.ErrCommitmentNotFound)
	})
}

func TestHandlePaymentSucceeded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := env.seedCommitment(t)
	_, err := env.svc.InitiateFunding(ctx, c.ID, c.InvestorID, false, "pi_123")
	require.NoError(t, err)

	event := paymentIntentEvent(t, EventPaymentSucceeded, "pi_123", c.ID, 1_000_000)
	require.NoError(t, env.svc.HandleEvent(ctx, event))

	esc := env.reloadEscrow(t, "pi_123")
	assert.Equal(t, models.PaymentSucceeded, esc.PaymentStatus)
	assert.Equal(t, models.EscrowCompleted, esc.Status)
	require.NotNil(t, esc.PaidAt)

	reloaded := env.reloadCommitment(t, c.ID)
	assert.Equal(t, models.CommitmentFunded, reloaded.Status)
	assert.Equal(t, models.FundingFunded, reloaded.FundingStatus)
	require.NotNil(t, reloaded.FundedDate)

	assert.True(t, env.dealTotal(t, reloaded.DealID).Equal(c.Amount))
	assert.Equal(t, 1, env.notifier.countKind(notification.KindCommitmentFunded))

	t.Run("replay is a no-op", func(t *testing.T) {
		require.NoError(t, env.svc.HandleEvent(ctx, event))

		again := env.reloadCommitment(t, c.ID)
		assert.Equal(t, models.CommitmentFunded, again.Status)
		assert.Equal(t, esc.PaidAt.Unix(), env.reloadEscrow(t, "pi_123").PaidAt.Unix())
		assert.Equal(t, 1, env.notifier.countKind(notification.KindCommitmentFunded),
			"replay must not send a second notification")
	})
}

func TestHandlePaymentSucceededWithoutInitiation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// The processor can deliver success before (or without) a local
	// funding attempt; the row is created from the event metadata.
	c := env.seedCommitment(t)
	event := paymentIntentEvent(t, EventPaymentSucceeded, "pi_direct", c.ID, 1_000_000)
	require.NoError(t, env.svc.HandleEvent(ctx, event))

	esc := env.reloadEscrow(t, "pi_direct")
	assert.Equal(t, uint(c.ID), esc.CommitmentID)
	assert.Equal(t, models.PaymentSucceeded, esc.PaymentStatus)
	assert.True(t, esc.Amount.Equal(decimal.NewFromInt(10_000)))

	assert.Equal(t, models.CommitmentFunded, env.reloadCommitment(t, c.ID).Status)
}

func TestHandlePaymentSucceededUnknownReference(t *testing.T) {
	env := newTestEnv(t)

	event := makeEvent(t, EventPaymentSucceeded, map[string]interface{}{
		"id": "pi_orphan", "amount": 100,
	})
	err := env.svc.HandleEvent(context.Background(), event)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commitment_id")
}

func TestHandlePaymentFailed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := env.seedCommitment(t)
	_, err := env.svc.InitiateFunding(ctx, c.ID, c.InvestorID, false, "pi_fail")
	require.NoError(t, err)

	event := paymentIntentEvent(t, EventPaymentFailed, "pi_fail", c.ID, 1_000_000)
	require.NoError(t, env.svc.HandleEvent(ctx, event))

	esc := env.reloadEscrow(t, "pi_fail")
	assert.Equal(t, models.PaymentFailed, esc.PaymentStatus)
	assert.Equal(t, models.EscrowFailed, esc.Status)

	reloaded := env.reloadCommitment(t, c.ID)
	assert.Equal(t, models.CommitmentCommitted, reloaded.Status, "failure must keep the pledge retryable")
	assert.Equal(t, models.FundingUnfunded, reloaded.FundingStatus)
	assert.Equal(t, 1, env.notifier.countKind(notification.KindPaymentFailed))

	t.Run("replay is a no-op", func(t *testing.T) {
		require.NoError(t, env.svc.HandleEvent(ctx, event))
		assert.Equal(t, 1, env.notifier.countKind(notification.KindPaymentFailed))
	})
}

func TestPaymentFailedNeverRegressesSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := env.seedCommitment(t)
	_, err := env.svc.InitiateFunding(ctx, c.ID, c.InvestorID, false, "pi_ooo")
	require.NoError(t, err)

	succeeded := paymentIntentEvent(t, EventPaymentSucceeded, "pi_ooo", c.ID, 1_000_000)
	require.NoError(t, env.svc.HandleEvent(ctx, succeeded))

	// Out-of-order failure for the same reference arrives after success.
	failed := paymentIntentEvent(t, EventPaymentFailed, "pi_ooo", c.ID, 1_000_000)
	require.NoError(t, env.svc.HandleEvent(ctx, failed))

	esc := env.reloadEscrow(t, "pi_ooo")
	assert.Equal(t, models.PaymentSucceeded, esc.PaymentStatus)

	reloaded := env.reloadCommitment(t, c.ID)
	assert.Equal(t, models.CommitmentFunded, reloaded.Status)
	assert.Equal(t, models.FundingFunded, reloaded.FundingStatus)
	assert.Equal(t, 0, env.notifier.countKind(notification.KindPaymentFailed))
}

func TestHandleChargeRefundedFull(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := env.seedCommitment(t)
	_, err := env.svc.InitiateFunding(ctx, c.ID, c.InvestorID, false, "pi_refund")
	require.NoError(t, err)
	require.NoError(t, env.svc.HandleEvent(ctx,
		paymentIntentEvent(t, EventPaymentSucceeded, "pi_refund", c.ID, 1_000_000)))

	event := chargeRefundedEvent(t, "pi_refund", 1_000_000)
	require.NoError(t, env.svc.HandleEvent(ctx, event))

	esc := env.reloadEscrow(t, "pi_refund")
	assert.Equal(t, models.PaymentRefunded, esc.PaymentStatus)
	require.NotNil(t, esc.RefundedAt)
	assert.True(t, esc.RefundAmount.Equal(decimal.NewFromInt(10_000)))

	reloaded := env.reloadCommitment(t, c.ID)
	assert.Equal(t, models.CommitmentCancelled, reloaded.Status)
	assert.Equal(t, models.FundingRefunded, reloaded.FundingStatus)

	assert.True(t, env.dealTotal(t, reloaded.DealID).Equal(decimal.Zero),
		"refunded commitment must leave the deal total")
	assert.Equal(t, 1, env.notifier.countKind(notification.KindCommitmentRefunded))

	t.Run("replay is a no-op", func(t *testing.T) {
		require.NoError(t, env.svc.HandleEvent(ctx, event))
		assert.Equal(t, 1, env.notifier.countKind(notification.KindCommitmentRefunded))
	})
}

func TestHandleChargeRefundedPartial(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := env.seedCommitment(t)
	_, err := env.svc.InitiateFunding(ctx, c.ID, c.InvestorID, false, "pi_partial")
	require.NoError(t, err)
	require.NoError(t, env.svc.HandleEvent(ctx,
		paymentIntentEvent(t, EventPaymentSucceeded, "pi_partial", c.ID, 1_000_000)))

	// Refund 2,500.00 of the 10,000.00 payment.
	require.NoError(t, env.svc.HandleEvent(ctx, chargeRefundedEvent(t, "pi_partial", 250_000)))

	esc := env.reloadEscrow(t, "pi_partial")
	assert.Equal(t, models.PaymentPartiallyRefunded, esc.PaymentStatus)
	assert.True(t, esc.RefundAmount.Equal(decimal.NewFromInt(2_500)))
	require.NotNil(t, esc.RefundedAt)

	// Partial refunds never touch the commitment.
	reloaded := env.reloadCommitment(t, c.ID)
	assert.Equal(t, models.CommitmentFunded, reloaded.Status)
	assert.Equal(t, models.FundingFunded, reloaded.FundingStatus)
	assert.Equal(t, 0, env.notifier.countKind(notification.KindCommitmentRefunded))
}

func TestHandleChargeRefundedUnknownReference(t *testing.T) {
	env := newTestEnv(t)
	err := env.svc.HandleEvent(context.Background(), chargeRefundedEvent(t, "pi_nowhere", 100))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown payment reference")
}

func TestHandleDisputeOpened(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := env.seedCommitment(t)
	_, err := env.svc.InitiateFunding(ctx, c.ID, c.InvestorID, false, "pi_disputed")
	require.NoError(t, err)
	require.NoError(t, env.svc.HandleEvent(ctx,
		paymentIntentEvent(t, EventPaymentSucceeded, "pi_disputed", c.ID, 1_000_000)))

	event := makeEvent(t, EventDisputeCreated, map[string]interface{}{
		"id":             "dp_1",
		"payment_intent": map[string]interface{}{"id": "pi_disputed"},
		"reason":         "fraudulent",
	})
	require.NoError(t, env.svc.HandleEvent(ctx, event))

	// Disputes alert but never move state.
	assert.Equal(t, models.PaymentSucceeded, env.reloadEscrow(t, "pi_disputed").PaymentStatus)
	assert.Equal(t, models.CommitmentFunded, env.reloadCommitment(t, c.ID).Status)
	assert.Equal(t, 1, env.notifier.countKind(notification.KindDisputeOpened))
}

func TestHandleEventIgnoresUnknownTypes(t *testing.T) {
	env := newTestEnv(t)
	event := makeEvent(t, "customer.created", map[string]interface{}{"id": "cus_1"})
	assert.NoError(t, env.svc.HandleEvent(context.Background(), event))
	assert.Empty(t, env.notifier.sent)
}

// signPayload builds a Stripe-Signature header the verifier accepts.
func signPayload(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyAndParse(t *testing.T) {
	env := newTestEnv(t)

	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`)

	t.Run("valid signature", func(t *testing.T) {
		event, err := env.svc.VerifyAndParse(payload, signPayload(payload, testWebhookSecret, time.Now()))
		require.NoError(t, err)
		assert.Equal(t, EventPaymentSucceeded, event.Type)
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := env.svc.VerifyAndParse(payload, signPayload(payload, "whsec_other", time.Now()))
		assert.ErrorIs(t, err, errors.ErrInvalidSignature)
	})

	t.Run("tampered payload", func(t *testing.T) {
		header := signPayload(payload, testWebhookSecret, time.Now())
		tampered := []byte(`{"id":"evt_1","type":"charge.refunded","data":{"object":{"id":"pi_1"}}}`)
		_, err := env.svc.VerifyAndParse(tampered, header)
		assert.ErrorIs(t, err, errors.ErrInvalidSignature)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		header := signPayload(payload, testWebhookSecret, time.Now().Add(-time.Hour))
		_, err := env.svc.VerifyAndParse(payload, header)
		assert.ErrorIs(t, err, errors.ErrInvalidSignature)
	})

	t.Run("garbage header", func(t *testing.T) {
		_, err := env.svc.VerifyAndParse(payload, "not-a-signature")
		assert.ErrorIs(t, err, errors.ErrInvalidSignature)
	})
}
