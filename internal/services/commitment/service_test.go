package commitment

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"dealflow/internal/errors"
	"dealflow/internal/models"
	"dealflow/internal/repositories"
	"dealflow/internal/services/notification"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []notification.Notification
}

func (r *recordingDispatcher) Enqueue(n notification.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *recordingDispatcher) byKind(kind string) []notification.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notification.Notification
	for _, n := range r.sent {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, repositories.Migrate(db))
	return db
}

type testEnv struct {
	db       *gorm.DB
	svc      Service
	repo     repositories.CommitmentRepository
	deals    repositories.DealRepository
	notifier *recordingDispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := setupTestDB(t)
	repo := repositories.NewCommitmentRepository(db)
	deals := repositories.NewDealRepository(db, nil)
	users := repositories.NewUserRepository(db, nil)
	notifier := &recordingDispatcher{}

	return &testEnv{
		db:       db,
		svc:      NewService(db, repo, deals, users, notifier),
		repo:     repo,
		deals:    deals,
		notifier: notifier,
	}
}

func (e *testEnv) createUser(t *testing.T, role string) *models.User {
	t.Helper()
	u := &models.User{
		Email:              fmt.Sprintf("%s-%d@example.com", role, nextSeq()),
		Password:           "hashed",
		Role:               role,
		VerificationStatus: models.VerificationVerified,
		KYCStatus:          models.KYCApproved,
	}
	require.NoError(t, e.db.Create(u).Error)
	return u
}

var seq uint64

func nextSeq() uint64 {
	seq++
	return seq
}

func (e *testEnv) createDeal(t *testing.T, operatorID uint, minCheck string) *models.Deal {
	t.Helper()
	d := &models.Deal{
		Title:      "Series A secondary",
		Status:     models.DealActive,
		MinCheck:   minCheck,
		OperatorID: operatorID,
	}
	require.NoError(t, e.db.Create(d).Error)
	return d
}

func (e *testEnv) dealTotal(t *testing.T, dealID uint) decimal.Decimal {
	t.Helper()
	var d models.Deal
	require.NoError(t, e.db.First(&d, dealID).Error)
	return d.TotalCommitted
}

func TestCreateCommitment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	operator := env.createUser(t, models.RoleOperator)
	investor := env.createUser(t, models.RoleInvestor)
	deal := env.createDeal(t, operator.ID, "$25k")

	c, err := env.svc.Create(ctx, deal.ID, investor.ID, decimal.NewFromInt(50_000), "wire on close")
	require.NoError(t, err)

	assert.Equal(t, models.CommitmentCommitted, c.Status)
	assert.Equal(t, models.FundingUnfunded, c.FundingStatus)
	assert.False(t, c.CommitmentDate.IsZero())
	assert.NotZero(t, c.ID)

	assert.True(t, env.dealTotal(t, deal.ID).Equal(decimal.NewFromInt(50_000)),
		"deal total should reflect the new commitment")

	created := env.notifier.byKind(notification.KindCommitmentCreated)
	require.Len(t, created, 1)
	assert.Equal(t, investor.ID, created[0].RecipientID)
}

func TestCreateCommitmentGating(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	operator := env.createUser(t, models.RoleOperator)
	investor := env.createUser(t, models.RoleInvestor)
	deal := env.createDeal(t, operator.ID, "$50k")

	t.Run("non positive amount", func(t *testing.T) {
		_, err := env.svc.Create(ctx, deal.ID, investor.ID, decimal.Zero, "")
		assert.ErrorIs(t, err, errors.ErrInvalidAmount)
	})

	t.Run("deal not found", func(t *testing.T) {
		_, err := env.svc.Create(ctx, 9999, investor.ID, decimal.NewFromInt(50_000), "")
		assert.ErrorIs(t, err, errors.ErrDealNotFound)
	})

	t.Run("below minimum check", func(t *testing.T) {
		_, err := env.svc.Create(ctx, deal.ID, investor.ID, decimal.NewFromInt(49_999), "")
		assert.ErrorIs(t, err, errors.ErrAmountBelowMinimum)
	})

	t.Run("unverified investor", func(t *testing.T) {
		unverified := env.createUser(t, models.RoleInvestor)
		require.NoError(t, env.db.Model(unverified).
			Update("verification_status", models.VerificationPending).Error)

		_, err := env.svc.Create(ctx, deal.ID, unverified.ID, decimal.NewFromInt(50_000), "")
		assert.ErrorIs(t, err, errors.ErrVerificationRequired)
	})

	t.Run("operator cannot commit", func(t *testing.T) {
		_, err := env.svc.Create(ctx, deal.ID, operator.ID, decimal.NewFromInt(50_000), "")
		assert.ErrorIs(t, err, errors.ErrRoleRequired)
	})

	// Denied attempts must not touch the aggregate.
	assert.True(t, env.dealTotal(t, deal.ID).Equal(decimal.Zero))
	assert.Empty(t, env.notifier.sent)
}

func TestCreateCommitmentDuplicateActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	operator := env.createUser(t, models.RoleOperator)
	investor := env.createUser(t, models.RoleInvestor)
	deal := env.createDeal(t, operator.ID, "")

	_, err := env.svc.Create(ctx, deal.ID, investor.ID, decimal.NewFromInt(10_000), "")
	require.NoError(t, err)

	_, err = env.svc.Create(ctx, deal.ID, investor.ID, decimal.NewFromInt(20_000), "")
	assert.ErrorIs(t, err, errors.ErrDuplicateCommitment)

	// The unique index must hold even when the service-level check is
	// bypassed, e.g. two concurrent creates racing past FindActive.
	err = env.repo.Create(ctx, &models.Commitment{
		DealID:     deal.ID,
		InvestorID: investor.ID,
		Amount:     decimal.NewFromInt(30_000),
		Status:     models.CommitmentCommitted,
	})
	assert.ErrorIs(t, err, repositories.ErrActiveCommitment)

	assert.True(t, env.dealTotal(t, deal.ID).Equal(decimal.NewFromInt(10_000)))
}

func TestCreateCommitmentAfterCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	operator := env.createUser(t, models.RoleOperator)
	investor := env.createUser(t, models.RoleInvestor)
	deal := env.createDeal(t, operator.ID, "")

	first, err := env.svc.Create(ctx, deal.ID, investor.ID, decimal.NewFromInt(10_000), "")
	require.NoError(t, err)

	_, err = env.svc.InvestorCancel(ctx, first.ID, investor.ID)
	require.NoError(t, err)

	// A cancelled commitment releases the (deal, investor) slot.
	second, err := env.svc.Create(ctx, deal.ID, investor.ID, decimal.NewFromInt(15_000), "")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	assert.True(t, env.dealTotal(t, deal.ID).Equal(decimal.NewFromInt(15_000)),
		"cancelled commitment must not count toward the total")
}

func TestInvestorCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	operator := env.createUser(t, models.RoleOperator)
	investor := env.createUser(t, models.RoleInvestor)
	other := env.createUser(t, models.RoleInvestor)
	deal := env.createDeal(t, operator.ID, "")

	c, err := env.svc.Create(ctx, deal.ID, investor.ID, decimal.NewFromInt(10_000), "")
	require.NoError(t, err)

	t.Run("not the owner", func(t *testing.T) {
		_, err := env.svc.InvestorCancel(ctx, c.ID, other.ID)
		assert.ErrorIs(t, err, errors.ErrNotCommitmentOwner)
	})

	t.Run("owner cancels", func(t *testing.T) {
		cancelled, err := env.svc.InvestorCancel(ctx, c.ID, investor.ID)
		require.NoError(t, err)
		assert.Equal(t, models.CommitmentCancelled, cancelled.Status)
		assert.True(t, env.dealTotal(t, deal.ID).Equal(decimal.Zero))
	})

	t.Run("already cancelled", func(t *testing.T) {
		_, err := env.svc.InvestorCancel(ctx, c.ID, investor.ID)
		require.Error(t, err)
		var derr *errors.DomainError
		require.ErrorAs(t, err, &derr)
		assert.Equal(t, errors.ErrInvalidTransition.Code, derr.Code)
	})

	t.Run("funded cannot be investor cancelled", func(t *testing.T) {
		funded, err := env.svc.Create(ctx, deal.ID, other.ID, decimal.NewFromInt(10_000), "")
		require.NoError(t, err)
		_, err = env.svc.AdminTransition(ctx, funded.ID, ActionFund, "")
		require.NoError(t, err)

		_, err = env.svc.InvestorCancel(ctx, funded.ID, other.ID)
		require.Error(t, err)
		var derr *errors.DomainError
		require.ErrorAs(t, err, &derr)
		assert.Equal(t, errors.ErrInvalidTransition.Code, derr.Code)
	})
}

func TestAdminTransitions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	operator := env.createUser(t, models.RoleOperator)
	deal := env.createDeal(t, operator.ID, "")

	newCommitted := func(t *testing.T) *models.Commitment {
		investor := env.createUser(t, models.RoleInvestor)
		c, err := env.svc.Create(ctx, deal.ID, investor.ID, decimal.NewFromInt(10_000), "")
		require.NoError(t, err)
		return c
	}

	t.Run("fund then complete", func(t *testing.T) {
		c := newCommitted(t)

		funded, err := env.svc.AdminTransition(ctx, c.ID, ActionFund, "")
		require.NoError(t, err)
		assert.Equal(t, models.CommitmentFunded, funded.Status)
		require.NotNil(t, funded.FundedDate)

		completed, err := env.svc.AdminTransition(ctx, c.ID, ActionComplete, "closed out")
		require.NoError(t, err)
		assert.Equal(t, models.CommitmentCompleted, completed.Status)
		assert.Contains(t, completed.Notes, "closed out")
	})

	t.Run("complete requires funded", func(t *testing.T) {
		c := newCommitted(t)
		_, err := env.svc.AdminTransition(ctx, c.ID, ActionComplete, "")
		require.Error(t, err)
		var derr *errors.DomainError
		require.ErrorAs(t, err, &derr)
		assert.Equal(t, errors.ErrInvalidTransition.Code, derr.Code)
	})

	t.Run("cancel funded", func(t *testing.T) {
		c := newCommitted(t)
		_, err := env.svc.AdminTransition(ctx, c.ID, ActionFund, "")
		require.NoError(t, err)

		cancelled, err := env.svc.AdminTransition(ctx, c.ID, ActionCancel, "")
		require.NoError(t, err)
		assert.Equal(t, models.CommitmentCancelled, cancelled.Status)
	})

	t.Run("terminal states reject further actions", func(t *testing.T) {
		c := newCommitted(t)
		_, err := env.svc.AdminTransition(ctx, c.ID, ActionCancel, "")
		require.NoError(t, err)

		_, err = env.svc.AdminTransition(ctx, c.ID, ActionFund, "")
		assert.Error(t, err)
		_, err = env.svc.AdminTransition(ctx, c.ID, ActionCancel, "")
		assert.Error(t, err)
	})

	t.Run("flag marks notes without moving state", func(t *testing.T) {
		c := newCommitted(t)

		flagged, err := env.svc.AdminTransition(ctx, c.ID, ActionFlag, "amount inconsistent with KYC")
		require.NoError(t, err)
		assert.Equal(t, models.CommitmentCommitted, flagged.Status)
		assert.True(t, strings.HasPrefix(flagged.Notes, models.FlaggedMarker))
		assert.Contains(t, flagged.Notes, "amount inconsistent with KYC")

		// Flagging twice must not stack markers.
		again, err := env.svc.AdminTransition(ctx, c.ID, ActionFlag, "")
		require.NoError(t, err)
		assert.Equal(t, 1, strings.Count(again.Notes, models.FlaggedMarker))
	})

	t.Run("unknown action", func(t *testing.T) {
		c := newCommitted(t)
		_, err := env.svc.AdminTransition(ctx, c.ID, Action("approve"), "")
		require.Error(t, err)
		var derr *errors.DomainError
		require.ErrorAs(t, err, &derr)
		assert.Equal(t, errors.ErrInvalidTransition.Code, derr.Code)
	})
}

func TestListScoping(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	operator := env.createUser(t, models.RoleOperator)
	otherOperator := env.createUser(t, models.RoleOperator)
	alice := env.createUser(t, models.RoleInvestor)
	bob := env.createUser(t, models.RoleInvestor)

	dealA := env.createDeal(t, operator.ID, "")
	dealB := env.createDeal(t, otherOperator.ID, "")

	_, err := env.svc.Create(ctx, dealA.ID, alice.ID, decimal.NewFromInt(10_000), "")
	require.NoError(t, err)
	_, err = env.svc.Create(ctx, dealA.ID, bob.ID, decimal.NewFromInt(20_000), "")
	require.NoError(t, err)
	_, err = env.svc.Create(ctx, dealB.ID, alice.ID, decimal.NewFromInt(30_000), "")
	require.NoError(t, err)

	t.Run("investor sees only their own", func(t *testing.T) {
		list, total, err := env.svc.List(ctx, ListScope{
			Role: models.RoleInvestor, UserID: alice.ID, Limit: 20,
		})
		require.NoError(t, err)
		assert.EqualValues(t, 2, total)
		for _, c := range list {
			assert.Equal(t, alice.ID, c.InvestorID)
		}
	})

	t.Run("operator sees commitments on their deals", func(t *testing.T) {
		list, total, err := env.svc.List(ctx, ListScope{
			Role: models.RoleOperator, UserID: operator.ID, Limit: 20,
		})
		require.NoError(t, err)
		assert.EqualValues(t, 2, total)
		for _, c := range list {
			assert.Equal(t, dealA.ID, c.DealID)
		}
	})

	t.Run("admin global sees everything", func(t *testing.T) {
		_, total, err := env.svc.List(ctx, ListScope{
			Role: models.RoleAdmin, Global: true, Limit: 20,
		})
		require.NoError(t, err)
		assert.EqualValues(t, 3, total)
	})
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from models.CommitmentStatus
		to   models.CommitmentStatus
		ok   bool
	}{
		{models.CommitmentDraft, models.CommitmentCommitted, true},
		{models.CommitmentDraft, models.CommitmentCancelled, true},
		{models.CommitmentDraft, models.CommitmentFunded, false},
		{models.CommitmentCommitted, models.CommitmentFunded, true},
		{models.CommitmentCommitted, models.CommitmentCancelled, true},
		{models.CommitmentCommitted, models.CommitmentCompleted, false},
		{models.CommitmentFunded, models.CommitmentCompleted, true},
		{models.CommitmentFunded, models.CommitmentCancelled, true},
		{models.CommitmentFunded, models.CommitmentCommitted, false},
		{models.CommitmentCompleted, models.CommitmentCancelled, false},
		{models.CommitmentCancelled, models.CommitmentCommitted, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_to_%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to))
		})
	}
}
