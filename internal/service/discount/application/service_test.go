package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cafeteria/internal/service/discount/domain"
	"cafeteria/internal/service/discount/infrastructure/adapter"
	"cafeteria/internal/service/discount/port"
)

type serviceFixture struct {
	*fixture
	publisher *recordingPublisher
	metrics   *Metrics
	service   *DiscountService
}

func newServiceFixture(t *testing.T, policy Policy, locker port.Locker) *serviceFixture {
	t.Helper()
	f := newFixture(t)
	publisher := &recordingPublisher{}
	metrics := NewMetrics(prometheus.NewRegistry())
	return &serviceFixture{
		fixture:   f,
		publisher: publisher,
		metrics:   metrics,
		service:   NewDiscountService(f.validator, f.store, f.clock, policy, locker, publisher, nil, metrics),
	}
}

func lunchCandidate() *domain.RedemptionCandidate {
	return &domain.RedemptionCandidate{
		UserID:      int64Ptr(testUserID),
		CafeteriaID: int64Ptr(testCafeteriaID),
		MealType:    mealPtr(domain.MealLunch),
	}
}

func activation(userID int64) *domain.ActivationRequest {
	return &domain.ActivationRequest{UserID: int64Ptr(userID)}
}

func TestCommitRedemption_EndToEnd(t *testing.T) {
	sf := newServiceFixture(t, DefaultPolicy(), adapter.NewLocalLocker())
	ctx := context.Background()

	require.Equal(t, domain.ActivationOK, sf.service.ActivateBarcode(ctx, activation(testUserID)))

	sf.clock.Advance(time.Minute)
	outcome := sf.service.CommitRedemption(ctx, lunchCandidate(), testToken)
	require.Equal(t, domain.RedemptionSuccess, outcome)
	assert.Equal(t, 1, sf.store.transactionCount())

	status, err := sf.store.GetUserDiscountStatus(ctx, testUserID)
	require.NoError(t, err)
	require.NotNil(t, status.LastBarcodeTagging)
	assert.True(t, status.LastBarcodeTagging.Equal(sf.clock.Now()))

	// an identical commit right away is rejected and writes nothing
	outcome = sf.service.CommitRedemption(ctx, lunchCandidate(), testToken)
	assert.Equal(t, domain.RedemptionUsedTooRecently, outcome)
	assert.Equal(t, 1, sf.store.transactionCount())

	// once the interval has passed the per-day uniqueness rejects it
	sf.clock.Advance(20 * time.Second)
	outcome = sf.service.CommitRedemption(ctx, lunchCandidate(), testToken)
	assert.Equal(t, domain.RedemptionAlreadyDone, outcome)
	assert.Equal(t, 1, sf.store.transactionCount())

	assert.Equal(t, []string{
		string(port.EventBarcodeActivated),
		string(port.EventDiscountRedeemed),
	}, sf.publisher.types())
	assert.Equal(t, 1.0, testutil.ToFloat64(sf.metrics.outcomes.WithLabelValues(opCommit, "SUCCESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sf.metrics.outcomes.WithLabelValues(opCommit, "ALREADY_DONE")))
}

func TestCommitRedemption_Rejections(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name      string
		setup     func(sf *serviceFixture)
		candidate func() *domain.RedemptionCandidate
		token     string
		want      domain.RedemptionOutcome
	}{
		{
			name:      "malformed",
			candidate: func() *domain.RedemptionCandidate { return &domain.RedemptionCandidate{UserID: int64Ptr(testUserID)} },
			token:     testToken,
			want:      domain.RedemptionMalformedRequest,
		},
		{
			name:      "wrong token",
			candidate: lunchCandidate,
			token:     "nope",
			want:      domain.RedemptionTokenInvalid,
		},
		{
			name: "not in meal time",
			candidate: func() *domain.RedemptionCandidate {
				c := lunchCandidate()
				c.MealType = mealPtr(domain.MealDinner)
				return c
			},
			token: testToken,
			want:  domain.RedemptionNotInMealTime,
		},
		{
			name:      "cafeteria flag off",
			setup:     func(sf *serviceFixture) { sf.store.cafeterias[testCafeteriaID].SupportsDiscount = false },
			candidate: lunchCandidate,
			token:     testToken,
			want:      domain.RedemptionCafeteriaNotSupported,
		},
		{
			name: "condition not met",
			setup: func(sf *serviceFixture) {
				sf.store.rules[testCafeteriaID].Condition = "weekday == 6"
				sf.engine.result = false
			},
			candidate: lunchCandidate,
			token:     testToken,
			want:      domain.RedemptionConditionNotMet,
		},
		{
			name:      "never activated",
			setup:     func(sf *serviceFixture) {},
			candidate: lunchCandidate,
			token:     testToken,
			want:      domain.RedemptionBarcodeNotActive,
		},
		{
			name:      "activation expired",
			setup:     func(sf *serviceFixture) { sf.activatedAgo(20 * time.Minute) },
			candidate: lunchCandidate,
			token:     testToken,
			want:      domain.RedemptionBarcodeNotActive,
		},
		{
			name: "tagged 10 seconds ago",
			setup: func(sf *serviceFixture) {
				sf.activatedAgo(time.Minute)
				sf.taggedAgo(10 * time.Second)
			},
			candidate: lunchCandidate,
			token:     testToken,
			want:      domain.RedemptionUsedTooRecently,
		},
		{
			name:      "store down",
			setup:     func(sf *serviceFixture) { sf.store.failReads = true },
			candidate: lunchCandidate,
			token:     testToken,
			want:      domain.RedemptionStoreError,
		},
		{
			name: "write fails",
			setup: func(sf *serviceFixture) {
				sf.activatedAgo(time.Minute)
				sf.store.failWrite = true
			},
			candidate: lunchCandidate,
			token:     testToken,
			want:      domain.RedemptionStoreError,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sf := newServiceFixture(t, DefaultPolicy(), adapter.NewLocalLocker())
			if tc.setup != nil {
				tc.setup(sf)
			} else {
				sf.activatedAgo(time.Minute)
			}
			assert.Equal(t, tc.want, sf.service.CommitRedemption(ctx, tc.candidate(), tc.token))
			assert.Zero(t, sf.store.transactionCount())
			assert.Empty(t, sf.publisher.types())
		})
	}
}

func TestCommitRedemption_CompensatesWhenTaggingFails(t *testing.T) {
	sf := newServiceFixture(t, DefaultPolicy(), nil)
	sf.activatedAgo(time.Minute)
	sf.store.failSetTagging = true

	outcome := sf.service.CommitRedemption(context.Background(), lunchCandidate(), testToken)
	assert.Equal(t, domain.RedemptionStoreError, outcome)
	assert.Zero(t, sf.store.transactionCount())
	assert.Equal(t, 1, sf.store.removed)
}

// trackingLocker is a LocalLocker that reports whether any key is currently held.
type trackingLocker struct {
	inner *adapter.LocalLocker
	mu    sync.Mutex
	held  int
}

func (l *trackingLocker) Acquire(ctx context.Context, key string) (func(), error) {
	unlock, err := l.inner.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.held++
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		l.held--
		l.mu.Unlock()
		unlock()
	}, nil
}

func (l *trackingLocker) isHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held > 0
}

func TestCommitRedemption_CompensatesUnderLock(t *testing.T) {
	locker := &trackingLocker{inner: adapter.NewLocalLocker()}
	sf := newServiceFixture(t, DefaultPolicy(), locker)
	sf.activatedAgo(time.Minute)
	sf.store.failSetTagging = true

	var heldDuringUndo []bool
	sf.store.onRemove = func() { heldDuringUndo = append(heldDuringUndo, locker.isHeld()) }

	outcome := sf.service.CommitRedemption(context.Background(), lunchCandidate(), testToken)
	assert.Equal(t, domain.RedemptionStoreError, outcome)
	assert.Zero(t, sf.store.transactionCount())
	assert.Equal(t, []bool{true}, heldDuringUndo)
	assert.False(t, locker.isHeld())
}

// slowPublisher blocks until its context ends.
type slowPublisher struct {
	err error
}

func (p *slowPublisher) Publish(ctx context.Context, _ *port.DiscountEvent) error {
	<-ctx.Done()
	p.err = ctx.Err()
	return p.err
}

func TestPublishIsBoundedByPublishTimeout(t *testing.T) {
	policy := DefaultPolicy()
	policy.PublishTimeout = 20 * time.Millisecond
	f := newFixture(t)
	publisher := &slowPublisher{}
	service := NewDiscountService(f.validator, f.store, f.clock, policy, nil, publisher, nil, nil)
	f.activatedAgo(time.Minute)

	started := time.Now()
	outcome := service.CommitRedemption(context.Background(), lunchCandidate(), testToken)
	assert.Equal(t, domain.RedemptionSuccess, outcome)
	assert.Less(t, time.Since(started), time.Second)
	assert.ErrorIs(t, publisher.err, context.DeadlineExceeded)
}

func TestCommitRedemption_ConcurrentCommitsWriteOnce(t *testing.T) {
	for name, locker := range map[string]port.Locker{
		"with lock":    adapter.NewLocalLocker(),
		"without lock": nil,
	} {
		t.Run(name, func(t *testing.T) {
			sf := newServiceFixture(t, DefaultPolicy(), locker)
			sf.activatedAgo(time.Minute)

			const workers = 16
			outcomes := make([]domain.RedemptionOutcome, workers)
			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					outcomes[i] = sf.service.CommitRedemption(context.Background(), lunchCandidate(), testToken)
				}(i)
			}
			wg.Wait()

			successes := 0
			for _, o := range outcomes {
				if o == domain.RedemptionSuccess {
					successes++
					continue
				}
				assert.Contains(t, []domain.RedemptionOutcome{domain.RedemptionUsedTooRecently, domain.RedemptionAlreadyDone}, o)
			}
			assert.Equal(t, 1, successes)
			assert.Equal(t, 1, sf.store.transactionCount())
		})
	}
}

// blockingLocker never grants the lock.
type blockingLocker struct{}

func (blockingLocker) Acquire(ctx context.Context, _ string) (func(), error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCommitRedemption_Timeout(t *testing.T) {
	policy := DefaultPolicy()
	policy.OperationTimeout = 20 * time.Millisecond
	sf := newServiceFixture(t, policy, blockingLocker{})
	sf.activatedAgo(time.Minute)

	outcome := sf.service.CommitRedemption(context.Background(), lunchCandidate(), testToken)
	assert.Equal(t, domain.RedemptionStoreError, outcome)
	assert.Zero(t, sf.store.transactionCount())
}

func TestValidateRedemption_HasNoSideEffects(t *testing.T) {
	sf := newServiceFixture(t, DefaultPolicy(), nil)
	sf.activatedAgo(time.Minute)

	assert.Equal(t, domain.RedemptionSuccess, sf.service.ValidateRedemption(context.Background(), lunchCandidate(), testToken))
	assert.Equal(t, domain.RedemptionSuccess, sf.service.ValidateRedemption(context.Background(), lunchCandidate(), testToken))
	assert.Zero(t, sf.store.transactionCount())

	status, err := sf.store.GetUserDiscountStatus(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Nil(t, status.LastBarcodeTagging)
	assert.Empty(t, sf.publisher.types())
}

func TestCancelRedemption(t *testing.T) {
	sf := newServiceFixture(t, DefaultPolicy(), adapter.NewLocalLocker())
	ctx := context.Background()
	sf.activatedAgo(time.Minute)
	require.Equal(t, domain.RedemptionSuccess, sf.service.CommitRedemption(ctx, lunchCandidate(), testToken))

	assert.Equal(t, domain.RedemptionTokenInvalid, sf.service.CancelRedemption(ctx, lunchCandidate(), "nope"))
	assert.Equal(t, 1, sf.store.transactionCount())

	assert.Equal(t, domain.RedemptionSuccess, sf.service.CancelRedemption(ctx, lunchCandidate(), testToken))
	assert.Zero(t, sf.store.transactionCount())
	assert.Equal(t, []string{
		string(port.EventDiscountRedeemed),
		string(port.EventDiscountCancelled),
	}, sf.publisher.types())
}

func TestActivateBarcode(t *testing.T) {
	ctx := context.Background()

	t.Run("ok", func(t *testing.T) {
		sf := newServiceFixture(t, DefaultPolicy(), nil)
		assert.Equal(t, domain.ActivationOK, sf.service.ActivateBarcode(ctx, activation(testUserID)))
		status, err := sf.store.GetUserDiscountStatus(ctx, testUserID)
		require.NoError(t, err)
		require.NotNil(t, status.LastBarcodeActivation)
		assert.True(t, status.LastBarcodeActivation.Equal(testNow))

		event := sf.publisher.last()
		assert.Equal(t, port.EventBarcodeActivated, event.Type)
		assert.Equal(t, testBarcode, event.Barcode)
		assert.NotEmpty(t, event.EventID)
	})

	t.Run("malformed", func(t *testing.T) {
		sf := newServiceFixture(t, DefaultPolicy(), nil)
		assert.Equal(t, domain.ActivationNotEligible, sf.service.ActivateBarcode(ctx, nil))
		assert.Equal(t, domain.ActivationNotEligible, sf.service.ActivateBarcode(ctx, &domain.ActivationRequest{}))
		assert.Equal(t, domain.ActivationNotEligible, sf.service.ActivateBarcode(ctx, activation(0)))
	})

	t.Run("unknown user", func(t *testing.T) {
		sf := newServiceFixture(t, DefaultPolicy(), nil)
		assert.Equal(t, domain.ActivationUserNotFound, sf.service.ActivateBarcode(ctx, activation(7)))
	})

	t.Run("cafeteria not supported", func(t *testing.T) {
		sf := newServiceFixture(t, DefaultPolicy(), nil)
		req := activation(testUserID)
		req.CafeteriaID = int64Ptr(42)
		assert.Equal(t, domain.ActivationCafeteriaNotSupported, sf.service.ActivateBarcode(ctx, req))

		req.CafeteriaID = int64Ptr(testCafeteriaID)
		assert.Equal(t, domain.ActivationOK, sf.service.ActivateBarcode(ctx, req))
	})

	t.Run("already redeemed today", func(t *testing.T) {
		sf := newServiceFixture(t, DefaultPolicy(), nil)
		require.NoError(t, sf.store.WriteTransaction(ctx, &domain.DiscountTransaction{
			UserID: testUserID, CafeteriaID: 2, MealType: domain.MealBreakfast, Timestamp: testNow.Add(-3 * time.Hour),
		}))
		assert.Equal(t, domain.ActivationAlreadyDone, sf.service.ActivateBarcode(ctx, activation(testUserID)))

		policy := DefaultPolicy()
		policy.RequireFirstToday = false
		lenient := NewDiscountService(sf.validator, sf.store, sf.clock, policy, nil, nil, nil, nil)
		assert.Equal(t, domain.ActivationOK, lenient.ActivateBarcode(ctx, activation(testUserID)))
	})

	t.Run("store error", func(t *testing.T) {
		sf := newServiceFixture(t, DefaultPolicy(), nil)
		sf.store.failSetActivation = true
		assert.Equal(t, domain.ActivationStoreError, sf.service.ActivateBarcode(ctx, activation(testUserID)))
		assert.Empty(t, sf.publisher.types())
	})
}

func TestActivateBarcode_TwiceKeepsOneStatus(t *testing.T) {
	sf := newServiceFixture(t, DefaultPolicy(), nil)
	ctx := context.Background()

	require.Equal(t, domain.ActivationOK, sf.service.ActivateBarcode(ctx, activation(testUserID)))
	sf.clock.Advance(2 * time.Minute)
	require.Equal(t, domain.ActivationOK, sf.service.ActivateBarcode(ctx, activation(testUserID)))

	assert.Len(t, sf.store.statuses, 1)
	status, err := sf.store.GetUserDiscountStatus(ctx, testUserID)
	require.NoError(t, err)
	assert.True(t, status.LastBarcodeActivation.Equal(testNow.Add(2*time.Minute)))
}

func TestPublishFailureDoesNotChangeOutcome(t *testing.T) {
	sf := newServiceFixture(t, DefaultPolicy(), nil)
	sf.publisher.err = errors.New("broker down")

	assert.Equal(t, domain.ActivationOK, sf.service.ActivateBarcode(context.Background(), activation(testUserID)))
	assert.Len(t, sf.publisher.types(), 1)
}
