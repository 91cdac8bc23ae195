package application

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cafeteria/internal/pkg/logger"
	"cafeteria/internal/service/discount/domain"
	"cafeteria/internal/service/discount/port"
)

// EvalContext 在责任链中传递一次请求的上下文
type EvalContext struct {
	Ctx       context.Context
	Tracer    trace.Tracer
	Validator *Validator
	Policy    Policy
	Locker    port.Locker

	Activation *domain.ActivationRequest
	User       *domain.User
	Candidate  *domain.RedemptionCandidate
	Token      string

	compensations []func(ctx context.Context)
	compLock      sync.Mutex
}

// AddCompensation 注册补偿操作，按注册的逆序执行
func (c *EvalContext) AddCompensation(comp func(ctx context.Context)) {
	c.compLock.Lock()
	defer c.compLock.Unlock()
	c.compensations = append([]func(context.Context){comp}, c.compensations...)
}

func (c *EvalContext) TriggerCompensation(ctx context.Context) {
	c.compLock.Lock()
	defer c.compLock.Unlock()
	if len(c.compensations) == 0 {
		return
	}
	logger.Ctx(ctx).Info().Int("count", len(c.compensations)).Msg("executing compensations")
	for _, comp := range c.compensations {
		comp(ctx)
	}
	c.compensations = nil
}

func (c *EvalContext) userID() int64 {
	switch {
	case c.Candidate != nil && c.Candidate.UserID != nil:
		return *c.Candidate.UserID
	case c.Activation != nil && c.Activation.UserID != nil:
		return *c.Activation.UserID
	}
	return 0
}

func (c *EvalContext) cafeteriaID() int64 {
	switch {
	case c.Candidate != nil && c.Candidate.CafeteriaID != nil:
		return *c.Candidate.CafeteriaID
	case c.Activation != nil && c.Activation.CafeteriaID != nil:
		return *c.Activation.CafeteriaID
	}
	return 0
}

// Step 是责任链中的一环：要么返回错误拒绝，要么交给下一环
type Step interface {
	SetNext(step Step) Step
	Handle(ec *EvalContext) error
}

type NextStep struct {
	next Step
}

func (s *NextStep) SetNext(step Step) Step {
	s.next = step
	return step
}

func (s *NextStep) executeNext(ec *EvalContext) error {
	if s.next != nil {
		return s.next.Handle(ec)
	}
	return nil
}

// check 在独立的 span 中执行谓词，结果为 false 时返回 reject
func check(ec *EvalContext, name string, reject error, predicate func(ctx context.Context) (bool, error)) error {
	ctx, span := ec.Tracer.Start(ec.Ctx, "chain."+name)
	defer span.End()

	ok, err := predicate(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, name+" failed")
		return err
	}
	if !ok {
		span.SetAttributes(attribute.Bool("rejected", true))
		logger.Ctx(ctx).Debug().Str("step", name).Err(reject).Msg("discount check rejected")
		return reject
	}
	return nil
}

// ---- 公共步骤 ----

type CafeteriaSupportStep struct {
	NextStep
}

func (s *CafeteriaSupportStep) Handle(ec *EvalContext) error {
	cafeteriaID := ec.cafeteriaID()
	if ec.Candidate == nil && cafeteriaID == 0 {
		// 未指定食堂的激活请求
		return s.executeNext(ec)
	}
	err := check(ec, "CafeteriaSupport", domain.ErrCafeteriaNotSupported, func(ctx context.Context) (bool, error) {
		return ec.Validator.CafeteriaSupportsDiscount(ctx, cafeteriaID)
	})
	if err != nil {
		return err
	}
	return s.executeNext(ec)
}

// LockStep 在链的剩余部分持有用户级锁。
// 下游注册的补偿在释放锁之前执行。
type LockStep struct {
	NextStep
}

func (s *LockStep) Handle(ec *EvalContext) error {
	if ec.Locker == nil {
		return s.executeNext(ec)
	}
	ctx, span := ec.Tracer.Start(ec.Ctx, "chain.Lock")
	unlock, err := ec.Locker.Acquire(ctx, lockKey(ec.userID()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock failed")
		span.End()
		return err
	}
	span.End()
	defer unlock()

	if err := s.executeNext(ec); err != nil {
		ec.TriggerCompensation(context.WithoutCancel(ec.Ctx))
		return err
	}
	return nil
}

func lockKey(userID int64) string {
	return "discount:user:" + strconv.FormatInt(userID, 10)
}

// ---- 激活步骤 ----

type ActivationWellFormedStep struct {
	NextStep
}

func (s *ActivationWellFormedStep) Handle(ec *EvalContext) error {
	a := ec.Activation
	if a == nil || a.UserID == nil || *a.UserID <= 0 || (a.CafeteriaID != nil && *a.CafeteriaID <= 0) {
		logger.Ctx(ec.Ctx).Warn().Msg("activation request is malformed")
		return domain.ErrMalformedRequest
	}
	return s.executeNext(ec)
}

type UserExistsStep struct {
	NextStep
}

func (s *UserExistsStep) Handle(ec *EvalContext) error {
	err := check(ec, "UserExists", domain.ErrUserNotFound, func(ctx context.Context) (bool, error) {
		user, err := ec.Validator.FindUser(ctx, ec.userID())
		ec.User = user
		return user != nil, err
	})
	if err != nil {
		return err
	}
	return s.executeNext(ec)
}

// FirstTodayStep is the activation policy gate; it passes through when the policy disables it.
type FirstTodayStep struct {
	NextStep
}

func (s *FirstTodayStep) Handle(ec *EvalContext) error {
	if !ec.Policy.RequireFirstToday {
		return s.executeNext(ec)
	}
	err := check(ec, "FirstToday", domain.ErrNotFirstToday, func(ctx context.Context) (bool, error) {
		return ec.Validator.FirstToday(ctx, ec.userID())
	})
	if err != nil {
		return err
	}
	return s.executeNext(ec)
}

type RecordActivationStep struct {
	NextStep
	transactions domain.TransactionStore
	now          func() time.Time
}

func (s *RecordActivationStep) Handle(ec *EvalContext) error {
	ctx, span := ec.Tracer.Start(ec.Ctx, "chain.RecordActivation")
	defer span.End()

	if err := s.transactions.SetLastActivation(ctx, ec.userID(), s.now()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "set last activation failed")
		return err
	}
	span.AddEvent("barcode activated")
	return s.executeNext(ec)
}

// ---- 核销步骤 ----

type RedemptionWellFormedStep struct {
	NextStep
}

func (s *RedemptionWellFormedStep) Handle(ec *EvalContext) error {
	if !ec.Validator.RequestNotMalformed(ec.Ctx, ec.Candidate) {
		return domain.ErrMalformedRequest
	}
	return s.executeNext(ec)
}

type TokenStep struct {
	NextStep
}

func (s *TokenStep) Handle(ec *EvalContext) error {
	err := check(ec, "Token", domain.ErrTokenInvalid, func(ctx context.Context) (bool, error) {
		return ec.Validator.TokenValid(ctx, ec.cafeteriaID(), ec.Token)
	})
	if err != nil {
		return err
	}
	return s.executeNext(ec)
}

type MealTimeStep struct {
	NextStep
}

func (s *MealTimeStep) Handle(ec *EvalContext) error {
	err := check(ec, "MealTime", domain.ErrNotInMealTime, func(ctx context.Context) (bool, error) {
		return ec.Validator.InMealTime(ctx, ec.cafeteriaID(), ec.Candidate.MealType)
	})
	if err != nil {
		return err
	}
	return s.executeNext(ec)
}

type ConditionStep struct {
	NextStep
}

func (s *ConditionStep) Handle(ec *EvalContext) error {
	err := check(ec, "Condition", domain.ErrConditionNotMet, func(ctx context.Context) (bool, error) {
		return ec.Validator.ConditionMet(ctx, ec.userID(), ec.cafeteriaID(), *ec.Candidate.MealType)
	})
	if err != nil {
		return err
	}
	return s.executeNext(ec)
}

type BarcodeActiveStep struct {
	NextStep
}

func (s *BarcodeActiveStep) Handle(ec *EvalContext) error {
	err := check(ec, "BarcodeActive", domain.ErrBarcodeNotActive, func(ctx context.Context) (bool, error) {
		return ec.Validator.BarcodeActive(ctx, ec.userID(), ec.Policy.BarcodeActiveDuration)
	})
	if err != nil {
		return err
	}
	return s.executeNext(ec)
}

type NotUsedRecentlyStep struct {
	NextStep
}

func (s *NotUsedRecentlyStep) Handle(ec *EvalContext) error {
	err := check(ec, "NotUsedRecently", domain.ErrUsedTooRecently, func(ctx context.Context) (bool, error) {
		return ec.Validator.BarcodeNotUsedRecently(ctx, ec.userID(), ec.Policy.TaggingMinInterval)
	})
	if err != nil {
		return err
	}
	return s.executeNext(ec)
}

// WriteTransactionStep 写入核销记录，并注册删除该记录的补偿
type WriteTransactionStep struct {
	NextStep
	transactions domain.TransactionStore
	now          func() time.Time
}

func (s *WriteTransactionStep) Handle(ec *EvalContext) error {
	ctx, span := ec.Tracer.Start(ec.Ctx, "chain.WriteTransaction")
	defer span.End()

	tx := &domain.DiscountTransaction{
		UserID:      ec.userID(),
		CafeteriaID: ec.cafeteriaID(),
		MealType:    *ec.Candidate.MealType,
		Timestamp:   s.now(),
	}
	if err := s.transactions.WriteTransaction(ctx, tx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write transaction failed")
		return err
	}
	span.AddEvent("discount transaction written")

	ec.AddCompensation(func(ctx context.Context) {
		if err := s.transactions.RemoveTransaction(ctx, tx); err != nil {
			logger.Ctx(ctx).Error().Err(err).
				Int64("user_id", tx.UserID).
				Int64("cafeteria_id", tx.CafeteriaID).
				Msg("CRITICAL: failed to remove discount transaction during compensation")
		}
	})
	return s.executeNext(ec)
}

type RecordTaggingStep struct {
	NextStep
	transactions domain.TransactionStore
	now          func() time.Time
}

func (s *RecordTaggingStep) Handle(ec *EvalContext) error {
	ctx, span := ec.Tracer.Start(ec.Ctx, "chain.RecordTagging")
	defer span.End()

	if err := s.transactions.SetLastTagging(ctx, ec.userID(), s.now()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "set last tagging failed")
		return err
	}
	return s.executeNext(ec)
}

// RemoveTodaysTransactionStep deletes the (user, cafeteria) transaction of the current day.
type RemoveTodaysTransactionStep struct {
	NextStep
	transactions domain.TransactionStore
	now          func() time.Time
}

func (s *RemoveTodaysTransactionStep) Handle(ec *EvalContext) error {
	ctx, span := ec.Tracer.Start(ec.Ctx, "chain.RemoveTransaction")
	defer span.End()

	tx := &domain.DiscountTransaction{
		UserID:      ec.userID(),
		CafeteriaID: ec.cafeteriaID(),
		MealType:    *ec.Candidate.MealType,
		Timestamp:   s.now(),
	}
	if err := s.transactions.RemoveTransaction(ctx, tx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "remove transaction failed")
		return err
	}
	return s.executeNext(ec)
}
