// internal/service/discount/application/service.go
package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cafeteria/internal/pkg/clock"
	"cafeteria/internal/pkg/logger"
	"cafeteria/internal/service/discount/domain"
	"cafeteria/internal/service/discount/port"
)

// DiscountService orchestrates the eligibility predicates into the activation and redemption use cases.
type DiscountService struct {
	validator    *Validator
	transactions domain.TransactionStore
	clock        clock.Clock
	policy       Policy
	locker       port.Locker
	publisher    port.EventPublisher
	tracer       trace.Tracer
	metrics      *Metrics
}

// NewDiscountService wires the workflow. locker, publisher, tracer and metrics may be nil.
func NewDiscountService(
	validator *Validator,
	transactions domain.TransactionStore,
	clk clock.Clock,
	policy Policy,
	locker port.Locker,
	publisher port.EventPublisher,
	tracer trace.Tracer,
	metrics *Metrics,
) *DiscountService {
	if tracer == nil {
		tracer = otel.Tracer("discount-service")
	}
	return &DiscountService{
		validator:    validator,
		transactions: transactions,
		clock:        clk,
		policy:       policy,
		locker:       locker,
		publisher:    publisher,
		tracer:       tracer,
		metrics:      metrics,
	}
}

// ActivateBarcode marks the user's barcode as activated now.
func (s *DiscountService) ActivateBarcode(ctx context.Context, req *domain.ActivationRequest) domain.ActivationOutcome {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "app.ActivateBarcode")
	defer span.End()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ec := s.newEvalContext(ctx)
	ec.Activation = req

	err := s.activationChain().Handle(ec)
	outcome := domain.ActivationOutcomeOf(err)
	s.finish(ctx, span, opActivate, string(outcome), outcome == domain.ActivationStoreError, err, started)

	if err == nil {
		s.publish(ctx, &port.DiscountEvent{
			Type:        port.EventBarcodeActivated,
			UserID:      ec.userID(),
			Barcode:     ec.User.Barcode,
			CafeteriaID: ec.cafeteriaID(),
		})
	}
	return outcome
}

// ValidateRedemption runs the redemption checks without changing any state.
func (s *DiscountService) ValidateRedemption(ctx context.Context, candidate *domain.RedemptionCandidate, plainToken string) domain.RedemptionOutcome {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "app.ValidateRedemption")
	defer span.End()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ec := s.newEvalContext(ctx)
	ec.Candidate = candidate
	ec.Token = plainToken

	err := s.validationChain().Handle(ec)
	outcome := domain.RedemptionOutcomeOf(err)
	s.finish(ctx, span, opValidate, string(outcome), outcome == domain.RedemptionStoreError, err, started)
	return outcome
}

// CommitRedemption 校验并记录一次核销。
// 从激活检查到写入 tagging 时间戳，全程持有用户级锁。
func (s *DiscountService) CommitRedemption(ctx context.Context, candidate *domain.RedemptionCandidate, plainToken string) domain.RedemptionOutcome {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "app.CommitRedemption")
	defer span.End()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ec := s.newEvalContext(ctx)
	ec.Candidate = candidate
	ec.Token = plainToken

	err := s.commitChain().Handle(ec)
	if err != nil {
		// 无锁部署时补偿在此执行；有锁时 LockStep 已在释放锁前执行过
		ec.TriggerCompensation(context.WithoutCancel(ctx))
	}
	outcome := domain.RedemptionOutcomeOf(err)
	s.finish(ctx, span, opCommit, string(outcome), outcome == domain.RedemptionStoreError, err, started)

	if err == nil {
		meal := int(*candidate.MealType)
		s.publish(ctx, &port.DiscountEvent{
			Type:        port.EventDiscountRedeemed,
			UserID:      ec.userID(),
			CafeteriaID: ec.cafeteriaID(),
			MealType:    &meal,
		})
	}
	return outcome
}

// CancelRedemption removes today's transaction of the user at the terminal's cafeteria.
func (s *DiscountService) CancelRedemption(ctx context.Context, candidate *domain.RedemptionCandidate, plainToken string) domain.RedemptionOutcome {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "app.CancelRedemption")
	defer span.End()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ec := s.newEvalContext(ctx)
	ec.Candidate = candidate
	ec.Token = plainToken

	err := s.cancelChain().Handle(ec)
	outcome := domain.RedemptionOutcomeOf(err)
	s.finish(ctx, span, opCancel, string(outcome), outcome == domain.RedemptionStoreError, err, started)

	if err == nil {
		meal := int(*candidate.MealType)
		s.publish(ctx, &port.DiscountEvent{
			Type:        port.EventDiscountCancelled,
			UserID:      ec.userID(),
			CafeteriaID: ec.cafeteriaID(),
			MealType:    &meal,
		})
	}
	return outcome
}

func (s *DiscountService) activationChain() Step {
	chain := new(ActivationWellFormedStep)
	chain.
		SetNext(new(UserExistsStep)).
		SetNext(new(CafeteriaSupportStep)).
		SetNext(new(FirstTodayStep)).
		SetNext(&RecordActivationStep{transactions: s.transactions, now: s.clock.Now})
	return chain
}

func (s *DiscountService) validationChain() Step {
	chain := new(RedemptionWellFormedStep)
	chain.
		SetNext(new(TokenStep)).
		SetNext(new(MealTimeStep)).
		SetNext(new(CafeteriaSupportStep)).
		SetNext(new(ConditionStep)).
		SetNext(new(BarcodeActiveStep)).
		SetNext(new(NotUsedRecentlyStep))
	return chain
}

func (s *DiscountService) commitChain() Step {
	chain := new(RedemptionWellFormedStep)
	chain.
		SetNext(new(TokenStep)).
		SetNext(new(MealTimeStep)).
		SetNext(new(CafeteriaSupportStep)).
		SetNext(new(ConditionStep)).
		SetNext(new(LockStep)).
		SetNext(new(BarcodeActiveStep)).
		SetNext(new(NotUsedRecentlyStep)).
		SetNext(&WriteTransactionStep{transactions: s.transactions, now: s.clock.Now}).
		SetNext(&RecordTaggingStep{transactions: s.transactions, now: s.clock.Now})
	return chain
}

func (s *DiscountService) cancelChain() Step {
	chain := new(RedemptionWellFormedStep)
	chain.
		SetNext(new(TokenStep)).
		SetNext(new(LockStep)).
		SetNext(&RemoveTodaysTransactionStep{transactions: s.transactions, now: s.clock.Now})
	return chain
}

func (s *DiscountService) newEvalContext(ctx context.Context) *EvalContext {
	return &EvalContext{
		Ctx:       ctx,
		Tracer:    s.tracer,
		Validator: s.validator,
		Policy:    s.policy,
		Locker:    s.locker,
	}
}

func (s *DiscountService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.policy.OperationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.policy.OperationTimeout)
}

func (s *DiscountService) finish(ctx context.Context, span trace.Span, operation, outcome string, storeFailure bool, err error, started time.Time) {
	span.SetAttributes(attribute.String("discount.outcome", outcome))
	switch {
	case storeFailure:
		span.RecordError(err)
		span.SetStatus(codes.Error, "discount store failure")
		logger.Ctx(ctx).Error().Err(err).Str("operation", operation).Msg("discount operation failed")
	case err != nil:
		logger.Ctx(ctx).Info().Str("operation", operation).Str("outcome", outcome).Msg("discount request rejected")
	default:
		span.AddEvent("discount operation succeeded")
	}
	s.metrics.observe(operation, outcome, started)
}

func (s *DiscountService) publish(ctx context.Context, event *port.DiscountEvent) {
	if s.publisher == nil {
		return
	}
	event.EventID = uuid.New().String()
	event.OccurredAt = s.clock.Now()
	// 发布与请求超时解耦，只受 PublishTimeout 约束
	ctx = context.WithoutCancel(ctx)
	if s.policy.PublishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.policy.PublishTimeout)
		defer cancel()
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("event_type", string(event.Type)).Msg("failed to publish discount event")
	}
}
