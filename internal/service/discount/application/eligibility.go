package application

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"cafeteria/internal/pkg/clock"
	"cafeteria/internal/pkg/logger"
	"cafeteria/internal/pkg/secret"
	"cafeteria/internal/service/discount/domain"
	"cafeteria/internal/service/discount/port"
)

// Validator holds the discount eligibility predicates.
//
// Every predicate fails closed: missing or malformed input yields false, never an error.
// A non-nil error always means a store or engine failure and is reported alongside false.
type Validator struct {
	transactions domain.TransactionStore
	cafeterias   domain.CafeteriaStore
	users        domain.UserStore
	clock        clock.Clock
	verifier     secret.Verifier
	ruleEngine   port.RuleEngine
}

func NewValidator(
	transactions domain.TransactionStore,
	cafeterias domain.CafeteriaStore,
	users domain.UserStore,
	clk clock.Clock,
	verifier secret.Verifier,
	ruleEngine port.RuleEngine,
) *Validator {
	return &Validator{
		transactions: transactions,
		cafeterias:   cafeterias,
		users:        users,
		clock:        clk,
		verifier:     verifier,
		ruleEngine:   ruleEngine,
	}
}

// RequestNotMalformed checks the shape of a redemption candidate. Breakfast (0) is a valid meal type.
func (v *Validator) RequestNotMalformed(ctx context.Context, c *domain.RedemptionCandidate) bool {
	if c == nil {
		logger.Ctx(ctx).Warn().Msg("transaction is nil")
		return false
	}
	if c.UserID == nil || *c.UserID <= 0 {
		logger.Ctx(ctx).Warn().Interface("user_id", c.UserID).Msg("userId of transaction is invalid")
		return false
	}
	if c.CafeteriaID == nil || *c.CafeteriaID <= 0 {
		logger.Ctx(ctx).Warn().Interface("cafeteria_id", c.CafeteriaID).Msg("cafeteriaId of transaction is invalid")
		return false
	}
	if c.MealType == nil || !c.MealType.Valid() {
		logger.Ctx(ctx).Warn().Interface("meal_type", c.MealType).Msg("mealType of transaction is invalid")
		return false
	}
	return true
}

// InMealTime reports whether mealType is enabled for the cafeteria and, when the rule
// narrows that meal to a time window, whether now falls inside it.
func (v *Validator) InMealTime(ctx context.Context, cafeteriaID int64, mealType *domain.MealType) (bool, error) {
	if cafeteriaID <= 0 || mealType == nil || !mealType.Valid() {
		return false, nil
	}

	rule, err := v.transactions.GetCafeteriaDiscountRule(ctx, cafeteriaID)
	if err != nil {
		return false, errors.Wrapf(err, "get discount rule of cafeteria %d", cafeteriaID)
	}
	if rule == nil {
		return false, nil
	}
	if !mealType.In(rule.AvailableMealTypes) {
		return false, nil
	}

	raw, hasRange := rule.MealTimeRanges[*mealType]
	if !hasRange || raw == "" {
		return true, nil
	}
	window, err := domain.ParseTimeRange(raw)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Int64("cafeteria_id", cafeteriaID).Msg("broken meal time range in discount rule")
		return false, nil
	}
	return window.Contains(v.clock.Now()), nil
}

// CafeteriaSupportsDiscount requires the cafeteria to exist, to flag discount support
// and to have a discount rule.
func (v *Validator) CafeteriaSupportsDiscount(ctx context.Context, cafeteriaID int64) (bool, error) {
	if cafeteriaID <= 0 {
		return false, nil
	}

	cafeteria, err := v.cafeterias.GetCafeteriaByID(ctx, cafeteriaID)
	if err != nil {
		return false, errors.Wrapf(err, "get cafeteria %d", cafeteriaID)
	}
	if cafeteria == nil || !cafeteria.SupportsDiscount {
		return false, nil
	}

	rule, err := v.transactions.GetCafeteriaDiscountRule(ctx, cafeteriaID)
	if err != nil {
		return false, errors.Wrapf(err, "get discount rule of cafeteria %d", cafeteriaID)
	}
	return rule != nil, nil
}

// UserExists reports whether the user store knows userID.
func (v *Validator) UserExists(ctx context.Context, userID int64) (bool, error) {
	user, err := v.FindUser(ctx, userID)
	return user != nil, err
}

// FindUser loads the user, returning nil for malformed or unknown ids.
func (v *Validator) FindUser(ctx context.Context, userID int64) (*domain.User, error) {
	if userID <= 0 {
		return nil, nil
	}
	user, err := v.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "get user %d", userID)
	}
	return user, nil
}

// BarcodeActive reports whether the user's barcode was activated less than activeDuration ago.
func (v *Validator) BarcodeActive(ctx context.Context, userID int64, activeDuration time.Duration) (bool, error) {
	if userID <= 0 || activeDuration <= 0 {
		return false, nil
	}

	status, err := v.transactions.GetUserDiscountStatus(ctx, userID)
	if err != nil {
		return false, errors.Wrapf(err, "get discount status of user %d", userID)
	}
	if status == nil {
		return false, nil
	}

	elapsed, activated := clock.Elapsed(v.clock, status.LastBarcodeActivation)
	if !activated {
		return false, nil
	}
	return elapsed < activeDuration, nil
}

// FirstToday reports whether the user has no discount transaction today at any cafeteria.
func (v *Validator) FirstToday(ctx context.Context, userID int64) (bool, error) {
	if userID <= 0 {
		return false, nil
	}
	today, err := v.transactions.GetTodaysTransactions(ctx, userID, v.clock.Now())
	if err != nil {
		return false, errors.Wrapf(err, "get today's transactions of user %d", userID)
	}
	return len(today) == 0, nil
}

// BarcodeNotUsedRecently reports whether at least interval has passed since the user's last tagging.
// A user who never tagged may proceed. Malformed input fails closed.
func (v *Validator) BarcodeNotUsedRecently(ctx context.Context, userID int64, interval time.Duration) (bool, error) {
	if userID <= 0 || interval <= 0 {
		return false, nil
	}

	status, err := v.transactions.GetUserDiscountStatus(ctx, userID)
	if err != nil {
		return false, errors.Wrapf(err, "get discount status of user %d", userID)
	}
	if status == nil {
		return true, nil
	}

	elapsed, used := clock.Elapsed(v.clock, status.LastBarcodeTagging)
	if !used {
		return true, nil
	}
	return elapsed >= interval, nil
}

// TokenValid compares a terminal's plaintext token with the cafeteria's stored token.
func (v *Validator) TokenValid(ctx context.Context, cafeteriaID int64, plainToken string) (bool, error) {
	if cafeteriaID <= 0 || plainToken == "" {
		return false, nil
	}

	rule, err := v.transactions.GetCafeteriaDiscountRule(ctx, cafeteriaID)
	if err != nil {
		return false, errors.Wrapf(err, "get discount rule of cafeteria %d", cafeteriaID)
	}
	if rule == nil || rule.Token == "" {
		return false, nil
	}
	return v.verifier.Verify(plainToken, rule.Token), nil
}

// ConditionMet evaluates the cafeteria rule's optional condition. No condition passes;
// an expression that fails to compile or evaluate does not.
func (v *Validator) ConditionMet(ctx context.Context, userID, cafeteriaID int64, mealType domain.MealType) (bool, error) {
	if userID <= 0 || cafeteriaID <= 0 || !mealType.Valid() {
		return false, nil
	}

	rule, err := v.transactions.GetCafeteriaDiscountRule(ctx, cafeteriaID)
	if err != nil {
		return false, errors.Wrapf(err, "get discount rule of cafeteria %d", cafeteriaID)
	}
	if rule == nil {
		return false, nil
	}
	if rule.Condition == "" {
		return true, nil
	}
	if v.ruleEngine == nil {
		logger.Ctx(ctx).Warn().Int64("cafeteria_id", cafeteriaID).Msg("discount rule has a condition but no rule engine is configured")
		return false, nil
	}

	now := v.clock.Now()
	ok, err := v.ruleEngine.Evaluate(rule.Condition, domain.RuleFact{
		UserID:      userID,
		CafeteriaID: cafeteriaID,
		MealType:    int(mealType),
		Hour:        now.Hour(),
		Minute:      now.Minute(),
		Weekday:     int(now.Weekday()),
	})
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Int64("cafeteria_id", cafeteriaID).Msg("discount rule condition could not be evaluated")
		return false, nil
	}
	return ok, nil
}
