package infrastructure

import (
	"database/sql"
	"time"

	"cafeteria/internal/service/discount/domain"
)

const dateLayout = "2006-01-02"

// discountDate is the store's day boundary: the calendar date of t in t's own location.
func discountDate(t time.Time) string {
	return t.Format(dateLayout)
}

func ToDomainUser(model *UserModel) *domain.User {
	if model == nil {
		return nil
	}
	return &domain.User{ID: model.ID, Barcode: model.Barcode, Token: model.Token}
}

func ToDomainCafeteria(model *CafeteriaModel) *domain.Cafeteria {
	if model == nil {
		return nil
	}
	return &domain.Cafeteria{
		ID:                   model.ID,
		Name:                 model.Name,
		DisplayName:          model.DisplayName,
		SupportsMenu:         model.SupportsMenu,
		SupportsDiscount:     model.SupportsDiscount,
		SupportsNotification: model.SupportsNotification,
	}
}

func ToDomainDiscountRule(model *CafeteriaDiscountRuleModel) *domain.CafeteriaDiscountRule {
	if model == nil {
		return nil
	}
	rule := &domain.CafeteriaDiscountRule{
		CafeteriaID:        model.CafeteriaID,
		Token:              model.Token,
		AvailableMealTypes: model.AvailableMealTypes,
		Condition:          model.Condition,
	}
	ranges := map[domain.MealType]string{}
	for meal, raw := range map[domain.MealType]string{
		domain.MealBreakfast: model.BreakfastTime,
		domain.MealLunch:     model.LunchTime,
		domain.MealDinner:    model.DinnerTime,
	} {
		if raw != "" {
			ranges[meal] = raw
		}
	}
	if len(ranges) > 0 {
		rule.MealTimeRanges = ranges
	}
	return rule
}

func fromDomainDiscountRule(rule *domain.CafeteriaDiscountRule) *CafeteriaDiscountRuleModel {
	if rule == nil {
		return nil
	}
	return &CafeteriaDiscountRuleModel{
		CafeteriaID:        rule.CafeteriaID,
		Token:              rule.Token,
		AvailableMealTypes: rule.AvailableMealTypes,
		BreakfastTime:      rule.MealTimeRanges[domain.MealBreakfast],
		LunchTime:          rule.MealTimeRanges[domain.MealLunch],
		DinnerTime:         rule.MealTimeRanges[domain.MealDinner],
		Condition:          rule.Condition,
	}
}

func ToDomainDiscountStatus(model *UserDiscountStatusModel) *domain.UserDiscountStatus {
	if model == nil {
		return nil
	}
	return &domain.UserDiscountStatus{
		UserID:                model.UserID,
		LastBarcodeActivation: nullTimePtr(model.LastBarcodeActivation),
		LastBarcodeTagging:    nullTimePtr(model.LastBarcodeTagging),
	}
}

func ToDomainTransaction(model *DiscountTransactionModel) *domain.DiscountTransaction {
	if model == nil {
		return nil
	}
	return &domain.DiscountTransaction{
		ID:          model.ID,
		UserID:      model.UserID,
		CafeteriaID: model.CafeteriaID,
		MealType:    domain.MealType(model.MealType),
		Timestamp:   model.Timestamp,
	}
}

func FromDomainTransaction(tx *domain.DiscountTransaction) *DiscountTransactionModel {
	if tx == nil {
		return nil
	}
	return &DiscountTransactionModel{
		ID:           tx.ID,
		UserID:       tx.UserID,
		CafeteriaID:  tx.CafeteriaID,
		DiscountDate: discountDate(tx.Timestamp),
		MealType:     int(tx.MealType),
		Timestamp:    tx.Timestamp,
	}
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
