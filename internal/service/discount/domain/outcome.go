// internal/service/discount/domain/outcome.go
package domain

import "errors"

// ActivationOutcome is the closed set of results of a barcode activation.
type ActivationOutcome string

const (
	ActivationOK                    ActivationOutcome = "OK"
	ActivationAlreadyDone           ActivationOutcome = "ALREADY_DONE"
	ActivationNotEligible           ActivationOutcome = "NOT_ELIGIBLE"
	ActivationUserNotFound          ActivationOutcome = "USER_NOT_FOUND"
	ActivationCafeteriaNotSupported ActivationOutcome = "CAFETERIA_NOT_SUPPORTED"
	ActivationStoreError            ActivationOutcome = "STORE_ERROR"
)

// RedemptionOutcome is the closed set of results of validating, committing or cancelling a redemption.
type RedemptionOutcome string

const (
	RedemptionSuccess               RedemptionOutcome = "SUCCESS"
	RedemptionMalformedRequest      RedemptionOutcome = "MALFORMED_REQUEST"
	RedemptionTokenInvalid          RedemptionOutcome = "TOKEN_INVALID"
	RedemptionNotInMealTime         RedemptionOutcome = "NOT_IN_MEAL_TIME"
	RedemptionCafeteriaNotSupported RedemptionOutcome = "CAFETERIA_NOT_SUPPORTED"
	RedemptionConditionNotMet       RedemptionOutcome = "CONDITION_NOT_MET"
	RedemptionBarcodeNotActive      RedemptionOutcome = "BARCODE_NOT_ACTIVE"
	RedemptionUsedTooRecently       RedemptionOutcome = "USED_TOO_RECENTLY"
	RedemptionAlreadyDone           RedemptionOutcome = "ALREADY_DONE"
	RedemptionStoreError            RedemptionOutcome = "STORE_ERROR"
)

// ActivationOutcomeOf maps an error returned by an activation chain to its outcome.
// Anything that is not a known business rejection is an infrastructure failure.
func ActivationOutcomeOf(err error) ActivationOutcome {
	switch {
	case err == nil:
		return ActivationOK
	case errors.Is(err, ErrMalformedRequest):
		return ActivationNotEligible
	case errors.Is(err, ErrUserNotFound):
		return ActivationUserNotFound
	case errors.Is(err, ErrCafeteriaNotSupported):
		return ActivationCafeteriaNotSupported
	case errors.Is(err, ErrNotFirstToday):
		return ActivationAlreadyDone
	default:
		return ActivationStoreError
	}
}

// RedemptionOutcomeOf maps an error returned by a redemption chain to its outcome.
func RedemptionOutcomeOf(err error) RedemptionOutcome {
	switch {
	case err == nil:
		return RedemptionSuccess
	case errors.Is(err, ErrMalformedRequest):
		return RedemptionMalformedRequest
	case errors.Is(err, ErrTokenInvalid):
		return RedemptionTokenInvalid
	case errors.Is(err, ErrNotInMealTime):
		return RedemptionNotInMealTime
	case errors.Is(err, ErrCafeteriaNotSupported):
		return RedemptionCafeteriaNotSupported
	case errors.Is(err, ErrConditionNotMet):
		return RedemptionConditionNotMet
	case errors.Is(err, ErrBarcodeNotActive):
		return RedemptionBarcodeNotActive
	case errors.Is(err, ErrUsedTooRecently):
		return RedemptionUsedTooRecently
	case errors.Is(err, ErrTransactionExists):
		return RedemptionAlreadyDone
	default:
		return RedemptionStoreError
	}
}
