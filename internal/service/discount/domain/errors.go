package domain

import "errors"

// Business rejections. These are expected outcomes, never infrastructure failures.
var (
	ErrMalformedRequest      = errors.New("discount request is malformed")
	ErrUserNotFound          = errors.New("user not found")
	ErrCafeteriaNotSupported = errors.New("cafeteria does not support discount")
	ErrTokenInvalid          = errors.New("cafeteria token is invalid")
	ErrNotInMealTime         = errors.New("not in meal time")
	ErrConditionNotMet       = errors.New("cafeteria discount condition not met")
	ErrBarcodeNotActive      = errors.New("barcode is not active")
	ErrUsedTooRecently       = errors.New("barcode was used too recently")
	ErrNotFirstToday         = errors.New("discount already used today")
)

// ErrTransactionExists is returned by a TransactionStore when the per-day uniqueness
// constraint on (user, cafeteria, date) rejects a write.
var ErrTransactionExists = errors.New("discount transaction already exists")
