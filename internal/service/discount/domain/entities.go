// internal/service/discount/domain/entities.go
package domain

import "time"

// User is a patron identified by an institutional id.
type User struct {
	ID      int64
	Barcode string
	Token   string
}

// Cafeteria is a dining facility.
type Cafeteria struct {
	ID                   int64
	Name                 string
	DisplayName          string
	SupportsMenu         bool
	SupportsDiscount     bool
	SupportsNotification bool
}

// CafeteriaDiscountRule is the redemption policy of one cafeteria.
// A cafeteria without a rule does not support discounts, whatever Cafeteria.SupportsDiscount says.
type CafeteriaDiscountRule struct {
	CafeteriaID int64

	// Token is the terminal secret, bcrypt-hashed when hashing is enabled.
	Token string

	// AvailableMealTypes is a bitmask over MealType.Bit().
	AvailableMealTypes int

	// MealTimeRanges optionally narrows a meal to a time window. Raw "HH:MM-HH:MM" strings
	// are kept so that a broken row fails the check instead of failing the load.
	MealTimeRanges map[MealType]string

	// Condition is an optional boolean expression evaluated against a RuleFact.
	Condition string
}

// UserDiscountStatus holds the activation and tagging timestamps of one user.
// A missing row is equivalent to both timestamps being nil.
type UserDiscountStatus struct {
	UserID                int64
	LastBarcodeActivation *time.Time
	LastBarcodeTagging    *time.Time
}

// DiscountTransaction is an immutable redemption record.
type DiscountTransaction struct {
	ID          int64
	UserID      int64
	CafeteriaID int64
	MealType    MealType
	Timestamp   time.Time
}

// RedemptionCandidate is a redemption request as received from a terminal.
// Every field is nullable so that an absent value is never confused with zero.
type RedemptionCandidate struct {
	UserID      *int64
	CafeteriaID *int64
	MealType    *MealType
}

// ActivationRequest asks for a user's barcode to be activated.
// CafeteriaID is optional; when present the cafeteria must support discounts.
type ActivationRequest struct {
	UserID      *int64
	CafeteriaID *int64
}

// RuleFact is what a rule condition is evaluated against.
type RuleFact struct {
	UserID      int64 `json:"user_id"`
	CafeteriaID int64 `json:"cafeteria_id"`
	MealType    int   `json:"meal_type"`
	Hour        int   `json:"hour"`
	Minute      int   `json:"minute"`
	Weekday     int   `json:"weekday"`
}
