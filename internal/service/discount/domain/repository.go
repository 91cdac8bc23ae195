// internal/service/discount/domain/repository.go
package domain

import (
	"context"
	"time"
)

// TransactionStore is the persistence contract the rule engine needs for discount state.
// Lookups return (nil, nil) when the row does not exist.
type TransactionStore interface {
	GetUserDiscountStatus(ctx context.Context, userID int64) (*UserDiscountStatus, error)
	GetCafeteriaDiscountRule(ctx context.Context, cafeteriaID int64) (*CafeteriaDiscountRule, error)

	// GetTodaysTransactions returns the user's transactions of the calendar day of now,
	// across all cafeterias.
	GetTodaysTransactions(ctx context.Context, userID int64, now time.Time) ([]*DiscountTransaction, error)

	// WriteTransaction appends a record. It returns ErrTransactionExists when the user
	// already has a transaction at that cafeteria on that day.
	WriteTransaction(ctx context.Context, tx *DiscountTransaction) error

	// RemoveTransaction deletes the user's transaction at tx.CafeteriaID on the day of tx.Timestamp.
	RemoveTransaction(ctx context.Context, tx *DiscountTransaction) error

	SetLastActivation(ctx context.Context, userID int64, now time.Time) error
	SetLastTagging(ctx context.Context, userID int64, now time.Time) error
}

// CafeteriaStore reads cafeterias.
type CafeteriaStore interface {
	GetCafeteriaByID(ctx context.Context, id int64) (*Cafeteria, error)
}

// UserStore reads users.
type UserStore interface {
	GetUserByID(ctx context.Context, id int64) (*User, error)
}
