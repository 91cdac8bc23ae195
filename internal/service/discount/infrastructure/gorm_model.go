package infrastructure

import (
	"database/sql"
	"time"
)

// UserModel maps the user table.
type UserModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement:false"`
	Barcode   string `gorm:"size:64"`
	Token     string `gorm:"size:255"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (UserModel) TableName() string {
	return "user"
}

// CafeteriaModel maps the cafeteria table.
type CafeteriaModel struct {
	ID                   int64  `gorm:"primaryKey;autoIncrement:false"`
	Name                 string `gorm:"size:64"`
	DisplayName          string `gorm:"size:128"`
	SupportsMenu         bool
	SupportsDiscount     bool
	SupportsNotification bool
}

func (CafeteriaModel) TableName() string {
	return "cafeteria"
}

// CafeteriaDiscountRuleModel maps the cafeteria_discount_rule table. The three *_time columns hold
// optional "HH:MM-HH:MM" windows.
type CafeteriaDiscountRuleModel struct {
	CafeteriaID        int64  `gorm:"primaryKey;autoIncrement:false"`
	Token              string `gorm:"size:255"`
	AvailableMealTypes int
	BreakfastTime      string `gorm:"size:11"`
	LunchTime          string `gorm:"size:11"`
	DinnerTime         string `gorm:"size:11"`
	Condition          string `gorm:"column:condition_expr;type:text"`
}

func (CafeteriaDiscountRuleModel) TableName() string {
	return "cafeteria_discount_rule"
}

// UserDiscountStatusModel maps the user_discount_status table. Rows are upserted, never deleted.
type UserDiscountStatusModel struct {
	UserID                int64 `gorm:"primaryKey;autoIncrement:false"`
	LastBarcodeActivation sql.NullTime
	LastBarcodeTagging    sql.NullTime
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (UserDiscountStatusModel) TableName() string {
	return "user_discount_status"
}

// DiscountTransactionModel maps the discount_transaction table.
// DiscountDate is the calendar day of Timestamp ("2006-01-02") and carries the per-day uniqueness.
type DiscountTransactionModel struct {
	ID           int64  `gorm:"primaryKey"`
	UserID       int64  `gorm:"uniqueIndex:uk_user_cafeteria_date,priority:1;index:idx_user_date,priority:1"`
	CafeteriaID  int64  `gorm:"uniqueIndex:uk_user_cafeteria_date,priority:2"`
	DiscountDate string `gorm:"size:10;uniqueIndex:uk_user_cafeteria_date,priority:3;index:idx_user_date,priority:2"`
	MealType     int    `gorm:"type:tinyint"`
	Timestamp    time.Time
}

func (DiscountTransactionModel) TableName() string {
	return "discount_transaction"
}

// Models lists every table of the discount schema, in creation order.
func Models() []any {
	return []any{
		&UserModel{},
		&CafeteriaModel{},
		&CafeteriaDiscountRuleModel{},
		&UserDiscountStatusModel{},
		&DiscountTransactionModel{},
	}
}
