package port

import (
	"context"
	"time"
)

// EventType names a discount domain event.
type EventType string

const (
	EventBarcodeActivated  EventType = "BARCODE_ACTIVATED"
	EventDiscountRedeemed  EventType = "DISCOUNT_REDEEMED"
	EventDiscountCancelled EventType = "DISCOUNT_CANCELLED"
)

// DiscountEvent is published after a state change has been committed.
type DiscountEvent struct {
	EventID     string    `json:"event_id"`
	Type        EventType `json:"type"`
	UserID      int64     `json:"user_id"`
	Barcode     string    `json:"barcode,omitempty"`
	CafeteriaID int64     `json:"cafeteria_id,omitempty"`
	MealType    *int      `json:"meal_type,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// EventPublisher is the outbound port for discount events.
type EventPublisher interface {
	Publish(ctx context.Context, event *DiscountEvent) error
}
