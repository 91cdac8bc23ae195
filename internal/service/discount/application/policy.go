package application

import "time"

// Policy holds the tunable limits of the discount workflow.
type Policy struct {
	// BarcodeActiveDuration is how long an activated barcode may be redeemed.
	BarcodeActiveDuration time.Duration `yaml:"barcode_active_duration"`
	// TaggingMinInterval is the minimum time between two taggings of the same barcode.
	TaggingMinInterval time.Duration `yaml:"tagging_min_interval"`
	// RequireFirstToday rejects an activation when the user already redeemed a discount today.
	RequireFirstToday bool `yaml:"require_first_today"`
	// OperationTimeout bounds one workflow call including every store round trip. Zero disables it.
	OperationTimeout time.Duration `yaml:"operation_timeout"`
	// PublishTimeout bounds the event publish that follows a successful operation. Zero disables it.
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

func DefaultPolicy() Policy {
	return Policy{
		BarcodeActiveDuration: 10 * time.Minute,
		TaggingMinInterval:    15 * time.Second,
		RequireFirstToday:     true,
		OperationTimeout:      5 * time.Second,
		PublishTimeout:        time.Second,
	}
}
