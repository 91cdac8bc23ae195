// internal/service/discount/application/dto.go
package application

import "cafeteria/internal/service/discount/domain"

// ActivateRequest is the input of the activation use case.
type ActivateRequest struct {
	UserID      *int64 `json:"userId"`
	CafeteriaID *int64 `json:"cafeteriaId,omitempty"`
}

func (r *ActivateRequest) ToActivation() *domain.ActivationRequest {
	if r == nil {
		return nil
	}
	return &domain.ActivationRequest{UserID: r.UserID, CafeteriaID: r.CafeteriaID}
}

// RedemptionRequest is the input of the validate, commit and cancel use cases.
// MealType stays a pointer so that breakfast (0) is told apart from a missing value.
type RedemptionRequest struct {
	UserID      *int64 `json:"userId"`
	CafeteriaID *int64 `json:"cafeteriaId"`
	MealType    *int   `json:"mealType"`
	Token       string `json:"token"`
}

func (r *RedemptionRequest) ToCandidate() *domain.RedemptionCandidate {
	if r == nil {
		return nil
	}
	c := &domain.RedemptionCandidate{UserID: r.UserID, CafeteriaID: r.CafeteriaID}
	if r.MealType != nil {
		m := domain.MealType(*r.MealType)
		c.MealType = &m
	}
	return c
}

// ActivationResponse and RedemptionResponse are the outputs handed back to the interfaces layer.
type ActivationResponse struct {
	Outcome domain.ActivationOutcome `json:"outcome"`
}

type RedemptionResponse struct {
	Outcome domain.RedemptionOutcome `json:"outcome"`
}
