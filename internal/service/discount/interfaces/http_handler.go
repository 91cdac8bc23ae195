package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"cafeteria/internal/pkg/logger"
	"cafeteria/internal/service/discount/application"
	"cafeteria/internal/service/discount/domain"
)

// TokenHeader carries the terminal token of GET /discount/validate.
const TokenHeader = "X-Terminal-Token"

const maxBodyBytes = 4 << 10

// DiscountUseCases is what the HTTP layer needs from the application service.
type DiscountUseCases interface {
	ActivateBarcode(ctx context.Context, req *domain.ActivationRequest) domain.ActivationOutcome
	ValidateRedemption(ctx context.Context, candidate *domain.RedemptionCandidate, plainToken string) domain.RedemptionOutcome
	CommitRedemption(ctx context.Context, candidate *domain.RedemptionCandidate, plainToken string) domain.RedemptionOutcome
	CancelRedemption(ctx context.Context, candidate *domain.RedemptionCandidate, plainToken string) domain.RedemptionOutcome
}

// DiscountHandler is a thin JSON adapter over DiscountUseCases.
type DiscountHandler struct {
	service  DiscountUseCases
	gatherer prometheus.Gatherer
}

// NewDiscountHandler serves /metrics from gatherer, or from the default registry when nil.
func NewDiscountHandler(service DiscountUseCases, gatherer prometheus.Gatherer) *DiscountHandler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &DiscountHandler{service: service, gatherer: gatherer}
}

func (h *DiscountHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("POST /discount/activate", h.handleActivate)
	mux.HandleFunc("GET /discount/validate", h.handleValidate)
	mux.HandleFunc("POST /discount/commit", h.handleCommit)
	mux.HandleFunc("POST /discount/cancel", h.handleCancel)
}

func extract(r *http.Request) context.Context {
	return otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
}

func (h *DiscountHandler) handleActivate(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)

	var req application.ActivateRequest
	if err := decodeBody(w, r, &req); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("invalid activation body")
		writeJSON(w, http.StatusBadRequest, application.ActivationResponse{Outcome: domain.ActivationNotEligible})
		return
	}

	outcome := h.service.ActivateBarcode(ctx, req.ToActivation())
	if outcome == domain.ActivationOK {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, ActivationStatus(outcome), application.ActivationResponse{Outcome: outcome})
}

func (h *DiscountHandler) handleValidate(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)
	q := r.URL.Query()

	req := application.RedemptionRequest{
		UserID:      queryInt64(q.Get("userId")),
		CafeteriaID: queryInt64(q.Get("cafeteriaId")),
		Token:       r.Header.Get(TokenHeader),
	}
	if m := queryInt64(q.Get("mealType")); m != nil {
		meal := int(*m)
		req.MealType = &meal
	}

	outcome := h.service.ValidateRedemption(ctx, req.ToCandidate(), req.Token)
	writeJSON(w, RedemptionStatus(outcome), application.RedemptionResponse{Outcome: outcome})
}

func (h *DiscountHandler) handleCommit(w http.ResponseWriter, r *http.Request) {
	h.handleRedemption(w, r, h.service.CommitRedemption)
}

func (h *DiscountHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.handleRedemption(w, r, h.service.CancelRedemption)
}

type redemptionFunc func(ctx context.Context, candidate *domain.RedemptionCandidate, plainToken string) domain.RedemptionOutcome

func (h *DiscountHandler) handleRedemption(w http.ResponseWriter, r *http.Request, run redemptionFunc) {
	ctx := extract(r)

	var req application.RedemptionRequest
	if err := decodeBody(w, r, &req); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("invalid redemption body")
		writeJSON(w, http.StatusBadRequest, application.RedemptionResponse{Outcome: domain.RedemptionMalformedRequest})
		return
	}

	outcome := run(ctx, req.ToCandidate(), req.Token)
	writeJSON(w, RedemptionStatus(outcome), application.RedemptionResponse{Outcome: outcome})
}

// ActivationStatus maps an activation outcome to its HTTP status.
func ActivationStatus(o domain.ActivationOutcome) int {
	switch o {
	case domain.ActivationOK:
		return http.StatusNoContent
	case domain.ActivationNotEligible:
		return http.StatusBadRequest
	case domain.ActivationUserNotFound:
		return http.StatusNotFound
	case domain.ActivationStoreError:
		return http.StatusInternalServerError
	default:
		return http.StatusForbidden
	}
}

// RedemptionStatus maps a redemption outcome to its HTTP status.
func RedemptionStatus(o domain.RedemptionOutcome) int {
	switch o {
	case domain.RedemptionSuccess:
		return http.StatusOK
	case domain.RedemptionMalformedRequest:
		return http.StatusBadRequest
	case domain.RedemptionTokenInvalid:
		return http.StatusUnauthorized
	case domain.RedemptionStoreError:
		return http.StatusInternalServerError
	default:
		return http.StatusForbidden
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func queryInt64(s string) *int64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
