package handlers

import (
	"context"
	"errors"

	"github.com/fasthttp/router"
	"github.com/wfmiles/miles-ledger/internal/model"
	"github.com/wfmiles/miles-ledger/internal/services"
	xhttp "github.com/wfmiles/miles-ledger/pkg/http"
	"github.com/wfmiles/miles-ledger/pkg/prom"
)

type SubscriptionService interface {
	CreateSubscription(ctx context.Context, p model.SubscriptionCreateRequest) (*model.Subscription, error)
	ProcessMonthlyCredit(ctx context.Context, subscriptionID int64, period string) (*model.Transaction, error)
	CorrectSubscription(ctx context.Context, p model.SubscriptionCreateRequest) (*services.CorrectionResult, error)
	ListActiveSubscriptions(ctx context.Context) ([]*model.Subscription, error)
}

type SubscriptionHandler struct {
	svc SubscriptionService
}

func NewSubscriptionHandler(svc SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{svc: svc}
}

func RegisterSubscriptionRoutes(e *router.Group, h *SubscriptionHandler) {
	e.POST("/subscriptions", h.CreateSubscription)
	e.GET("/subscriptions", h.ListSubscriptions)
	e.POST("/subscriptions/correct", h.CorrectSubscription)
	e.POST("/subscriptions/{id}/credit", h.ProcessMonthlyCredit)
}

func (h *SubscriptionHandler) CreateSubscription(ctx *xhttp.RequestCtx) {
	var req model.SubscriptionCreateRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	sub, err := h.svc.CreateSubscription(ctx, req)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 201, sub)
}

func (h *SubscriptionHandler) CorrectSubscription(ctx *xhttp.RequestCtx) {
	var req model.SubscriptionCreateRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	result, err := h.svc.CorrectSubscription(ctx, req)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, result)
}

func (h *SubscriptionHandler) ListSubscriptions(ctx *xhttp.RequestCtx) {
	subs, err := h.svc.ListActiveSubscriptions(ctx)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, subs)
}

type monthlyCreditRequest struct {
	ReferencePeriod string `json:"reference_period"`
}

type monthlyCreditResponse struct {
	Credited    bool               `json:"credited"`
	Transaction *model.Transaction `json:"transaction,omitempty"`
}

func (h *SubscriptionHandler) ProcessMonthlyCredit(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid subscription id")
		return
	}
	var req monthlyCreditRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	txn, err := h.svc.ProcessMonthlyCredit(ctx, id, req.ReferencePeriod)
	if err != nil {
		// Replays are a success from the caller's point of view: the
		// period is credited, just not by this call.
		if errors.Is(err, services.ErrAlreadyCredited) {
			prom.IncMonthlyCredit("replayed")
			writeJSON(ctx, 200, monthlyCreditResponse{Credited: false})
			return
		}
		writeServiceError(ctx, err)
		return
	}
	prom.IncMonthlyCredit("credited")
	writeJSON(ctx, 201, monthlyCreditResponse{Credited: true, Transaction: txn})
}
