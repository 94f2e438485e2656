package handlers

import (
	"context"
	"strconv"

	"github.com/fasthttp/router"
	"github.com/wfmiles/miles-ledger/internal/model"
	"github.com/wfmiles/miles-ledger/internal/services"
	xhttp "github.com/wfmiles/miles-ledger/pkg/http"
)

type ReconcileService interface {
	GetCurrentCPM(ctx context.Context, accountID, programID int64) (*model.CpmPosition, error)
	GetAccountBalance(ctx context.Context, accountID int64) ([]*model.ProgramBalance, error)
	CreateCheckpoint(ctx context.Context, p services.CheckpointRequest) (*model.CpmCheckpoint, error)
	ApplyCpmAdjustment(ctx context.Context, p services.CpmAdjustmentRequest) (*model.CpmCheckpoint, error)
	ListCheckpoints(ctx context.Context, accountID, programID int64, limit int) ([]*model.CpmCheckpoint, error)
}

type ReconcileHandler struct {
	svc ReconcileService
}

func NewReconcileHandler(svc ReconcileService) *ReconcileHandler {
	return &ReconcileHandler{svc: svc}
}

func RegisterReconcileRoutes(e *router.Group, h *ReconcileHandler) {
	e.GET("/cpm", h.GetCurrentCPM)
	e.GET("/accounts/{id}/balance", h.GetAccountBalance)
	e.POST("/checkpoints", h.CreateCheckpoint)
	e.GET("/checkpoints", h.ListCheckpoints)
	e.POST("/adjustments", h.ApplyCpmAdjustment)
}

func (h *ReconcileHandler) GetCurrentCPM(ctx *xhttp.RequestCtx) {
	accountID, err := queryInt64(ctx, "account_id")
	if err != nil {
		writeError(ctx, 400, "account_id is required")
		return
	}
	programID, err := queryInt64(ctx, "program_id")
	if err != nil {
		writeError(ctx, 400, "program_id is required")
		return
	}
	pos, err := h.svc.GetCurrentCPM(ctx, accountID, programID)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, pos)
}

type balanceResponse struct {
	AccountID int64                   `json:"account_id"`
	Programs  []*model.ProgramBalance `json:"programs"`
}

func (h *ReconcileHandler) GetAccountBalance(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid account id")
		return
	}
	balances, err := h.svc.GetAccountBalance(ctx, id)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, balanceResponse{AccountID: id, Programs: balances})
}

func (h *ReconcileHandler) CreateCheckpoint(ctx *xhttp.RequestCtx) {
	var req services.CheckpointRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	cp, err := h.svc.CreateCheckpoint(ctx, req)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 201, cp)
}

func (h *ReconcileHandler) ListCheckpoints(ctx *xhttp.RequestCtx) {
	accountID, err := queryInt64(ctx, "account_id")
	if err != nil {
		writeError(ctx, 400, "account_id is required")
		return
	}
	programID, err := queryInt64(ctx, "program_id")
	if err != nil {
		writeError(ctx, 400, "program_id is required")
		return
	}
	limit := 0
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			limit = n
		}
	}
	list, err := h.svc.ListCheckpoints(ctx, accountID, programID, limit)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, list)
}

func (h *ReconcileHandler) ApplyCpmAdjustment(ctx *xhttp.RequestCtx) {
	var req services.CpmAdjustmentRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	cp, err := h.svc.ApplyCpmAdjustment(ctx, req)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 201, cp)
}
