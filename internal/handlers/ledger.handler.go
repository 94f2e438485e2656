package handlers

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/wfmiles/miles-ledger/internal/model"
	"github.com/wfmiles/miles-ledger/internal/services"
	xhttp "github.com/wfmiles/miles-ledger/pkg/http"
	"github.com/wfmiles/miles-ledger/pkg/prom"
)

type LedgerService interface {
	RegisterTransaction(ctx context.Context, p model.TransactionCreateRequest) (*model.Transaction, error)
	RegisterComplexTransfer(ctx context.Context, p model.ComplexTransferRequest) (*model.Transaction, error)
	RegisterIntraClubTransaction(ctx context.Context, p model.IntraClubRequest) (*model.Transaction, error)
}

type UndoService interface {
	PreviewDeleteLastTransaction(ctx context.Context, accountID, programID int64) (*services.DeleteHandle, error)
	ConfirmDeleteTransaction(ctx context.Context, token string) (*model.Transaction, error)
}

type LedgerHandler struct {
	svc  LedgerService
	undo UndoService
}

func NewLedgerHandler(svc LedgerService, undo UndoService) *LedgerHandler {
	return &LedgerHandler{svc: svc, undo: undo}
}

func RegisterLedgerRoutes(e *router.Group, h *LedgerHandler) {
	e.POST("/transactions", h.RegisterTransaction)
	e.POST("/transactions/transfer", h.RegisterComplexTransfer)
	e.POST("/transactions/intra-club", h.RegisterIntraClub)
	e.POST("/transactions/last/preview-delete", h.PreviewDelete)
	e.POST("/transactions/confirm-delete", h.ConfirmDelete)
}

func (h *LedgerHandler) RegisterTransaction(ctx *xhttp.RequestCtx) {
	var req model.TransactionCreateRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	txn, err := h.svc.RegisterTransaction(ctx, req)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	prom.IncTransactionRegistered(string(txn.Mode))
	writeJSON(ctx, 201, txn)
}

func (h *LedgerHandler) RegisterComplexTransfer(ctx *xhttp.RequestCtx) {
	var req model.ComplexTransferRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	txn, err := h.svc.RegisterComplexTransfer(ctx, req)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	prom.IncTransactionRegistered(string(txn.Mode))
	writeJSON(ctx, 201, txn)
}

func (h *LedgerHandler) RegisterIntraClub(ctx *xhttp.RequestCtx) {
	var req model.IntraClubRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	txn, err := h.svc.RegisterIntraClubTransaction(ctx, req)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	prom.IncTransactionRegistered(string(txn.Mode))
	writeJSON(ctx, 201, txn)
}

type previewDeleteRequest struct {
	AccountID int64 `json:"account_id"`
	ProgramID int64 `json:"program_id"`
}

func (h *LedgerHandler) PreviewDelete(ctx *xhttp.RequestCtx) {
	var req previewDeleteRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	handle, err := h.undo.PreviewDeleteLastTransaction(ctx, req.AccountID, req.ProgramID)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, handle)
}

type confirmDeleteRequest struct {
	Token string `json:"token"`
}

func (h *LedgerHandler) ConfirmDelete(ctx *xhttp.RequestCtx) {
	var req confirmDeleteRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	if req.Token == "" {
		writeError(ctx, 400, "token is required")
		return
	}
	deleted, err := h.undo.ConfirmDeleteTransaction(ctx, req.Token)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, deleted)
}
