package handlers

import (
	"context"
	"strings"

	"github.com/fasthttp/router"
	"github.com/wfmiles/miles-ledger/internal/model"
	"github.com/wfmiles/miles-ledger/internal/services"
	xhttp "github.com/wfmiles/miles-ledger/pkg/http"
)

type RegistryService interface {
	CreateAccount(ctx context.Context, p model.AccountCreateRequest) (*model.Account, error)
	GetAccount(ctx context.Context, id int64) (*model.Account, error)
	CreatePrograms(ctx context.Context, reqs []services.ProgramCreateRequest) ([]*model.Program, error)
	ListPrograms(ctx context.Context, onlyActive bool) ([]*model.Program, error)
}

type RegistryHandler struct {
	svc RegistryService
}

func NewRegistryHandler(svc RegistryService) *RegistryHandler {
	return &RegistryHandler{svc: svc}
}

func RegisterRegistryRoutes(e *router.Group, h *RegistryHandler) {
	e.POST("/accounts", h.CreateAccount)
	e.GET("/accounts/{id}", h.GetAccount)
	e.POST("/programs", h.CreatePrograms)
	e.GET("/programs", h.ListPrograms)
}

func (h *RegistryHandler) CreateAccount(ctx *xhttp.RequestCtx) {
	var req model.AccountCreateRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	acc, err := h.svc.CreateAccount(ctx, req)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 201, acc)
}

func (h *RegistryHandler) GetAccount(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid account id")
		return
	}
	acc, err := h.svc.GetAccount(ctx, id)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, acc)
}

type createProgramsRequest struct {
	Programs []services.ProgramCreateRequest `json:"programs"`
}

func (h *RegistryHandler) CreatePrograms(ctx *xhttp.RequestCtx) {
	var req createProgramsRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	if len(req.Programs) == 0 {
		writeError(ctx, 400, "programs list is empty")
		return
	}
	created, err := h.svc.CreatePrograms(ctx, req.Programs)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 201, created)
}

func (h *RegistryHandler) ListPrograms(ctx *xhttp.RequestCtx) {
	onlyActive := !strings.EqualFold(query(ctx, "include_inactive"), "true")
	programs, err := h.svc.ListPrograms(ctx, onlyActive)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, programs)
}
