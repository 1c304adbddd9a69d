package handler

import (
	"context"
	"math"
	"strconv"

	"deposit-ledger/internal/adapter/http/dto"
	"deposit-ledger/internal/core/domain"
	"deposit-ledger/internal/core/ports"
	"deposit-ledger/pkg/apperror"
	"deposit-ledger/pkg/lamports"
	"deposit-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// AccountHandler serves account lifecycle, postings and statements.
type AccountHandler struct {
	ledger    ports.LedgerService
	registry  ports.AddressRegistry
	reporting ports.ReportingService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(ledger ports.LedgerService, registry ports.AddressRegistry, reporting ports.ReportingService) *AccountHandler {
	return &AccountHandler{
		ledger:    ledger,
		registry:  registry,
		reporting: reporting,
	}
}

// accountID parses the :id path parameter.
func accountID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, apperror.Validation("account id must be a positive integer"))
		return 0, false
	}
	return id, true
}

// Create handles POST /api/v1/accounts. It is idempotent per external id.
func (h *AccountHandler) Create(c *gin.Context) {
	var req dto.CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	account, err := h.ledger.EnsureAccount(c.Request.Context(), req.ExternalID, req.ReferrerExternalID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewAccountResponse(account))
}

// Get handles GET /api/v1/accounts/:id.
func (h *AccountHandler) Get(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	account, err := h.ledger.GetAccount(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewAccountResponse(account))
}

// ProvisionAddress handles POST /api/v1/accounts/:id/address.
func (h *AccountHandler) ProvisionAddress(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	address, err := h.registry.GetOrCreateAddress(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.AddressResponse{AccountID: id, Address: address})
}

// Balance handles GET /api/v1/accounts/:id/balance.
func (h *AccountHandler) Balance(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	balance, err := h.ledger.GetBalance(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.BalanceResponse{
		AccountID:  id,
		Balance:    balance,
		BalanceSOL: lamports.Format(balance, 9),
	})
}

// Credit handles POST /api/v1/accounts/:id/credits.
func (h *AccountHandler) Credit(c *gin.Context) {
	h.post(c, h.ledger.Credit)
}

// Debit handles POST /api/v1/accounts/:id/debits.
func (h *AccountHandler) Debit(c *gin.Context) {
	h.post(c, h.ledger.Debit)
}

func (h *AccountHandler) post(c *gin.Context, apply func(context.Context, ports.EntryRequest) (*ports.PostingResult, error)) {
	id, ok := accountID(c)
	if !ok {
		return
	}

	var req dto.PostingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	amount, err := req.Lamports()
	if err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	result, err := apply(c.Request.Context(), ports.EntryRequest{
		AccountID: id,
		Amount:    amount,
		Category:  domain.EntryCategory(req.Category),
		Tag:       req.Tag,
		OrderRef:  req.OrderRef,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.PostingResponse{
		Entry:   dto.NewEntryResponse(&result.Entry),
		Balance: result.Balance,
	})
}

// Purchase handles POST /api/v1/accounts/:id/purchases.
func (h *AccountHandler) Purchase(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}

	var req dto.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	result, err := h.ledger.Purchase(c.Request.Context(), ports.PurchaseRequest{
		AccountID: id,
		OrderRef:  req.OrderRef,
		UnitPrice: req.UnitPrice,
		Quantity:  req.Quantity,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.PurchaseResponse{
		OrderRef:   req.OrderRef,
		Charged:    result.Charged,
		Discount:   result.Discount,
		Balance:    result.Balance,
		Commission: result.Commission,
		ReferrerID: result.ReferrerID,
	})
}

// Entries handles GET /api/v1/accounts/:id/entries?category=&page=&page_size=.
func (h *AccountHandler) Entries(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	params := ports.EntryListParams{AccountID: id, Page: page, PageSize: pageSize}
	if raw := c.Query("category"); raw != "" {
		category := domain.EntryCategory(raw)
		params.Category = &category
	}

	entries, total, err := h.reporting.Statement(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	// Statement clamps paging; echo the values it used.
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 {
		params.PageSize = 20
	}
	if params.PageSize > 100 {
		params.PageSize = 100
	}

	items := make([]dto.EntryResponse, len(entries))
	for i := range entries {
		items[i] = dto.NewEntryResponse(&entries[i])
	}

	response.OK(c, dto.EntryListResponse{
		Items:      items,
		Total:      total,
		Page:       params.Page,
		PageSize:   params.PageSize,
		TotalPages: int(math.Ceil(float64(total) / float64(params.PageSize))),
	})
}

// Referrals handles GET /api/v1/accounts/:id/referrals.
func (h *AccountHandler) Referrals(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	stats, err := h.reporting.ReferralStats(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, stats)
}

// Reconciliation handles GET /api/v1/accounts/:id/reconciliation.
func (h *AccountHandler) Reconciliation(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	check, err := h.reporting.CheckBalance(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, check)
}
