package rpc

import (
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"escrowd/native/escrow"
)

// Amounts travel as decimal strings so callers never lose precision to JSON
// number parsing. An empty amount means "the full remaining balance" on the
// operations that accept it.

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}

func parseID(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func parseAction(value string) (escrow.CapabilityAction, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "release":
		return escrow.CapabilityActionRelease, nil
	case "refund":
		return escrow.CapabilityActionRefund, nil
	default:
		return 0, fmt.Errorf("invalid capability action %q", value)
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// --- view types ---

type escrowView struct {
	ID           uint64 `json:"id"`
	Depositor    string `json:"depositor"`
	Amount       string `json:"amount"`
	Remaining    string `json:"remaining"`
	Status       string `json:"status"`
	Deadline     int64  `json:"deadline"`
	CreatedAt    int64  `json:"createdAt"`
	Frozen       bool   `json:"frozen"`
	FrozenReason string `json:"frozenReason,omitempty"`
}

func newEscrowView(esc *escrow.Escrow) escrowView {
	return escrowView{
		ID:           esc.ID,
		Depositor:    formatAddress(esc.Depositor),
		Amount:       formatAmount(esc.Amount),
		Remaining:    formatAmount(esc.Remaining),
		Status:       esc.Status.String(),
		Deadline:     esc.Deadline,
		CreatedAt:    esc.CreatedAt,
		Frozen:       esc.Frozen,
		FrozenReason: esc.FrozenReason,
	}
}

type claimView struct {
	EscrowID  uint64 `json:"escrowId"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	ExpiresAt int64  `json:"expiresAt"`
	Claimed   bool   `json:"claimed"`
}

func newClaimView(claim *escrow.ClaimRecord) claimView {
	return claimView{
		EscrowID:  claim.EscrowID,
		Recipient: formatAddress(claim.Recipient),
		Amount:    formatAmount(claim.Amount),
		ExpiresAt: claim.ExpiresAt,
		Claimed:   claim.Claimed,
	}
}

type capabilityView struct {
	ID          uint64  `json:"id"`
	Owner       string  `json:"owner"`
	Holder      string  `json:"holder"`
	Action      string  `json:"action"`
	Scope       *uint64 `json:"scope,omitempty"`
	AmountLimit string  `json:"amountLimit,omitempty"`
	AmountUsed  string  `json:"amountUsed"`
	MaxUses     uint64  `json:"maxUses"`
	Uses        uint64  `json:"uses"`
	ExpiresAt   int64   `json:"expiresAt"`
	Revoked     bool    `json:"revoked"`
	IssuedAt    int64   `json:"issuedAt"`
}

func newCapabilityView(record *escrow.Capability) capabilityView {
	view := capabilityView{
		ID:         record.ID,
		Owner:      formatAddress(record.Owner),
		Holder:     formatAddress(record.Holder),
		AmountUsed: formatAmount(record.AmountUsed),
		MaxUses:    record.MaxUses,
		Uses:       record.Uses,
		ExpiresAt:  record.ExpiresAt,
		Revoked:    record.Revoked,
		IssuedAt:   record.IssuedAt,
	}
	switch record.Action {
	case escrow.CapabilityActionRelease:
		view.Action = "release"
	case escrow.CapabilityActionRefund:
		view.Action = "refund"
	}
	if record.Scope != nil {
		scope := *record.Scope
		view.Scope = &scope
	}
	if record.AmountLimit != nil {
		view.AmountLimit = record.AmountLimit.String()
	}
	return view
}

type receiptView struct {
	ID        uint64 `json:"id"`
	EscrowID  uint64 `json:"escrowId"`
	Kind      string `json:"kind"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	Timestamp int64  `json:"timestamp"`
}

type splitEntry struct {
	Recipient string `json:"recipient"`
	ShareBps  uint32 `json:"shareBps"`
}

type splitView struct {
	EscrowID      uint64       `json:"escrowId"`
	Beneficiaries []splitEntry `json:"beneficiaries"`
	Active        bool         `json:"active"`
}

func newSplitView(cfg *escrow.SplitConfig) splitView {
	view := splitView{EscrowID: cfg.EscrowID, Active: cfg.Active}
	for _, b := range cfg.Beneficiaries {
		view.Beneficiaries = append(view.Beneficiaries, splitEntry{
			Recipient: formatAddress(b.Recipient),
			ShareBps:  b.ShareBps,
		})
	}
	return view
}

// --- escrow lifecycle ---

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Depositor string `json:"depositor"`
		ID        uint64 `json:"id"`
		Amount    string `json:"amount"`
		Deadline  int64  `json:"deadline"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	depositor, err := parseAddress(req.Depositor)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	esc, err := s.engine.Lock(depositor, req.ID, amount, req.Deadline)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeResult(w, http.StatusCreated, newEscrowView(esc))
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller    string `json:"caller"`
		ID        uint64 `json:"id"`
		Recipient string `json:"recipient"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	recipient, err := parseAddress(req.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	if err := s.engine.Release(caller, req.ID, recipient); err != nil {
		writeEngineError(w, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]uint64{"id": req.ID})
}

func (s *Server) handlePartialRelease(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller    string `json:"caller"`
		ID        uint64 `json:"id"`
		Recipient string `json:"recipient"`
		Amount    string `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	recipient, err := parseAddress(req.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	if err := s.engine.PartialRelease(caller, req.ID, recipient, amount); err != nil {
		writeEngineError(w, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]uint64{"id": req.ID})
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	s.refund(w, r, false)
}

func (s *Server) handleAdminRefund(w http.ResponseWriter, r *http.Request) {
	s.refund(w, r, true)
}

func (s *Server) refund(w http.ResponseWriter, r *http.Request, admin bool) {
	var req struct {
		Caller string `json:"caller"`
		ID     uint64 `json:"id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	if admin {
		err = s.engine.AdminRefund(caller, req.ID)
	} else {
		err = s.engine.Refund(caller, req.ID)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]uint64{"id": req.ID})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	esc, ok := s.engine.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, codeNotFound, "escrow not found")
		return
	}
	writeResult(w, http.StatusOK, newEscrowView(esc))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var criteria escrow.SearchCriteria
	query := r.URL.Query()
	switch strings.ToLower(query.Get("status")) {
	case "":
	case "locked":
		criteria.Status = escrow.StatusLocked
	case "released":
		criteria.Status = escrow.StatusReleased
	case "refunded":
		criteria.Status = escrow.StatusRefunded
	default:
		writeError(w, http.StatusBadRequest, codeInvalidParams, "invalid status filter")
		return
	}
	if raw := query.Get("depositor"); raw != "" {
		depositor, err := parseAddress(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
			return
		}
		criteria.Depositor = &depositor
	}
	var cursor *uint64
	if raw := query.Get("cursor"); raw != "" {
		value, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidParams, "invalid cursor")
			return
		}
		cursor = &value
	}
	limit := 0
	if raw := query.Get("limit"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			writeError(w, http.StatusBadRequest, codeInvalidParams, "invalid limit")
			return
		}
		limit = value
	}
	page := s.engine.Search(criteria, cursor, limit)
	records := make([]escrowView, 0, len(page.Records))
	for _, esc := range page.Records {
		records = append(records, newEscrowView(esc))
	}
	writeResult(w, http.StatusOK, map[string]interface{}{
		"records":    records,
		"nextCursor": page.NextCursor,
		"hasMore":    page.HasMore,
	})
}

// --- batches ---

func (s *Server) handleBatchLock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Items []struct {
			Depositor string `json:"depositor"`
			ID        uint64 `json:"id"`
			Amount    string `json:"amount"`
			Deadline  int64  `json:"deadline"`
		} `json:"items"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	items := make([]escrow.BatchLockItem, 0, len(req.Items))
	for _, item := range req.Items {
		depositor, err := parseAddress(item.Depositor)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
			return
		}
		amount, err := parseAmount(item.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
			return
		}
		items = append(items, escrow.BatchLockItem{
			Depositor: depositor,
			ID:        item.ID,
			Amount:    amount,
			Deadline:  item.Deadline,
		})
	}
	count, err := s.engine.BatchLock(items)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeResult(w, http.StatusCreated, map[string]uint32{"locked": count})
}

func (s *Server) handleBatchRelease(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
		Items  []struct {
			ID        uint64 `json:"id"`
			Recipient string `json:"recipient"`
		} `json:"items"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	items := make([]escrow.BatchReleaseItem, 0, len(req.Items))
	for _, item := range req.Items {
		recipient, err := parseAddress(item.Recipient)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
			return
		}
		items = append(items, escrow.BatchReleaseItem{ID: item.ID, Recipient: recipient})
	}
	count, err := s.engine.BatchRelease(caller, items)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]uint32{"released": count})
}

// --- claims ---

func (s *Server) handleClaimSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Recipient string `json:"recipient"`
		EscrowID  uint64 `json:"escrowId"`
		Amount    string `json:"amount"`
		ExpiresAt int64  `json:"expiresAt"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	recipient, err := parseAddress(req.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	if err := s.engine.SubmitClaim(recipient, req.EscrowID, amount, req.ExpiresAt); err != nil {
		writeEngineError(w, err)
		return
	}
	writeResult(w, http.StatusCreated, map[string]uint64{"escrowId": req.EscrowID})
}

func (s *Server) claimAction(w http.ResponseWriter, r *http.Request, action func(caller [20]byte, escrowID uint64) error) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	var req struct {
		Caller string `json:"caller"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	if err := action(caller, id); err != nil {
		writeEngineError(w, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]uint64{"escrowId": id})
}

func (s *Server) handleClaimApprove(w http.ResponseWriter, r *http.Request) {
	s.claimAction(w, r, s.engine.ApproveClaim)
}

func (s *Server) handleClaimCancel(w http.ResponseWriter, r *http.Request) {
	s.claimAction(w, r, s.engine.CancelClaim)
}

func (s *Server) handleClaimGet(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	claim, ok := s.engine.GetClaim(id)
	if !ok {
		writeError(w, http.StatusNotFound, codeNotFound, "claim not found")
		return
	}
	writeResult(w, http.StatusOK, newClaimView(claim))
}

// --- capabilities ---

func (s *Server) handleCapabilityIssue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner       string  `json:"owner"`
		Holder      string  `json:"holder"`
		Action      string  `json:"action"`
		Scope       *uint64 `json:"scope"`
		AmountLimit string  `json:"amountLimit"`
		MaxUses     uint64  `json:"maxUses"`
		ExpiresAt   int64   `json:"expiresAt"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	owner, err := parseAddress(req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	holder, err := parseAddress(req.Holder)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	action, err := parseAction(req.Action)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	limit, err := parseAmount(req.AmountLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	id, err := s.engine.IssueCapability(owner, holder, action, req.Scope, limit, req.MaxUses, req.ExpiresAt)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeResult(w, http.StatusCreated, map[string]uint64{"id": id})
}

func (s *Server) handleCapabilityRevoke(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	var req struct {
		Caller string `json:"caller"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	if err := s.engine.RevokeCapability(id, caller); err != nil {
		writeEngineError(w, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]uint64{"id": id})
}

func (s *Server) handleCapabilityGet(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	record, ok := s.engine.GetCapability(id)
	if !ok {
		writeError(w, http.StatusNotFound, codeNotFound, "capability not found")
		return
	}
	writeResult(w, http.StatusOK, newCapabilityView(record))
}

func (s *Server) handleCapabilityRelease(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CapabilityID uint64 `json:"capabilityId"`
		Holder       string `json:"holder"`
		EscrowID     uint64 `json:"escrowId"`
		Recipient    string `json:"recipient"`
		Amount       string `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	holder, err := parseAddress(req.Holder)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	recipient, err := parseAddress(req.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	if err := s.engine.ReleaseWithCapability(req.CapabilityID, holder, req.EscrowID, recipient, amount); err != nil {
		writeEngineError(w, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]uint64{"escrowId": req.EscrowID})
}

func (s *Server) handleCapabilityRefund(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CapabilityID uint64 `json:"capabilityId"`
		Holder       string `json:"holder"`
		EscrowID     uint64 `json:"escrowId"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	holder, err := parseAddress(req.Holder)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	if err := s.engine.RefundWithCapability(req.CapabilityID, holder, req.EscrowID); err != nil {
		writeEngineError(w, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]uint64{"escrowId": req.EscrowID})
}

// --- splits ---

func (s *Server) handleSplitSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller        string `json:"caller"`
		EscrowID      uint64 `json:"escrowId"`
		Beneficiaries []struct {
			Recipient string `json:"recipient"`
			ShareBps  uint32 `json:"shareBps"`
		} `json:"beneficiaries"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	beneficiaries := make([]escrow.BeneficiarySplit, 0, len(req.Beneficiaries))
	for _, b := range req.Beneficiaries {
		recipient, err := parseAddress(b.Recipient)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
			return
		}
		beneficiaries = append(beneficiaries, escrow.BeneficiarySplit{
			Recipient: recipient,
			ShareBps:  b.ShareBps,
		})
	}
	if err := s.engine.SetSplitConfig(caller, req.EscrowID, beneficiaries); err != nil {
		writeEngineError(w, err)
		return
	}
	writeResult(w, http.StatusCreated, map[string]uint64{"escrowId": req.EscrowID})
}

func (s *Server) handleSplitDisable(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	var req struct {
		Caller string `json:"caller"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	if err := s.engine.DisableSplitConfig(caller, id); err != nil {
		writeEngineError(w, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]uint64{"escrowId": id})
}

func (s *Server) handleSplitRelease(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	var req struct {
		Caller string `json:"caller"`
		Amount string `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	if err := s.engine.ReleaseSplit(caller, id, amount); err != nil {
		writeEngineError(w, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]uint64{"escrowId": id})
}

func (s *Server) handleSplitGet(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	cfg, ok := s.engine.GetSplitConfig(id)
	if !ok {
		writeError(w, http.StatusNotFound, codeNotFound, "split config not found")
		return
	}
	view := newSplitView(cfg)
	if raw := r.URL.Query().Get("preview"); raw != "" {
		amount, err := parseAmount(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
			return
		}
		allocations, err := s.engine.PreviewSplit(id, amount)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		preview := make([]string, 0, len(allocations))
		for _, v := range allocations {
			preview = append(preview, formatAmount(v))
		}
		writeResult(w, http.StatusOK, map[string]interface{}{"config": view, "preview": preview})
		return
	}
	writeResult(w, http.StatusOK, view)
}

// --- receipts ---

func (s *Server) handleReceiptGet(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	receipt, ok := s.engine.VerifyReceipt(id)
	if !ok {
		writeError(w, http.StatusNotFound, codeNotFound, "receipt not found")
		return
	}
	writeResult(w, http.StatusOK, receiptView{
		ID:        receipt.ID,
		EscrowID:  receipt.EscrowID,
		Kind:      receipt.Kind.String(),
		Recipient: formatAddress(receipt.Recipient),
		Amount:    formatAmount(receipt.Amount),
		Timestamp: receipt.Timestamp,
	})
}

// --- admin ---

func (s *Server) handleSetPaused(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller  string `json:"caller"`
		Lock    bool   `json:"lock"`
		Release bool   `json:"release"`
		Refund  bool   `json:"refund"`
		Reason  string `json:"reason"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	if err := s.engine.SetPaused(caller, req.Lock, req.Release, req.Refund, req.Reason); err != nil {
		writeEngineError(w, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSetAmountPolicy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
		Min    string `json:"min"`
		Max    string `json:"max"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	min, err := parseAmount(req.Min)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	max, err := parseAmount(req.Max)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	if err := s.engine.SetAmountPolicy(caller, min, max); err != nil {
		writeEngineError(w, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSetFees(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller        string `json:"caller"`
		LockFeeBps    uint32 `json:"lockFeeBps"`
		ReleaseFeeBps uint32 `json:"releaseFeeBps"`
		Recipient     string `json:"recipient"`
		Enabled       bool   `json:"enabled"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	var recipient [20]byte
	if strings.TrimSpace(req.Recipient) != "" {
		recipient, err = parseAddress(req.Recipient)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
			return
		}
	}
	if err := s.engine.UpdateFeeConfig(caller, req.LockFeeBps, req.ReleaseFeeBps, recipient, req.Enabled); err != nil {
		writeEngineError(w, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSetTreasury(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller       string `json:"caller"`
		Enabled      bool   `json:"enabled"`
		Destinations []struct {
			Address string `json:"address"`
			Weight  uint64 `json:"weight"`
			Region  string `json:"region"`
		} `json:"destinations"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	destinations := make([]escrow.TreasuryDestination, 0, len(req.Destinations))
	for _, d := range req.Destinations {
		address, err := parseAddress(d.Address)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
			return
		}
		destinations = append(destinations, escrow.TreasuryDestination{
			Address: address,
			Weight:  d.Weight,
			Region:  d.Region,
		})
	}
	if err := s.engine.SetTreasuryDistributions(caller, destinations, req.Enabled); err != nil {
		writeEngineError(w, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSetFilterMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
		Mode   string `json:"mode"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	var mode escrow.ParticipantFilterMode
	switch strings.ToLower(strings.TrimSpace(req.Mode)) {
	case "disabled":
		mode = escrow.FilterDisabled
	case "blocklist":
		mode = escrow.FilterBlocklistOnly
	case "allowlist":
		mode = escrow.FilterAllowlistOnly
	default:
		writeError(w, http.StatusBadRequest, codeInvalidParams, "invalid filter mode")
		return
	}
	if err := s.engine.SetFilterMode(caller, mode); err != nil {
		writeEngineError(w, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleFilterMembers(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller  string `json:"caller"`
		List    string `json:"list"`   // blocklist | allowlist
		Action  string `json:"action"` // add | remove
		Address string `json:"address"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	var op func(caller, addr [20]byte) error
	switch strings.ToLower(req.List) + "/" + strings.ToLower(req.Action) {
	case "blocklist/add":
		op = s.engine.AddToBlocklist
	case "blocklist/remove":
		op = s.engine.RemoveFromBlocklist
	case "allowlist/add":
		op = s.engine.AddToAllowlist
	case "allowlist/remove":
		op = s.engine.RemoveFromAllowlist
	default:
		writeError(w, http.StatusBadRequest, codeInvalidParams, "invalid list or action")
		return
	}
	if err := op(caller, addr); err != nil {
		writeEngineError(w, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSetGrace(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller  string `json:"caller"`
		Seconds uint64 `json:"seconds"`
		Enabled bool   `json:"enabled"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	if err := s.engine.SetSettlementGrace(caller, req.Seconds, req.Enabled); err != nil {
		writeEngineError(w, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleFreezeAddress(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller  string `json:"caller"`
		Address string `json:"address"`
		Frozen  bool   `json:"frozen"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	if req.Frozen {
		err = s.engine.FreezeAddress(caller, addr)
	} else {
		err = s.engine.UnfreezeAddress(caller, addr)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleFreezeEscrow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller   string `json:"caller"`
		EscrowID uint64 `json:"escrowId"`
		Frozen   bool   `json:"frozen"`
		Reason   string `json:"reason"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
		return
	}
	if req.Frozen {
		err = s.engine.FreezeEscrow(caller, req.EscrowID, req.Reason)
	} else {
		err = s.engine.UnfreezeEscrow(caller, req.EscrowID)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]bool{"ok": true})
}
