package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grainpay/crypto"
	"grainpay/native/escrow"
	"grainpay/native/migration"
	"grainpay/native/program"
)

// node bundles the engines behind the HTTP API.
type node struct {
	escrow    *escrow.Engine
	program   *program.Engine
	migration *migration.Engine
}

func (n *node) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/escrow/lock", n.handleEscrowLock)
	mux.HandleFunc("/escrow/batch-lock", n.handleEscrowBatchLock)
	mux.HandleFunc("/escrow/release", n.handleEscrowRelease)
	mux.HandleFunc("/escrow/batch-release", n.handleEscrowBatchRelease)
	mux.HandleFunc("/escrow/refund", n.handleEscrowRefund)
	mux.HandleFunc("/escrow/approve-refund", n.handleEscrowApproveRefund)
	mux.HandleFunc("/escrow/refund-eligibility", n.handleEscrowRefundEligibility)
	mux.HandleFunc("/escrow/refund-history", n.handleEscrowRefundHistory)
	mux.HandleFunc("/escrow/schedule", n.handleEscrowScheduleCreate)
	mux.HandleFunc("/escrow/schedule/release", n.handleEscrowScheduleRelease)
	mux.HandleFunc("/escrow/schedules", n.handleEscrowSchedules)
	mux.HandleFunc("/escrow/release-history", n.handleEscrowReleaseHistory)
	mux.HandleFunc("/escrow/balance", n.handleEscrowBalance)
	mux.HandleFunc("/escrow/info", n.handleEscrowInfo)
	mux.HandleFunc("/escrow/pause", n.handleEscrowPause)
	mux.HandleFunc("/escrow/unpause", n.handleEscrowUnpause)
	mux.HandleFunc("/program/init", n.handleProgramInit)
	mux.HandleFunc("/program/lock", n.handleProgramLock)
	mux.HandleFunc("/program/payout", n.handleProgramPayout)
	mux.HandleFunc("/program/batch-payout", n.handleProgramBatchPayout)
	mux.HandleFunc("/program/refund", n.handleProgramRefund)
	mux.HandleFunc("/program/balance", n.handleProgramBalance)
	mux.HandleFunc("/program/info", n.handleProgramInfo)
	mux.HandleFunc("/migration/status", n.handleMigrationStatus)
	mux.HandleFunc("/migration/migrate", n.handleMigrate)
	mux.HandleFunc("/migration/upgrade", n.handleUpgrade)
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return false
	}
	return true
}

func parseAddr(value string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Array(), nil
}

func parseBig(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, escrow.ErrNotFound), errors.Is(err, escrow.ErrScheduleNotFound),
		errors.Is(err, program.ErrNotInitialized):
		status = http.StatusNotFound
	case errors.Is(err, escrow.ErrUnauthorized), errors.Is(err, escrow.ErrRefundNotApproved),
		errors.Is(err, program.ErrUnauthorized), errors.Is(err, migration.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, escrow.ErrPaused):
		status = http.StatusServiceUnavailable
	case errors.Is(err, escrow.ErrBountyExists), errors.Is(err, escrow.ErrScheduleReleased),
		errors.Is(err, program.ErrAlreadyInitialized), errors.Is(err, migration.ErrAlreadyMigrated):
		status = http.StatusConflict
	}
	http.Error(w, err.Error(), status)
}

type refundEntryView struct {
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
	Mode      string `json:"mode"`
	Timestamp int64  `json:"timestamp"`
}

type recordView struct {
	BountyID      string            `json:"bounty_id"`
	ProjectID     string            `json:"project_id"`
	Depositor     string            `json:"depositor"`
	Contributor   string            `json:"contributor,omitempty"`
	Amount        string            `json:"amount"`
	Remaining     string            `json:"remaining"`
	LockedAt      int64             `json:"locked_at"`
	Deadline      int64             `json:"deadline,omitempty"`
	Status        string            `json:"status"`
	RefundHistory []refundEntryView `json:"refund_history,omitempty"`
}

func viewRecord(record *escrow.Record) recordView {
	view := recordView{
		BountyID:  record.BountyID,
		ProjectID: record.ProjectID,
		Depositor: crypto.MustNewAddress(crypto.GrainPrefix, record.Depositor).String(),
		Amount:    record.Amount.String(),
		Remaining: record.Amount.String(),
		LockedAt:  record.LockedAt,
		Deadline:  record.Deadline,
		Status:    record.Status.String(),
	}
	if record.Remaining != nil {
		view.Remaining = record.Remaining.String()
	}
	if record.Contributor != nil {
		view.Contributor = crypto.MustNewAddress(crypto.GrainPrefix, *record.Contributor).String()
	}
	for _, entry := range record.RefundHistory {
		view.RefundHistory = append(view.RefundHistory, viewRefundEntry(entry))
	}
	return view
}

func viewRefundEntry(entry escrow.RefundEntry) refundEntryView {
	return refundEntryView{
		Amount:    entry.Amount.String(),
		Recipient: crypto.MustNewAddress(crypto.GrainPrefix, entry.Recipient).String(),
		Mode:      entry.Mode.String(),
		Timestamp: entry.Timestamp,
	}
}

type lockPayload struct {
	Depositor   string `json:"depositor"`
	BountyID    string `json:"bounty_id"`
	ProjectID   string `json:"project_id"`
	Amount      string `json:"amount"`
	Contributor string `json:"contributor,omitempty"`
	Deadline    int64  `json:"deadline,omitempty"`
}

func (n *node) handleEscrowLock(w http.ResponseWriter, r *http.Request) {
	var req lockPayload
	if !decodeBody(w, r, &req) {
		return
	}
	depositor, err := parseAddr(req.Depositor)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	amount, err := parseBig(req.Amount)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var contributor *[20]byte
	if strings.TrimSpace(req.Contributor) != "" {
		addr, err := parseAddr(req.Contributor)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		contributor = &addr
	}
	record, err := n.escrow.LockFunds(depositor, req.BountyID, req.ProjectID, amount, contributor, req.Deadline)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, viewRecord(record))
}

type batchLockPayload struct {
	Depositor string        `json:"depositor"`
	Items     []lockPayload `json:"items"`
}

func (n *node) handleEscrowBatchLock(w http.ResponseWriter, r *http.Request) {
	var req batchLockPayload
	if !decodeBody(w, r, &req) {
		return
	}
	depositor, err := parseAddr(req.Depositor)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	items := make([]escrow.LockItem, 0, len(req.Items))
	for i, item := range req.Items {
		amount, err := parseBig(item.Amount)
		if err != nil {
			http.Error(w, fmt.Sprintf("item %d: %v", i, err), http.StatusBadRequest)
			return
		}
		lock := escrow.LockItem{
			BountyID:  item.BountyID,
			ProjectID: item.ProjectID,
			Amount:    amount,
			Deadline:  item.Deadline,
		}
		if strings.TrimSpace(item.Contributor) != "" {
			addr, err := parseAddr(item.Contributor)
			if err != nil {
				http.Error(w, fmt.Sprintf("item %d: %v", i, err), http.StatusBadRequest)
				return
			}
			lock.Contributor = &addr
		}
		items = append(items, lock)
	}
	count, err := n.escrow.BatchLockFunds(depositor, items)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, map[string]int{"locked": count})
}

type releasePayload struct {
	Caller    string `json:"caller"`
	BountyID  string `json:"bounty_id"`
	Recipient string `json:"recipient"`
}

func (n *node) handleEscrowRelease(w http.ResponseWriter, r *http.Request) {
	var req releasePayload
	if !decodeBody(w, r, &req) {
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	recipient, err := parseAddr(req.Recipient)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := n.escrow.ReleaseFunds(caller, req.BountyID, recipient); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type batchReleasePayload struct {
	Caller string `json:"caller"`
	Items  []struct {
		BountyID  string `json:"bounty_id"`
		Recipient string `json:"recipient"`
	} `json:"items"`
}

func (n *node) handleEscrowBatchRelease(w http.ResponseWriter, r *http.Request) {
	var req batchReleasePayload
	if !decodeBody(w, r, &req) {
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	items := make([]escrow.ReleaseItem, 0, len(req.Items))
	for i, item := range req.Items {
		recipient, err := parseAddr(item.Recipient)
		if err != nil {
			http.Error(w, fmt.Sprintf("item %d: %v", i, err), http.StatusBadRequest)
			return
		}
		items = append(items, escrow.ReleaseItem{BountyID: item.BountyID, Recipient: recipient})
	}
	count, err := n.escrow.BatchReleaseFunds(caller, items)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, map[string]int{"released": count})
}

type refundPayload struct {
	Caller    string `json:"caller"`
	BountyID  string `json:"bounty_id"`
	Initiator string `json:"initiator"`
	Amount    string `json:"amount,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Mode      string `json:"mode,omitempty"`
}

// handleEscrowRefund settles a refund. Without a mode the entire remaining
// balance returns to the initiator; with a mode the request routes through
// the partial and custom refund paths.
func (n *node) handleEscrowRefund(w http.ResponseWriter, r *http.Request) {
	var req refundPayload
	if !decodeBody(w, r, &req) {
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Mode) == "" {
		initiator, err := parseAddr(req.Initiator)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := n.escrow.Refund(caller, req.BountyID, initiator); err != nil {
			writeEngineError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	mode, err := escrow.ParseRefundMode(req.Mode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var amount *big.Int
	if strings.TrimSpace(req.Amount) != "" {
		amount, err = parseBig(req.Amount)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	var recipient *[20]byte
	if strings.TrimSpace(req.Recipient) != "" {
		addr, err := parseAddr(req.Recipient)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		recipient = &addr
	}
	if err := n.escrow.RefundWithMode(caller, req.BountyID, amount, recipient, mode); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type approveRefundPayload struct {
	Caller    string `json:"caller"`
	BountyID  string `json:"bounty_id"`
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
	Mode      string `json:"mode"`
}

func (n *node) handleEscrowApproveRefund(w http.ResponseWriter, r *http.Request) {
	var req approveRefundPayload
	if !decodeBody(w, r, &req) {
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	amount, err := parseBig(req.Amount)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	recipient, err := parseAddr(req.Recipient)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	mode, err := escrow.ParseRefundMode(req.Mode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := n.escrow.ApproveRefund(caller, req.BountyID, amount, recipient, mode); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (n *node) handleEscrowRefundEligibility(w http.ResponseWriter, r *http.Request) {
	bountyID := strings.TrimSpace(r.URL.Query().Get("bounty_id"))
	if bountyID == "" {
		http.Error(w, "bounty_id is required", http.StatusBadRequest)
		return
	}
	eligibility, err := n.escrow.GetRefundEligibility(bountyID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	view := map[string]interface{}{
		"can_refund":      eligibility.CanRefund,
		"deadline_passed": eligibility.DeadlinePassed,
		"remaining":       eligibility.Remaining.String(),
	}
	if eligibility.Approval != nil {
		view["approval"] = map[string]interface{}{
			"amount":      eligibility.Approval.Amount.String(),
			"recipient":   crypto.MustNewAddress(crypto.GrainPrefix, eligibility.Approval.Recipient).String(),
			"mode":        eligibility.Approval.Mode.String(),
			"approved_by": crypto.MustNewAddress(crypto.GrainPrefix, eligibility.Approval.ApprovedBy).String(),
			"approved_at": eligibility.Approval.ApprovedAt,
		}
	}
	writeJSON(w, view)
}

func (n *node) handleEscrowRefundHistory(w http.ResponseWriter, r *http.Request) {
	bountyID := strings.TrimSpace(r.URL.Query().Get("bounty_id"))
	if bountyID == "" {
		http.Error(w, "bounty_id is required", http.StatusBadRequest)
		return
	}
	history, err := n.escrow.GetRefundHistory(bountyID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	entries := make([]refundEntryView, 0, len(history))
	for _, entry := range history {
		entries = append(entries, viewRefundEntry(entry))
	}
	writeJSON(w, map[string]interface{}{"refunds": entries})
}

type scheduleView struct {
	BountyID   string `json:"bounty_id"`
	ScheduleID uint64 `json:"schedule_id"`
	Amount     string `json:"amount"`
	ReleaseAt  int64  `json:"release_at"`
	Recipient  string `json:"recipient"`
	Released   bool   `json:"released"`
	ReleasedAt int64  `json:"released_at,omitempty"`
	ReleasedBy string `json:"released_by,omitempty"`
}

func viewSchedule(schedule *escrow.ReleaseSchedule) scheduleView {
	view := scheduleView{
		BountyID:   schedule.BountyID,
		ScheduleID: schedule.ScheduleID,
		Amount:     schedule.Amount.String(),
		ReleaseAt:  schedule.ReleaseAt,
		Recipient:  crypto.MustNewAddress(crypto.GrainPrefix, schedule.Recipient).String(),
		Released:   schedule.Released,
		ReleasedAt: schedule.ReleasedAt,
	}
	if schedule.ReleasedBy != nil {
		view.ReleasedBy = crypto.MustNewAddress(crypto.GrainPrefix, *schedule.ReleasedBy).String()
	}
	return view
}

type scheduleCreatePayload struct {
	Caller    string `json:"caller"`
	BountyID  string `json:"bounty_id"`
	Amount    string `json:"amount"`
	ReleaseAt int64  `json:"release_at"`
	Recipient string `json:"recipient"`
}

func (n *node) handleEscrowScheduleCreate(w http.ResponseWriter, r *http.Request) {
	var req scheduleCreatePayload
	if !decodeBody(w, r, &req) {
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	amount, err := parseBig(req.Amount)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	recipient, err := parseAddr(req.Recipient)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	schedule, err := n.escrow.CreateReleaseSchedule(caller, req.BountyID, amount, req.ReleaseAt, recipient)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, viewSchedule(schedule))
}

type scheduleReleasePayload struct {
	Caller     string `json:"caller"`
	BountyID   string `json:"bounty_id"`
	ScheduleID uint64 `json:"schedule_id"`
	Early      bool   `json:"early,omitempty"`
}

func (n *node) handleEscrowScheduleRelease(w http.ResponseWriter, r *http.Request) {
	var req scheduleReleasePayload
	if !decodeBody(w, r, &req) {
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Early {
		err = n.escrow.ReleaseScheduledFundsEarly(caller, req.BountyID, req.ScheduleID)
	} else {
		err = n.escrow.ReleaseScheduledFunds(caller, req.BountyID, req.ScheduleID)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (n *node) handleEscrowSchedules(w http.ResponseWriter, r *http.Request) {
	bountyID := strings.TrimSpace(r.URL.Query().Get("bounty_id"))
	if bountyID == "" {
		http.Error(w, "bounty_id is required", http.StatusBadRequest)
		return
	}
	var (
		schedules []*escrow.ReleaseSchedule
		err       error
	)
	switch strings.TrimSpace(r.URL.Query().Get("filter")) {
	case "pending":
		schedules, err = n.escrow.PendingSchedules(bountyID)
	case "due":
		schedules, err = n.escrow.DueSchedules(bountyID)
	default:
		schedules, err = n.escrow.ListReleaseSchedules(bountyID)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	views := make([]scheduleView, 0, len(schedules))
	for _, schedule := range schedules {
		views = append(views, viewSchedule(schedule))
	}
	writeJSON(w, map[string]interface{}{"schedules": views})
}

func (n *node) handleEscrowReleaseHistory(w http.ResponseWriter, r *http.Request) {
	bountyID := strings.TrimSpace(r.URL.Query().Get("bounty_id"))
	if bountyID == "" {
		http.Error(w, "bounty_id is required", http.StatusBadRequest)
		return
	}
	history, err := n.escrow.GetReleaseHistory(bountyID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	entries := make([]map[string]interface{}, 0, len(history))
	for _, entry := range history {
		entries = append(entries, map[string]interface{}{
			"schedule_id": entry.ScheduleID,
			"amount":      entry.Amount.String(),
			"recipient":   crypto.MustNewAddress(crypto.GrainPrefix, entry.Recipient).String(),
			"released_at": entry.ReleasedAt,
			"released_by": crypto.MustNewAddress(crypto.GrainPrefix, entry.ReleasedBy).String(),
			"kind":        entry.Kind.String(),
		})
	}
	writeJSON(w, map[string]interface{}{"releases": entries})
}

func (n *node) handleEscrowBalance(w http.ResponseWriter, r *http.Request) {
	bountyID := strings.TrimSpace(r.URL.Query().Get("bounty_id"))
	if bountyID == "" {
		http.Error(w, "bounty_id is required", http.StatusBadRequest)
		return
	}
	balance, err := n.escrow.GetBalance(bountyID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, map[string]string{"balance": balance.String()})
}

func (n *node) handleEscrowInfo(w http.ResponseWriter, r *http.Request) {
	bountyID := strings.TrimSpace(r.URL.Query().Get("bounty_id"))
	if bountyID == "" {
		http.Error(w, "bounty_id is required", http.StatusBadRequest)
		return
	}
	record, err := n.escrow.GetEscrowInfo(bountyID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, viewRecord(record))
}

type pausePayload struct {
	Caller string `json:"caller"`
	Reason string `json:"reason"`
}

func (n *node) handleEscrowPause(w http.ResponseWriter, r *http.Request) {
	var req pausePayload
	if !decodeBody(w, r, &req) {
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := n.escrow.Pause(caller, req.Reason); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (n *node) handleEscrowUnpause(w http.ResponseWriter, r *http.Request) {
	var req pausePayload
	if !decodeBody(w, r, &req) {
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := n.escrow.Unpause(caller, req.Reason); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type programInitPayload struct {
	ProgramID    string `json:"program_id"`
	PayoutKey    string `json:"payout_key"`
	TokenAddress string `json:"token_address"`
}

func (n *node) handleProgramInit(w http.ResponseWriter, r *http.Request) {
	var req programInitPayload
	if !decodeBody(w, r, &req) {
		return
	}
	payoutKey, err := parseAddr(req.PayoutKey)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	token, err := parseAddr(req.TokenAddress)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	record, err := n.program.InitProgram(req.ProgramID, payoutKey, token)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, viewProgram(record))
}

type programLockPayload struct {
	Funder    string `json:"funder"`
	ProgramID string `json:"program_id"`
	Amount    string `json:"amount"`
}

func (n *node) handleProgramLock(w http.ResponseWriter, r *http.Request) {
	var req programLockPayload
	if !decodeBody(w, r, &req) {
		return
	}
	funder, err := parseAddr(req.Funder)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	amount, err := parseBig(req.Amount)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := n.program.LockProgramFunds(funder, req.ProgramID, amount); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type programPayoutPayload struct {
	Caller    string `json:"caller"`
	ProgramID string `json:"program_id"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

func (n *node) handleProgramPayout(w http.ResponseWriter, r *http.Request) {
	var req programPayoutPayload
	if !decodeBody(w, r, &req) {
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	recipient, err := parseAddr(req.Recipient)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	amount, err := parseBig(req.Amount)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := n.program.SinglePayout(caller, req.ProgramID, recipient, amount); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type programBatchPayload struct {
	Caller     string   `json:"caller"`
	ProgramID  string   `json:"program_id"`
	Recipients []string `json:"recipients"`
	Amounts    []string `json:"amounts"`
}

func (n *node) handleProgramBatchPayout(w http.ResponseWriter, r *http.Request) {
	var req programBatchPayload
	if !decodeBody(w, r, &req) {
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	recipients := make([][20]byte, len(req.Recipients))
	for i, raw := range req.Recipients {
		addr, err := parseAddr(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("recipient %d: %v", i, err), http.StatusBadRequest)
			return
		}
		recipients[i] = addr
	}
	amounts := make([]*big.Int, len(req.Amounts))
	for i, raw := range req.Amounts {
		amount, err := parseBig(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("amount %d: %v", i, err), http.StatusBadRequest)
			return
		}
		amounts[i] = amount
	}
	if err := n.program.BatchPayout(caller, req.ProgramID, recipients, amounts); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type programRefundPayload struct {
	Caller    string `json:"caller"`
	ProgramID string `json:"program_id"`
	Initiator string `json:"initiator"`
}

func (n *node) handleProgramRefund(w http.ResponseWriter, r *http.Request) {
	var req programRefundPayload
	if !decodeBody(w, r, &req) {
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	initiator, err := parseAddr(req.Initiator)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := n.program.Refund(caller, req.ProgramID, initiator); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (n *node) handleProgramBalance(w http.ResponseWriter, r *http.Request) {
	programID := strings.TrimSpace(r.URL.Query().Get("program_id"))
	if programID == "" {
		http.Error(w, "program_id is required", http.StatusBadRequest)
		return
	}
	balance, err := n.program.GetBalance(programID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, map[string]string{"balance": balance.String()})
}

type payoutView struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	PaidAt    int64  `json:"paid_at"`
}

type programView struct {
	ProgramID        string       `json:"program_id"`
	TotalFunds       string       `json:"total_funds"`
	RemainingBalance string       `json:"remaining_balance"`
	PayoutKey        string       `json:"payout_key"`
	TokenAddress     string       `json:"token_address"`
	CreatedAt        int64        `json:"created_at"`
	Payouts          []payoutView `json:"payouts,omitempty"`
}

func viewProgram(record *program.Record) programView {
	view := programView{
		ProgramID:        record.ProgramID,
		TotalFunds:       record.TotalFunds.String(),
		RemainingBalance: record.RemainingBalance.String(),
		PayoutKey:        crypto.MustNewAddress(crypto.GrainPrefix, record.PayoutKey).String(),
		TokenAddress:     crypto.MustNewAddress(crypto.GrainPrefix, record.TokenAddress).String(),
		CreatedAt:        record.CreatedAt,
	}
	for _, payout := range record.Payouts {
		view.Payouts = append(view.Payouts, payoutView{
			Recipient: crypto.MustNewAddress(crypto.GrainPrefix, payout.Recipient).String(),
			Amount:    payout.Amount.String(),
			PaidAt:    payout.PaidAt,
		})
	}
	return view
}

func (n *node) handleProgramInfo(w http.ResponseWriter, r *http.Request) {
	programID := strings.TrimSpace(r.URL.Query().Get("program_id"))
	if programID == "" {
		http.Error(w, "program_id is required", http.StatusBadRequest)
		return
	}
	record, err := n.program.GetProgramInfo(programID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, viewProgram(record))
}

type migrationStatusView struct {
	CurrentVersion uint32 `json:"current_version"`
	FromVersion    uint32 `json:"from_version,omitempty"`
	ToVersion      uint32 `json:"to_version,omitempty"`
	MigratedAt     int64  `json:"migrated_at,omitempty"`
	MigrationHash  string `json:"migration_hash,omitempty"`
}

func (n *node) handleMigrationStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	current, err := n.migration.CurrentVersion()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	view := migrationStatusView{CurrentVersion: current}
	if state, ok, err := n.migration.MigrationState(); err == nil && ok {
		view.FromVersion = state.FromVersion
		view.ToVersion = state.ToVersion
		view.MigratedAt = state.MigratedAt
		view.MigrationHash = hex.EncodeToString(state.MigrationHash[:])
	}
	writeJSON(w, view)
}

type migratePayload struct {
	Caller        string `json:"caller"`
	TargetVersion uint32 `json:"target_version"`
	MigrationHash string `json:"migration_hash"`
}

func parseHash(raw string) ([32]byte, error) {
	var hash [32]byte
	decoded, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if err != nil {
		return hash, fmt.Errorf("invalid hash hex: %w", err)
	}
	if len(decoded) != 32 {
		return hash, fmt.Errorf("hash must be 32 bytes, got %d", len(decoded))
	}
	copy(hash[:], decoded)
	return hash, nil
}

func (n *node) handleMigrate(w http.ResponseWriter, r *http.Request) {
	var req migratePayload
	if !decodeBody(w, r, &req) {
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	hash, err := parseHash(req.MigrationHash)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := n.migration.Migrate(caller, req.TargetVersion, hash); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type upgradePayload struct {
	Caller   string `json:"caller"`
	CodeHash string `json:"code_hash"`
}

func (n *node) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	var req upgradePayload
	if !decodeBody(w, r, &req) {
		return
	}
	caller, err := parseAddr(req.Caller)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	hash, err := parseHash(req.CodeHash)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := n.migration.Upgrade(caller, hash); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
