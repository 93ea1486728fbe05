package payoutd

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grainpay/auth"
)

// Authenticator validates bearer tokens on operator endpoints.
type Authenticator struct {
	bearerToken string
}

// NewAuthenticator constructs an Authenticator from the configured token.
func NewAuthenticator(token string) (*Authenticator, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("bearer token must be configured")
	}
	return &Authenticator{bearerToken: token}, nil
}

// Middleware enforces authentication for operator handlers.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a == nil {
			http.Error(w, "authentication unavailable", http.StatusInternalServerError)
			return
		}
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		supplied := strings.TrimSpace(strings.TrimPrefix(header, prefix))
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(a.bearerToken)) != 1 {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Server exposes the payout command API and operator controls.
type Server struct {
	processor *Processor
	mux       *http.ServeMux
}

// NewServer constructs a server wrapping the provided processor. Operator
// endpoints are gated by the authenticator; command endpoints authenticate
// per request through wallet proofs.
func NewServer(processor *Processor, authn *Authenticator) *Server {
	mux := http.NewServeMux()
	server := &Server{processor: processor, mux: mux}
	mux.HandleFunc("/release", server.handleRelease)
	mux.HandleFunc("/refund", server.handleRefund)
	mux.HandleFunc("/payout", server.handlePayout)
	mux.HandleFunc("/batch-payout", server.handleBatchPayout)
	mux.Handle("/pause", authn.Middleware(http.HandlerFunc(server.handlePause)))
	mux.Handle("/resume", authn.Middleware(http.HandlerFunc(server.handleResume)))
	mux.Handle("/status", authn.Middleware(http.HandlerFunc(server.handleStatus)))
	mux.Handle("/metrics", promhttp.Handler())
	return server
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type proofPayload struct {
	WalletType string `json:"wallet_type"`
	Address    string `json:"address"`
	Signature  string `json:"signature"`
	PublicKey  string `json:"public_key"`
}

func (p proofPayload) proof() WalletProof {
	return WalletProof{
		WalletType: p.WalletType,
		Address:    p.Address,
		Signature:  p.Signature,
		PublicKey:  p.PublicKey,
	}
}

type commandResponse struct {
	TxHash string `json:"tx_hash"`
}

func writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidSignature), errors.Is(err, auth.ErrUnsupportedWalletType):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, ErrProcessorPaused):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, ErrRequestInFlight):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func writeCommandResult(w http.ResponseWriter, txHash string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(commandResponse{TxHash: txHash})
}

type releasePayload struct {
	RequestID string       `json:"request_id"`
	BountyID  string       `json:"bounty_id"`
	Recipient string       `json:"recipient"`
	Proof     proofPayload `json:"proof"`
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req releasePayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	txHash, err := s.processor.ReleaseBounty(r.Context(), ReleaseRequest{
		RequestID: req.RequestID,
		BountyID:  req.BountyID,
		Recipient: req.Recipient,
		Proof:     req.Proof.proof(),
	})
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeCommandResult(w, txHash)
}

type refundPayload struct {
	RequestID string       `json:"request_id"`
	BountyID  string       `json:"bounty_id"`
	Proof     proofPayload `json:"proof"`
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req refundPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	txHash, err := s.processor.RefundBounty(r.Context(), RefundRequest{
		RequestID: req.RequestID,
		BountyID:  req.BountyID,
		Proof:     req.Proof.proof(),
	})
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeCommandResult(w, txHash)
}

type payoutPayload struct {
	RequestID string       `json:"request_id"`
	ProgramID string       `json:"program_id"`
	Recipient string       `json:"recipient"`
	Amount    string       `json:"amount"`
	Proof     proofPayload `json:"proof"`
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func (s *Server) handlePayout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req payoutPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	txHash, err := s.processor.SinglePayout(r.Context(), PayoutRequest{
		RequestID: req.RequestID,
		ProgramID: req.ProgramID,
		Recipient: req.Recipient,
		Amount:    amount,
		Proof:     req.Proof.proof(),
	})
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeCommandResult(w, txHash)
}

type batchPayoutPayload struct {
	RequestID  string       `json:"request_id"`
	ProgramID  string       `json:"program_id"`
	Recipients []string     `json:"recipients"`
	Amounts    []string     `json:"amounts"`
	Proof      proofPayload `json:"proof"`
}

func (s *Server) handleBatchPayout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req batchPayoutPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	amounts := make([]*big.Int, len(req.Amounts))
	for i, raw := range req.Amounts {
		amount, err := parseAmount(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		amounts[i] = amount
	}
	txHash, err := s.processor.BatchPayout(r.Context(), BatchPayoutRequest{
		RequestID:  req.RequestID,
		ProgramID:  req.ProgramID,
		Recipients: req.Recipients,
		Amounts:    amounts,
		Proof:      req.Proof.proof(),
	})
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeCommandResult(w, txHash)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.processor.Pause()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.processor.Resume()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	status := s.processor.Status()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}
