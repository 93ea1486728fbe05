package payoutd

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"grainpay/crypto"
	"grainpay/ledger"
	"grainpay/observability/logging"
)

// Main initialises and runs the payout daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/payoutd/config.yaml", "path to payoutd configuration")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("GRAINPAY_ENV"))
	logger := logging.Setup("payoutd", env)

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	keyBytes, err := hex.DecodeString(strings.TrimPrefix(cfg.Ledger.SignerKey, "0x"))
	if err != nil {
		return fmt.Errorf("decode signer key: %w", err)
	}
	signerKey, err := crypto.PrivateKeyFromBytes(keyBytes)
	if err != nil {
		return fmt.Errorf("parse signer key: %w", err)
	}

	client, err := ledger.NewClient(ledger.Config{
		RPCURL:      cfg.Ledger.Endpoint,
		ChainID:     cfg.Ledger.ChainID,
		HTTPTimeout: cfg.Ledger.HTTPTimeout.Duration,
	})
	if err != nil {
		return fmt.Errorf("ledger client: %w", err)
	}
	builder, err := ledger.NewTxBuilder(client, signerKey, ledger.DefaultRetryConfig())
	if err != nil {
		return fmt.Errorf("transaction builder: %w", err)
	}
	escrowCaller, err := ledger.NewEscrowCaller(builder, client, cfg.Ledger.EscrowContractID, cfg.ConfirmTimeout.Duration)
	if err != nil {
		return fmt.Errorf("escrow caller: %w", err)
	}
	programCaller, err := ledger.NewProgramCaller(builder, client, cfg.Ledger.ProgramContractID, cfg.ConfirmTimeout.Duration)
	if err != nil {
		return fmt.Errorf("program caller: %w", err)
	}

	processor := NewProcessor(escrowCaller, programCaller)
	if cfg.PauseOnStart {
		processor.Pause()
	}

	authn, err := NewAuthenticator(cfg.Admin.BearerToken)
	if err != nil {
		return fmt.Errorf("admin authentication: %w", err)
	}
	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           NewServer(processor, authn),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("payoutd listening",
			"listen", cfg.ListenAddress,
			"signer", builder.SignerAddress(),
			"escrow_contract", escrowCaller.ContractID(),
			"program_contract", programCaller.ContractID(),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
