package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/hivepredict/hivepredict/internal/domain"
)

// Reason strings surfaced on failed verification. Amount and memo
// mismatches are kept distinct from the generic no-match so a legitimate
// user who fat-fingered an amount gets an actionable message while a forged
// txID still yields nothing specific.
const (
	ReasonNotFound       = "transaction not found"
	ReasonAmountMismatch = "transfer amount does not match the requested stake"
	ReasonMemoMismatch   = "transfer memo does not match the requested stake"
	ReasonNoMatch        = "no matching stake transfer found"
)

// RetryPolicy bounds the ledger read loop. Nodes index transactions some
// seconds after broadcast, so absence on the first read is expected;
// transport errors get a shorter pause since the node may simply have
// dropped one request.
type RetryPolicy struct {
	MaxAttempts    int
	NotFoundDelay  time.Duration
	TransportDelay time.Duration
}

// DefaultRetryPolicy covers roughly the worst observed indexing lag on
// public nodes.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    4,
		NotFoundDelay:  10 * time.Second,
		TransportDelay: 2 * time.Second,
	}
}

// VerifyRequest describes the stake transfer the caller expects to find.
type VerifyRequest struct {
	TxID                 string
	ExpectedUsername     string
	ExpectedAmount       float64
	ExpectedPredictionID string
	ExpectedOutcomeID    string
}

// VerifyResult is the outcome of a verification. Reason is set only when
// Valid is false.
type VerifyResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"error,omitempty"`
}

// Verifier confirms that a claimed ledger transaction contains a token
// transfer into escrow matching a requested stake. It is read-only against
// the ledger; persisting the stake after a valid result is the caller's
// responsibility.
type Verifier struct {
	ledger     domain.LedgerReader
	contractID string
	escrow     string
	symbol     string
	precision  int
	policy     RetryPolicy
	logger     *slog.Logger
}

// NewVerifier creates a Verifier. contractID is the structured-data
// namespace token transfers ride in (e.g. "ssc-mainnet-hive").
func NewVerifier(
	ledger domain.LedgerReader,
	contractID, escrowAccount, symbol string,
	precision int,
	policy RetryPolicy,
	logger *slog.Logger,
) *Verifier {
	if policy.MaxAttempts < 1 {
		policy = DefaultRetryPolicy()
	}
	return &Verifier{
		ledger:     ledger,
		contractID: contractID,
		escrow:     escrowAccount,
		symbol:     symbol,
		precision:  precision,
		policy:     policy,
		logger:     logger.With(slog.String("component", "tx_verifier")),
	}
}

// VerifyStakeTransaction fetches the transaction (retrying while the node
// lags) and scans its operations for a transfer satisfying all of: signer,
// escrow destination, token symbol, exact amount, and canonical stake memo.
//
// Reconciliation failures come back as a VerifyResult with a reason and a
// nil error. A transport failure that survives every retry is returned as
// the error itself, since the caller must distinguish "definitely not a
// valid stake" from "we couldn't find out".
func (v *Verifier) VerifyStakeTransaction(ctx context.Context, req VerifyRequest) (VerifyResult, error) {
	tx, terminal, err := v.fetchWithRetry(ctx, req.TxID)
	if err != nil {
		return VerifyResult{}, err
	}
	if terminal != nil {
		return *terminal, nil
	}

	return v.scan(tx, req), nil
}

// fetchWithRetry reads the transaction under the retry policy. On success
// both terminal and err are nil; an exhausted not-found comes back as a
// terminal result; an exhausted transport failure comes back as err.
func (v *Verifier) fetchWithRetry(ctx context.Context, txID string) (domain.LedgerTransaction, *VerifyResult, error) {
	var lastErr error

	for attempt := 1; attempt <= v.policy.MaxAttempts; attempt++ {
		tx, err := v.ledger.GetTransaction(ctx, txID)
		if err == nil {
			return tx, nil, nil
		}
		lastErr = err

		notFound := errors.Is(err, domain.ErrTxNotFound)
		if attempt == v.policy.MaxAttempts {
			break
		}

		delay := v.policy.TransportDelay
		if notFound {
			delay = v.policy.NotFoundDelay
		}

		v.logger.DebugContext(ctx, "ledger read retry",
			slog.String("tx_id", txID),
			slog.Int("attempt", attempt),
			slog.Bool("not_found", notFound),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.LedgerTransaction{}, nil, ctx.Err()
		case <-timer.C:
		}
	}

	if errors.Is(lastErr, domain.ErrTxNotFound) {
		return domain.LedgerTransaction{}, &VerifyResult{Valid: false, Reason: ReasonNotFound}, nil
	}
	return domain.LedgerTransaction{}, nil, fmt.Errorf("escrow: fetch transaction %s: %w", txID, lastErr)
}

// contractCall is the parsed payload of a structured-data operation.
type contractCall struct {
	ContractName    string `json:"contractName"`
	ContractAction  string `json:"contractAction"`
	ContractPayload struct {
		To       string `json:"to"`
		Symbol   string `json:"symbol"`
		Quantity string `json:"quantity"`
		Memo     string `json:"memo"`
	} `json:"contractPayload"`
}

// scan walks the transaction's operations looking for a fully matching
// stake transfer. Operations in other namespaces, non-transfer actions, and
// unparseable payloads are skipped silently; they are not errors, just
// non-matches.
func (v *Verifier) scan(tx domain.LedgerTransaction, req VerifyRequest) VerifyResult {
	mismatch := ""

	for _, op := range tx.Operations {
		if op.Type != "custom_json" || op.ID != v.contractID {
			continue
		}

		var call contractCall
		if err := json.Unmarshal([]byte(op.JSON), &call); err != nil {
			continue
		}
		if call.ContractName != "tokens" || call.ContractAction != "transfer" {
			continue
		}

		// Candidate gate: signer, destination, and symbol must all line
		// up before amount/memo mismatches are worth reporting.
		if len(op.RequiredAuths) == 0 || op.RequiredAuths[0] != req.ExpectedUsername {
			continue
		}
		if call.ContractPayload.To != v.escrow || call.ContractPayload.Symbol != v.symbol {
			continue
		}

		if !v.quantityMatches(call.ContractPayload.Quantity, req.ExpectedAmount) {
			if mismatch == "" {
				mismatch = ReasonAmountMismatch
			}
			continue
		}

		if call.ContractPayload.Memo != StakeMemo(req.ExpectedPredictionID, req.ExpectedOutcomeID) {
			if mismatch == "" {
				mismatch = ReasonMemoMismatch
			}
			continue
		}

		return VerifyResult{Valid: true}
	}

	if mismatch != "" {
		return VerifyResult{Valid: false, Reason: mismatch}
	}
	return VerifyResult{Valid: false, Reason: ReasonNoMatch}
}

// quantityMatches compares a wire quantity string against the expected
// amount at the token's precision. Comparison is numeric rather than
// string-exact so "25.5" and "25.500" agree, but anything unparseable
// fails.
func (v *Verifier) quantityMatches(quantity string, expected float64) bool {
	got, err := strconv.ParseFloat(quantity, 64)
	if err != nil {
		return false
	}
	scale := math.Pow(10, float64(v.precision))
	return math.Round(got*scale) == math.Round(expected*scale)
}
