package engine

import (
	"errors"
	"strings"
)

// Operation errors. All of them are terminal for the attempt in which they
// occur and non-fatal for the cycle; callers classify with errors.Is.
var (
	// ErrAddressInvalid marks a malformed wallet address.
	ErrAddressInvalid = errors.New("address invalid")

	// ErrAmountInvalid marks a missing, zero, or negative operation amount.
	ErrAmountInvalid = errors.New("amount invalid")

	// ErrInsufficientFunds marks a token or native balance below the amount
	// the operation needs.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientGas marks a native balance below the worst-case gas cost.
	ErrInsufficientGas = errors.New("insufficient gas")

	// ErrApprovalReverted marks an allowance approval whose receipt reported
	// failure.
	ErrApprovalReverted = errors.New("approval reverted")

	// ErrTransactionReverted marks a receipt with failure status.
	ErrTransactionReverted = errors.New("transaction reverted")

	// ErrNonceConflict marks a broadcast rejected over the nonce. The tracker
	// entry is evicted before this is returned, so the next attempt re-derives
	// the nonce from the chain.
	ErrNonceConflict = errors.New("nonce conflict")

	// ErrConfirmationTimeout marks a transaction that was not confirmed within
	// the bounded wait. It may still land later; the engine does not keep
	// watching.
	ErrConfirmationTimeout = errors.New("confirmation timeout")

	// ErrNoWithdrawRequest marks a claim attempt with no outstanding withdraw
	// request.
	ErrNoWithdrawRequest = errors.New("no withdraw request")

	// ErrClaimNotReady marks a claim attempt before the cooldown has elapsed.
	ErrClaimNotReady = errors.New("claim not ready")

	// ErrCancelled marks work abandoned because a stop was requested.
	ErrCancelled = errors.New("cancelled")
)

// nonceConflictPhrases are substrings of node broadcast errors that mean the
// nonce was already used or out of sequence. Matched case-insensitively
// because node implementations differ in wording.
var nonceConflictPhrases = []string{
	"nonce too low",
	"already known",
	"replacement transaction underpriced",
}

// IsNonceConflict reports whether a broadcast error indicates a nonce
// conflict.
func IsNonceConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNonceConflict) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, phrase := range nonceConflictPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}
