package exchange

import "errors"

// MaxFeeBps caps the protocol fee at 10%.
const MaxFeeBps = 1000

var (
	ErrSignatureMismatch  = errors.New("signature mismatch")
	ErrOutOfWindow        = errors.New("outside validity window")
	ErrStaleNonce         = errors.New("stale nonce")
	ErrAlreadyConsumed    = errors.New("order already cancelled or executed")
	ErrUnwhitelistedAsset = errors.New("token not whitelisted")
	ErrMatchMismatch      = errors.New("orders do not match")
	ErrUnauthorized       = errors.New("unauthorized caller")
	ErrFeeCapExceeded     = errors.New("fee rate exceeds cap")
	ErrInvalidOrder       = errors.New("invalid order")
	ErrTransferFailed     = errors.New("transfer failed")
	ErrAlreadyApproved    = errors.New("order already approved")
)

var taxonomy = []struct {
	err  error
	name string
}{
	{ErrSignatureMismatch, "signature_mismatch"},
	{ErrOutOfWindow, "out_of_window"},
	{ErrStaleNonce, "stale_nonce"},
	{ErrAlreadyConsumed, "already_consumed"},
	{ErrUnwhitelistedAsset, "unwhitelisted_asset"},
	{ErrMatchMismatch, "match_mismatch"},
	{ErrUnauthorized, "unauthorized"},
	{ErrFeeCapExceeded, "fee_cap_exceeded"},
	{ErrInvalidOrder, "invalid_order"},
	{ErrTransferFailed, "transfer_failed"},
	{ErrAlreadyApproved, "already_approved"},
}

// Reason maps err to a stable label: "ok" for nil, "internal" for errors
// outside the taxonomy.
func Reason(err error) string {
	if err == nil {
		return "ok"
	}
	for _, t := range taxonomy {
		if errors.Is(err, t.err) {
			return t.name
		}
	}
	return "internal"
}
