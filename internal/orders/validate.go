package orders

import (
	"encoding/base64"
	"fmt"
	"regexp"

	"github.com/escrowd/coordinator/internal/apperr"
)

var (
	orderIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)
	// bech32Pattern accepts the human-readable parts this coordinator serves
	// (bc1 mainnet, tb1 testnet) with the bech32 charset and plausible length
	// bounds for a P2WPKH/P2WSH address.
	bech32Pattern = regexp.MustCompile(`^(bc1|tb1)[023456789acdefghjklmnpqrstuvwxyz]{25,87}$`)
)

// MaxSatoshis is the maximum satoshi amount accepted for a single output,
// matching the 21,000,000 BTC max-money bound expressed in satoshis.
const MaxSatoshis = 2_100_000_000_000_000

// ValidateOrderID checks the ≤32 char, [A-Za-z0-9_-] constraint.
func ValidateOrderID(id string) error {
	if !orderIDPattern.MatchString(id) {
		return fmt.Errorf("%w: order_id must match [A-Za-z0-9_-]{1,32}", apperr.ErrValidation)
	}
	return nil
}

// ValidateAddress checks the output address is a plausible bech32 address
// for the given network prefix set (both bc1 and tb1 are accepted by the
// pattern; callers that care about network mismatch check the prefix
// separately).
func ValidateAddress(addr string) error {
	if !bech32Pattern.MatchString(addr) {
		return fmt.Errorf("%w: invalid bech32 address %q", apperr.ErrValidation, addr)
	}
	return nil
}

// ValidateAddressNetwork checks the address's HRP matches the order's network.
func ValidateAddressNetwork(addr string, network string) error {
	wantPrefix := "tb1"
	if network == "mainnet" {
		wantPrefix = "bc1"
	}
	if len(addr) < len(wantPrefix) || addr[:len(wantPrefix)] != wantPrefix {
		return fmt.Errorf("%w: address %q does not match network %q", apperr.ErrValidation, addr, network)
	}
	return nil
}

// ValidateSatoshiAmount checks the amount is in (0, MaxSatoshis].
func ValidateSatoshiAmount(sat int64) error {
	if sat <= 0 || sat > MaxSatoshis {
		return fmt.Errorf("%w: amount_sat must be in (0, %d], got %d", apperr.ErrValidation, MaxSatoshis, sat)
	}
	return nil
}

// ValidateBase64 checks s decodes as standard base64, as used for PST
// fragments submitted to /psbt/merge and /tx/bumpfee/finalize.
func ValidateBase64(s string) error {
	if _, err := base64.StdEncoding.DecodeString(s); err != nil {
		return fmt.Errorf("%w: not valid base64: %v", apperr.ErrValidation, err)
	}
	return nil
}

// ValidateMinConf checks the 0-100 bound from the data model.
func ValidateMinConf(minConf int) error {
	if minConf < 0 || minConf > 100 {
		return fmt.Errorf("%w: min_conf must be 0-100, got %d", apperr.ErrValidation, minConf)
	}
	return nil
}
