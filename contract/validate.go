package contract

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// MumbaiChainID is the chain the SmartDoor deployment lives on.
const MumbaiChainID uint64 = 80001

var weiPerEther = uint256.NewInt(1_000_000_000_000_000_000)

// ValidateName rejects empty display names.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidName
	}

	return nil
}

// ValidateAddress rejects anything that is not a 20-byte hex address.
func ValidateAddress(addr string) error {
	if !common.IsHexAddress(strings.TrimSpace(addr)) {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}

	return nil
}

// NormalizeAddress returns the checksummed form of a hex address, or the
// trimmed input when it is not one.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if common.IsHexAddress(addr) {
		return common.HexToAddress(addr).Hex()
	}

	return addr
}

// CheckDuplicate rejects a new request for guest while another one is
// pending or accepted.
func CheckDuplicate(auths []Authorization, guest string) error {
	for _, a := range auths {
		if SameAccount(a.Guest, guest) && a.Status.Outstanding() {
			return fmt.Errorf("%w: %s is %s", ErrDuplicateRequest, guest, a.Status)
		}
	}

	return nil
}

// EnsureChain fails with ErrWrongNetwork unless d is connected to want.
func EnsureChain(ctx context.Context, d ChainReader, want uint64) error {
	got, err := d.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("query chain id: %w", err)
	}

	if got != want {
		return fmt.Errorf("%w: chain %d, expected %d", ErrWrongNetwork, got, want)
	}

	return nil
}

// FormatEther renders a wei amount in ether without trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil || wei.Sign() <= 0 {
		return "0"
	}

	v, overflow := uint256.FromBig(wei)
	if overflow {
		return new(big.Int).Quo(wei, weiPerEther.ToBig()).String()
	}

	var whole, frac uint256.Int
	whole.DivMod(v, weiPerEther, &frac)

	if frac.IsZero() {
		return whole.Dec()
	}

	digits := frac.Dec()
	digits = strings.Repeat("0", 18-len(digits)) + digits
	digits = strings.TrimRight(digits, "0")

	return whole.Dec() + "." + digits
}
