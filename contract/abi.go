package contract

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

//go:embed smartdoor.abi.json
var abiJSON []byte

var parsedABI = sync.OnceValues(func() (abi.ABI, error) {
	return ParseABI(bytes.NewReader(abiJSON))
})

// ABI returns the interface descriptor of the deployed contract.
func ABI() (abi.ABI, error) {
	return parsedABI()
}

// ParseABI reads an interface descriptor and checks that it declares every
// method and event this package knows about.
func ParseABI(r io.Reader) (abi.ABI, error) {
	parsed, err := abi.JSON(r)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi: %w", err)
	}

	for _, m := range Methods() {
		if _, err := ResolveMethod(parsed, m); err != nil {
			return abi.ABI{}, err
		}
	}

	for _, k := range AllEvents() {
		if _, ok := parsed.Events[k.ABIName()]; !ok {
			return abi.ABI{}, fmt.Errorf("abi has no event %q", k.ABIName())
		}
	}

	return parsed, nil
}

// ResolveMethod returns the ABI key of m. Overloaded methods appear in
// go-ethereum's method table as name, name0, name1...; the right one is
// picked by raw name and argument count.
func ResolveMethod(parsed abi.ABI, m Method) (string, error) {
	spec, ok := methodSpecs[m]
	if !ok {
		return "", fmt.Errorf("unknown method %d", int(m))
	}

	keys := make([]string, 0, len(parsed.Methods))
	for key := range parsed.Methods {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		am := parsed.Methods[key]
		if am.RawName == spec.Name && len(am.Inputs) == len(spec.Params) {
			return key, nil
		}
	}

	return "", fmt.Errorf("abi has no method %s", spec.Label)
}
