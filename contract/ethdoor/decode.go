package ethdoor

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/weiihann/smartdoor/contract"
)

type authorisationTuple struct {
	Timestamp *big.Int
	Guest     common.Address
	Name      string
	Status    uint8
	Exists    bool
}

type accessTuple struct {
	Timestamp *big.Int
	Guest     common.Address
}

func timestamp(v *big.Int) int64 {
	if v == nil {
		return 0
	}

	return v.Int64()
}

func toAuthorization(t authorisationTuple) contract.Authorization {
	if !t.Exists {
		return contract.Authorization{}
	}

	return contract.Authorization{
		Timestamp: timestamp(t.Timestamp),
		Guest:     t.Guest.Hex(),
		Name:      t.Name,
		Status:    contract.Status(t.Status),
	}
}

func decodeAuthorization(v any) contract.Authorization {
	return toAuthorization(*abi.ConvertType(v, new(authorisationTuple)).(*authorisationTuple))
}

func decodeAuthorizations(v any) []contract.Authorization {
	tuples := *abi.ConvertType(v, new([]authorisationTuple)).(*[]authorisationTuple)

	out := make([]contract.Authorization, 0, len(tuples))
	for _, t := range tuples {
		if a := toAuthorization(t); a.Exists() {
			out = append(out, a)
		}
	}

	return out
}

func decodeAccesses(v any) []contract.Access {
	tuples := *abi.ConvertType(v, new([]accessTuple)).(*[]accessTuple)

	out := make([]contract.Access, 0, len(tuples))
	for _, t := range tuples {
		out = append(out, contract.Access{
			Timestamp: timestamp(t.Timestamp),
			Guest:     t.Guest.Hex(),
		})
	}

	return out
}

// decodeLog turns a raw contract log into a notification. Logs of events
// the contract does not declare are reported as errors.
func decodeLog(parsed abi.ABI, l types.Log) (contract.Event, error) {
	if len(l.Topics) == 0 {
		return contract.Event{}, fmt.Errorf("log %s has no topics", l.TxHash.Hex())
	}

	ev, err := parsed.EventByID(l.Topics[0])
	if err != nil {
		return contract.Event{}, fmt.Errorf("log %s: %w", l.TxHash.Hex(), err)
	}

	kind, ok := contract.EventKindFromABI(ev.RawName)
	if !ok {
		return contract.Event{}, fmt.Errorf("log %s: unknown event %s", l.TxHash.Hex(), ev.RawName)
	}

	out := contract.Event{
		Kind:       kind,
		Block:      l.BlockNumber,
		TxHash:     l.TxHash.Hex(),
		ObservedAt: time.Now(),
	}

	inputs := ev.Inputs.NonIndexed()
	if len(inputs) == 0 {
		return out, nil
	}

	values, err := inputs.Unpack(l.Data)
	if err != nil {
		return contract.Event{}, fmt.Errorf("unpack %s: %w", ev.RawName, err)
	}

	if guest, ok := values[0].(common.Address); ok {
		out.Subject = guest.Hex()
	}

	return out, nil
}

func eventTopics(parsed abi.ABI, kinds []contract.EventKind) ([]common.Hash, error) {
	if len(kinds) == 0 {
		kinds = contract.AllEvents()
	}

	ids := make([]common.Hash, 0, len(kinds))
	for _, k := range kinds {
		ev, ok := parsed.Events[k.ABIName()]
		if !ok {
			return nil, fmt.Errorf("abi has no event %s", k.ABIName())
		}
		ids = append(ids, ev.ID)
	}

	return ids, nil
}
