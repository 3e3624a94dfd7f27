package contracts

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// EncodeLog builds the log contract would emit for the named event. args
// follow the ABI input order, indexed and non-indexed interleaved.
func EncodeLog(contractAbi *abi.ABI, name string, contract common.Address, args ...interface{}) (types.Log, error) {
	ev, ok := contractAbi.Events[name]
	if !ok {
		return types.Log{}, fmt.Errorf("event %s not present in supplied ABI", name)
	}
	if len(args) != len(ev.Inputs) {
		return types.Log{}, fmt.Errorf("event %s takes %d args, got %d", name, len(ev.Inputs), len(args))
	}

	topics := []common.Hash{ev.ID}
	var data []interface{}
	for i, input := range ev.Inputs {
		if !input.Indexed {
			data = append(data, args[i])
			continue
		}
		t, err := abi.MakeTopics([]interface{}{args[i]})
		if err != nil {
			return types.Log{}, fmt.Errorf("failed to encode topic %s: %w", input.Name, err)
		}
		topics = append(topics, t[0][0])
	}

	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		return types.Log{}, fmt.Errorf("failed to pack %s data: %w", name, err)
	}
	return types.Log{Address: contract, Topics: topics, Data: packed}, nil
}
