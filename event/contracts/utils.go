package contracts

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// UnpackLog decodes both the data and the indexed topics of lg into out.
func UnpackLog(out interface{}, lg *types.Log, name string, contractAbi *abi.ABI) error {
	eventAbi, ok := contractAbi.Events[name]
	if !ok {
		return fmt.Errorf("event %s not present in supplied ABI", name)
	} else if len(lg.Topics) == 0 {
		return errors.New("anonymous events are not supported")
	} else if lg.Topics[0] != eventAbi.ID {
		return errors.New("event signature mismatch")
	}

	err := contractAbi.UnpackIntoInterface(out, name, lg.Data)
	if err != nil {
		return err
	}

	// handle topics if present
	if len(lg.Topics) > 1 {
		var indexedArgs abi.Arguments
		for _, arg := range eventAbi.Inputs {
			if arg.Indexed {
				indexedArgs = append(indexedArgs, arg)
			}
		}
		if err := abi.ParseTopics(out, indexedArgs, lg.Topics[1:]); err != nil {
			return err
		}
	}
	return nil
}

// EventID returns the topic0 of a named event, or the zero hash if absent.
func EventID(contractAbi *abi.ABI, name string) common.Hash {
	ev, ok := contractAbi.Events[name]
	if !ok {
		return common.Hash{}
	}
	return ev.ID
}

type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Call packs method, runs it against contract at blockNumber and returns
// the unpacked outputs.
func Call(ctx context.Context, caller ContractCaller, contractAbi *abi.ABI, contract common.Address, blockNumber *big.Int, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contractAbi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, blockNumber)
	if err != nil {
		return nil, err
	}
	values, err := contractAbi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	return values, nil
}

// CallBig is Call for methods returning a single integer.
func CallBig(ctx context.Context, caller ContractCaller, contractAbi *abi.ABI, contract common.Address, blockNumber *big.Int, method string, args ...interface{}) (*big.Int, error) {
	values, err := Call(ctx, caller, contractAbi, contract, blockNumber, method, args...)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	n, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s returned %T, expected integer", method, values[0])
	}
	return n, nil
}

// CallDecimals reads an ERC-20 style decimals() value.
func CallDecimals(ctx context.Context, caller ContractCaller, contractAbi *abi.ABI, contract common.Address, blockNumber *big.Int) (uint8, error) {
	values, err := Call(ctx, caller, contractAbi, contract, blockNumber, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals returned %T", values[0])
	}
	return d, nil
}

// PairReserves reads getReserves() and totalSupply() from a Uniswap V2 pair.
func PairReserves(ctx context.Context, caller ContractCaller, pair common.Address, blockNumber *big.Int) (reserve0, reserve1, totalSupply *big.Int, err error) {
	values, err := Call(ctx, caller, UniswapV2PairABI, pair, blockNumber, "getReserves")
	if err != nil {
		return nil, nil, nil, err
	}
	if len(values) < 2 {
		return nil, nil, nil, errors.New("getReserves returned too few values")
	}
	reserve0, ok0 := values[0].(*big.Int)
	reserve1, ok1 := values[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, nil, fmt.Errorf("unexpected getReserves types %T, %T", values[0], values[1])
	}
	totalSupply, err = CallBig(ctx, caller, UniswapV2PairABI, pair, blockNumber, "totalSupply")
	if err != nil {
		return nil, nil, nil, err
	}
	return reserve0, reserve1, totalSupply, nil
}
