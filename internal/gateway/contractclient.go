package gateway

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
)

// ContractClient is a typed, per-contract read/write facade, generalized
// from the teacher's pkg/contractclient.ContractClient to the fund's
// full ABI surface. It never holds a private key: Send (on Gateway)
// asks a KeyService to authorize and sign; ContractClient itself only
// builds call data and decodes results.
type ContractClient interface {
	ContractAddress() common.Address
	Abi() abi.ABI
	Call(ctx context.Context, from *common.Address, block *big.Int, method string, args ...any) ([]any, error)
	EstimateGas(ctx context.Context, from common.Address, method string, args ...any) (uint64, error)
	BuildCallData(method string, args ...any) ([]byte, error)
	DecodeTransaction(data []byte) (*DecodedCall, error)
	ParseReceipt(receipt *types.Receipt) ([]DecodedEvent, error)
}

// DecodedCall is the result of decoding a transaction's input data
// against this contract's ABI (teacher's DecodeTransaction result).
type DecodedCall struct {
	MethodName string
	Parameter  map[string]any
}

// DecodedEvent is one decoded log entry from a receipt (teacher's
// ParseReceipt JSON-shaped result, kept structured here).
type DecodedEvent struct {
	EventName string
	LogIndex  uint
	Parameter map[string]any
}

type ethContractClient struct {
	client  *ethclient.Client
	address common.Address
	abi     abi.ABI
}

// NewContractClient constructs a ContractClient bound to one address and
// one ABI, matching the teacher's pkg/contractclient.NewContractClient
// signature.
func NewContractClient(client *ethclient.Client, address common.Address, contractABI abi.ABI) ContractClient {
	return &ethContractClient{client: client, address: address, abi: contractABI}
}

func (c *ethContractClient) ContractAddress() common.Address { return c.address }
func (c *ethContractClient) Abi() abi.ABI                     { return c.abi }

func (c *ethContractClient) Call(ctx context.Context, from *common.Address, block *big.Int, method string, args ...any) ([]any, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "pack call %s", method)
	}

	msg := ethereum.CallMsg{To: &c.address, Data: data}
	if from != nil {
		msg.From = *from
	}

	out, err := c.client.CallContract(ctx, msg, block)
	if err != nil {
		return nil, classifyRPCError(err)
	}

	results, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, errors.Wrapf(err, "unpack call %s", method)
	}
	return results, nil
}

func (c *ethContractClient) EstimateGas(ctx context.Context, from common.Address, method string, args ...any) (uint64, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return 0, errors.Wrapf(err, "pack estimate %s", method)
	}
	gas, err := c.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &c.address, Data: data})
	if err != nil {
		return 0, classifyRPCError(err)
	}
	return gas, nil
}

func (c *ethContractClient) BuildCallData(method string, args ...any) ([]byte, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "pack %s", method)
	}
	return data, nil
}

func (c *ethContractClient) DecodeTransaction(data []byte) (*DecodedCall, error) {
	if len(data) < 4 {
		return nil, errors.Wrap(ErrDecodeError, "tx data shorter than selector")
	}
	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return nil, errors.Wrap(ErrDecodeError, err.Error())
	}
	args := map[string]any{}
	if err := method.Inputs.UnpackIntoMap(args, data[4:]); err != nil {
		return nil, errors.Wrap(ErrDecodeError, err.Error())
	}
	return &DecodedCall{MethodName: method.Name, Parameter: args}, nil
}

func (c *ethContractClient) ParseReceipt(receipt *types.Receipt) ([]DecodedEvent, error) {
	var events []DecodedEvent
	for _, l := range receipt.Logs {
		if l.Address != c.address || len(l.Topics) == 0 {
			continue
		}
		ev, err := c.abi.EventByID(l.Topics[0])
		if err != nil {
			continue // unknown event on this contract: skip, never fail the whole receipt
		}
		args := map[string]any{}
		if len(l.Data) > 0 {
			if err := c.abi.UnpackIntoMap(args, ev.Name, l.Data); err != nil {
				continue
			}
		}
		for i, input := range ev.Inputs {
			if input.Indexed && i+1 < len(l.Topics) {
				args[input.Name] = l.Topics[i+1]
			}
		}
		events = append(events, DecodedEvent{EventName: ev.Name, LogIndex: uint(l.Index), Parameter: args})
	}
	return events, nil
}

// MarshalDecodedEvents renders decoded events as a JSON array, the
// shape the teacher's MintNftTokenId-style receipt scanners expect.
func MarshalDecodedEvents(events []DecodedEvent) (string, error) {
	b, err := json.Marshal(events)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// abiEventDecoder decodes logs against a single contract's ABI, the
// same unpack sequence ParseReceipt uses for a confirmed transaction's
// receipt, exposed here as an EventDecoder for the Ingestor's live
// subscription and backfill paths.
type abiEventDecoder struct {
	abi abi.ABI
}

// NewABIEventDecoder builds an EventDecoder from a compiled ABI, used by
// cmd/controlplane to wire one decoder per tracked contract.
func NewABIEventDecoder(contractABI abi.ABI) EventDecoder {
	return abiEventDecoder{abi: contractABI}
}

func (d abiEventDecoder) DecodeLog(l types.Log) (string, map[string]any, error) {
	if len(l.Topics) == 0 {
		return "", nil, errors.Wrap(ErrDecodeError, "log has no topics")
	}
	ev, err := d.abi.EventByID(l.Topics[0])
	if err != nil {
		return "", nil, errors.Wrap(ErrDecodeError, err.Error())
	}
	args := map[string]any{}
	if len(l.Data) > 0 {
		if err := d.abi.UnpackIntoMap(args, ev.Name, l.Data); err != nil {
			return "", nil, errors.Wrap(ErrDecodeError, err.Error())
		}
	}
	for i, input := range ev.Inputs {
		if input.Indexed && i+1 < len(l.Topics) {
			args[input.Name] = l.Topics[i+1]
		}
	}
	return ev.Name, args, nil
}

func classifyRPCError(err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(ErrTransientRPC, err.Error())
}
