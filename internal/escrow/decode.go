package escrow

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"bountyboard/internal/contracts"
	"bountyboard/internal/ledger"
)

var errUnknownEvent = errors.New("unknown event")

var eventKinds = map[string]ledger.EventKind{
	contracts.EventCreated:   ledger.EventCreated,
	contracts.EventSubmitted: ledger.EventSubmitted,
	contracts.EventApproved:  ledger.EventApproved,
	contracts.EventRejected:  ledger.EventRejected,
	contracts.EventCancelled: ledger.EventCancelled,
}

// DecodeLog turns a BountyBoard contract log into a ledger event. Seq and
// Time are left for the caller to fill.
func DecodeLog(parsed abi.ABI, lg types.Log) (ledger.Event, error) {
	if len(lg.Topics) < 2 {
		return ledger.Event{}, fmt.Errorf("log %s/%d: %w", lg.TxHash.Hex(), lg.Index, errUnknownEvent)
	}
	ev, err := parsed.EventByID(lg.Topics[0])
	if err != nil {
		return ledger.Event{}, fmt.Errorf("log %s/%d: %w", lg.TxHash.Hex(), lg.Index, errUnknownEvent)
	}
	kind, ok := eventKinds[ev.Name]
	if !ok {
		return ledger.Event{}, fmt.Errorf("event %s: %w", ev.Name, errUnknownEvent)
	}

	out := ledger.Event{
		Kind:     kind,
		BountyID: new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64(),
		TxHash:   lg.TxHash.Hex(),
		Block:    lg.BlockNumber,
	}

	switch ev.Name {
	case contracts.EventCreated, contracts.EventSubmitted, contracts.EventApproved:
		if len(lg.Topics) < 3 {
			return ledger.Event{}, fmt.Errorf("event %s: missing account topic", ev.Name)
		}
		out.Account = common.BytesToAddress(lg.Topics[2].Bytes())
	}

	if nonIndexed := ev.Inputs.NonIndexed(); len(nonIndexed) > 0 {
		values, err := nonIndexed.Unpack(lg.Data)
		if err != nil {
			return ledger.Event{}, fmt.Errorf("unpack %s: %w", ev.Name, err)
		}
		amount, ok := values[0].(*big.Int)
		if !ok {
			return ledger.Event{}, fmt.Errorf("unpack %s: unexpected %T", ev.Name, values[0])
		}
		out.Amount = amount
	}
	return out, nil
}

// decodeReceipt collects the contract's events from a mined receipt.
func decodeReceipt(parsed abi.ABI, contract common.Address, receipt *types.Receipt) []ledger.Event {
	var out []ledger.Event
	for _, lg := range receipt.Logs {
		if lg == nil || lg.Address != contract {
			continue
		}
		ev, err := DecodeLog(parsed, *lg)
		if err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out
}
