package escrow

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bountyboard/internal/contracts"
	"bountyboard/internal/ledger"
)

var boardAddress = common.HexToAddress("0x00000000000000000000000000000000000b0a2d")

// contractLog builds a log the way the contract would emit it.
func contractLog(t *testing.T, name string, block uint64, id uint64, account *common.Address, amount *big.Int) types.Log {
	t.Helper()
	parsed, err := contracts.ParsedBountyBoard()
	require.NoError(t, err)
	ev := parsed.Events[name]

	topics := []common.Hash{ev.ID, common.BigToHash(new(big.Int).SetUint64(id))}
	if account != nil {
		topics = append(topics, common.BytesToHash(account.Bytes()))
	}
	var data []byte
	if amount != nil {
		data, err = ev.Inputs.NonIndexed().Pack(amount)
		require.NoError(t, err)
	}
	return types.Log{
		Address:     boardAddress,
		Topics:      topics,
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block*1000 + id)),
	}
}

func TestDecodeLog(t *testing.T) {
	parsed, err := contracts.ParsedBountyBoard()
	require.NoError(t, err)

	cases := []struct {
		name    string
		lg      types.Log
		kind    ledger.EventKind
		account common.Address
		amount  string
	}{
		{"created", contractLog(t, contracts.EventCreated, 10, 3, &creator, ether(2)), ledger.EventCreated, creator, "2000000000000000000"},
		{"submitted", contractLog(t, contracts.EventSubmitted, 11, 3, &hunter, nil), ledger.EventSubmitted, hunter, ""},
		{"approved", contractLog(t, contracts.EventApproved, 12, 3, &hunter, big.NewInt(1900)), ledger.EventApproved, hunter, "1900"},
		{"rejected", contractLog(t, contracts.EventRejected, 12, 3, nil, nil), ledger.EventRejected, common.Address{}, ""},
		{"cancelled", contractLog(t, contracts.EventCancelled, 13, 3, nil, nil), ledger.EventCancelled, common.Address{}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := DecodeLog(parsed, tc.lg)
			require.NoError(t, err)
			assert.Equal(t, tc.kind, ev.Kind)
			assert.Equal(t, uint64(3), ev.BountyID)
			assert.Equal(t, tc.account, ev.Account)
			assert.Equal(t, tc.lg.BlockNumber, ev.Block)
			assert.Equal(t, tc.lg.TxHash.Hex(), ev.TxHash)
			if tc.amount == "" {
				assert.Nil(t, ev.Amount)
			} else {
				require.NotNil(t, ev.Amount)
				assert.Equal(t, tc.amount, ev.Amount.String())
			}
		})
	}
}

func TestDecodeLogRejectsForeignLogs(t *testing.T) {
	parsed, err := contracts.ParsedBountyBoard()
	require.NoError(t, err)

	_, err = DecodeLog(parsed, types.Log{Topics: []common.Hash{{0x01}, {0x02}}})
	assert.ErrorIs(t, err, errUnknownEvent)

	_, err = DecodeLog(parsed, types.Log{})
	assert.ErrorIs(t, err, errUnknownEvent)

	lg := contractLog(t, contracts.EventApproved, 1, 1, &hunter, big.NewInt(1))
	lg.Topics = lg.Topics[:2]
	_, err = DecodeLog(parsed, lg)
	assert.Error(t, err)
}

func TestDecodeReceiptKeepsContractLogs(t *testing.T) {
	parsed, err := contracts.ParsedBountyBoard()
	require.NoError(t, err)

	ours := contractLog(t, contracts.EventCreated, 5, 0, &creator, ether(1))
	foreign := contractLog(t, contracts.EventCreated, 5, 1, &creator, ether(1))
	foreign.Address = common.HexToAddress("0x1234")

	events := decodeReceipt(parsed, boardAddress, &types.Receipt{Logs: []*types.Log{&ours, &foreign, nil}})
	require.Len(t, events, 1)
	assert.Equal(t, uint64(0), events[0].BountyID)
}
