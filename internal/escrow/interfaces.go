package escrow

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"bountyboard/internal/ledger"
)

// Client abstracts the bounty board, either in-process or on-chain.
type Client interface {
	Create(ctx context.Context, req CreateRequest) (Receipt, error)
	Submit(ctx context.Context, req SubmitRequest) (Receipt, error)
	Approve(ctx context.Context, caller common.Address, id uint64) (Receipt, error)
	Reject(ctx context.Context, caller common.Address, id uint64) (Receipt, error)
	Cancel(ctx context.Context, caller common.Address, id uint64) (Receipt, error)
	WithdrawFees(ctx context.Context, caller common.Address) (Receipt, error)

	Bounty(ctx context.Context, id uint64) (ledger.Bounty, error)
	Summary(ctx context.Context, id uint64) (ledger.Summary, error)
	Info(ctx context.Context) (Info, error)
}

type CreateRequest struct {
	Caller      common.Address
	Deadline    uint64 // unix seconds
	Description string
	Reward      *big.Int // wei
}

type SubmitRequest struct {
	Caller common.Address
	ID     uint64
	Work   string
}

// Receipt describes a confirmed write. TxHash is synthetic for local clients.
type Receipt struct {
	BountyID uint64
	TxHash   string
	Amount   *big.Int
	Events   []ledger.Event
}

type Info struct {
	BountyCount   uint64
	PlatformFee   uint64
	FeesCollected *big.Int
	Owner         common.Address
}

// HealthChecker is implemented by clients that depend on a remote node.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Lister pages through bounties newest first.
type Lister interface {
	List(ctx context.Context, f ledger.Filter, offset, limit int) ([]ledger.Bounty, int, error)
}

type StatsReader interface {
	Stats(ctx context.Context) (ledger.Stats, error)
}

// Faucet credits dev balances. Only local clients provide one.
type Faucet interface {
	Fund(ctx context.Context, to common.Address, amount *big.Int) error
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
}

// EventSource exposes the journal of confirmed events.
type EventSource interface {
	Events() *ledger.EventLog
}
