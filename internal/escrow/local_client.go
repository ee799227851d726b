package escrow

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"bountyboard/internal/ledger"
)

// LocalClient drives an in-process ledger. Transaction hashes are derived
// from the operation so they are stable for a given history.
type LocalClient struct {
	ledger *ledger.Ledger
	vault  *ledger.MemoryVault
}

func NewLocalClient(l *ledger.Ledger, vault *ledger.MemoryVault) *LocalClient {
	return &LocalClient{ledger: l, vault: vault}
}

func (c *LocalClient) Ledger() *ledger.Ledger {
	return c.ledger
}

func (c *LocalClient) Create(ctx context.Context, req CreateRequest) (Receipt, error) {
	r, err := c.ledger.Create(ctx, req.Caller, req.Deadline, req.Description, req.Reward)
	return c.receipt("create", req.Caller, r, err)
}

func (c *LocalClient) Submit(ctx context.Context, req SubmitRequest) (Receipt, error) {
	r, err := c.ledger.Submit(ctx, req.Caller, req.ID, req.Work)
	return c.receipt("submit", req.Caller, r, err)
}

func (c *LocalClient) Approve(ctx context.Context, caller common.Address, id uint64) (Receipt, error) {
	r, err := c.ledger.Approve(ctx, caller, id)
	return c.receipt("approve", caller, r, err)
}

func (c *LocalClient) Reject(ctx context.Context, caller common.Address, id uint64) (Receipt, error) {
	r, err := c.ledger.Reject(ctx, caller, id)
	return c.receipt("reject", caller, r, err)
}

func (c *LocalClient) Cancel(ctx context.Context, caller common.Address, id uint64) (Receipt, error) {
	r, err := c.ledger.Cancel(ctx, caller, id)
	return c.receipt("cancel", caller, r, err)
}

func (c *LocalClient) WithdrawFees(ctx context.Context, caller common.Address) (Receipt, error) {
	r, err := c.ledger.WithdrawFees(ctx, caller)
	return c.receipt("withdrawFees", caller, r, err)
}

func (c *LocalClient) receipt(op string, caller common.Address, r ledger.Receipt, err error) (Receipt, error) {
	if err != nil {
		return Receipt{}, err
	}
	var seq uint64
	if n := len(r.Events); n > 0 {
		seq = r.Events[n-1].Seq
	} else {
		seq = c.ledger.Events().Last()
	}
	return Receipt{
		BountyID: r.BountyID,
		TxHash:   localTxHash(op, caller, r.BountyID, seq),
		Amount:   r.Amount,
		Events:   r.Events,
	}, nil
}

func (c *LocalClient) Bounty(_ context.Context, id uint64) (ledger.Bounty, error) {
	return c.ledger.Bounty(id), nil
}

func (c *LocalClient) Summary(_ context.Context, id uint64) (ledger.Summary, error) {
	return c.ledger.Summary(id), nil
}

func (c *LocalClient) Info(_ context.Context) (Info, error) {
	return Info{
		BountyCount:   c.ledger.BountyCount(),
		PlatformFee:   c.ledger.PlatformFee(),
		FeesCollected: c.ledger.FeesCollected(),
		Owner:         c.ledger.Owner(),
	}, nil
}

func (c *LocalClient) List(_ context.Context, f ledger.Filter, offset, limit int) ([]ledger.Bounty, int, error) {
	out, total := c.ledger.List(f, offset, limit)
	return out, total, nil
}

func (c *LocalClient) Stats(_ context.Context) (ledger.Stats, error) {
	return c.ledger.Stats(), nil
}

func (c *LocalClient) Events() *ledger.EventLog {
	return c.ledger.Events()
}

func (c *LocalClient) Fund(_ context.Context, to common.Address, amount *big.Int) error {
	if c.vault == nil {
		return errors.New("faucet not available")
	}
	if to == (common.Address{}) || amount == nil || amount.Sign() <= 0 {
		return ledger.ErrInvalidArgument
	}
	c.vault.Fund(to, amount)
	return nil
}

func (c *LocalClient) Balance(_ context.Context, addr common.Address) (*big.Int, error) {
	if c.vault == nil {
		return nil, errors.New("faucet not available")
	}
	return c.vault.BalanceOf(addr), nil
}

func localTxHash(op string, caller common.Address, id, seq uint64) string {
	return crypto.Keccak256Hash(
		[]byte(op),
		caller.Bytes(),
		new(big.Int).SetUint64(id).Bytes(),
		new(big.Int).SetUint64(seq).Bytes(),
	).Hex()
}
