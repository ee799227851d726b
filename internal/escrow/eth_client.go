package escrow

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	log "github.com/sirupsen/logrus"

	"bountyboard/internal/contracts"
	"bountyboard/internal/ledger"
)

var (
	ErrReadOnly = errors.New("client is read-only")
	// ErrMissingEvent means a mined transaction carried no log the client
	// needs to report its outcome.
	ErrMissingEvent = errors.New("expected event not found in receipt")
)

// Backend is the node surface the EthClient needs. *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// EthClient sends transactions to a deployed BountyBoard contract. Writes are
// signed by one key, so the caller of every write must be that key's address.
type EthClient struct {
	backend        Backend
	contract       *bind.BoundContract
	abi            abi.ABI
	address        common.Address
	chainID        *big.Int
	transacts      *bind.TransactOpts
	receiptTimeout time.Duration
	pollInterval   time.Duration
}

type EthClientConfig struct {
	RPCURL          string
	PrivateKeyHex   string
	ContractAddress string
	// ChainID, when set, must match the node's chain id.
	ChainID        uint64
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
}

func NewEthClient(ctx context.Context, cfg EthClientConfig) (*EthClient, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	c, err := NewEthClientWithBackend(ctx, cli, cfg)
	if err != nil {
		cli.Close()
		return nil, err
	}
	return c, nil
}

func NewEthClientWithBackend(ctx context.Context, backend Backend, cfg EthClientConfig) (*EthClient, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("bounty board address is required")
	}
	parsedABI, err := contracts.ParsedBountyBoard()
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	if cfg.ChainID != 0 && chainID.Uint64() != cfg.ChainID {
		return nil, fmt.Errorf("node is on chain %s, expected %d", chainID, cfg.ChainID)
	}

	address := common.HexToAddress(cfg.ContractAddress)
	c := &EthClient{
		backend:        backend,
		contract:       bind.NewBoundContract(address, parsedABI, backend, backend, backend),
		abi:            parsedABI,
		address:        address,
		chainID:        chainID,
		receiptTimeout: cfg.ReceiptTimeout,
		pollInterval:   cfg.PollInterval,
	}
	if c.receiptTimeout <= 0 {
		c.receiptTimeout = 2 * time.Minute
	}
	if c.pollInterval <= 0 {
		c.pollInterval = 2 * time.Second
	}

	if cfg.PrivateKeyHex == "" {
		log.WithField("contract", address.Hex()).Warn("[ESCROW] No signing key configured, client is read-only")
		return c, nil
	}
	pk, err := parsePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}
	txOpts, err := bind.NewKeyedTransactorWithChainID(pk, chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	txOpts.GasLimit = 0 // let node estimate
	c.transacts = txOpts

	log.WithFields(log.Fields{
		"contract": address.Hex(),
		"signer":   txOpts.From.Hex(),
		"chain_id": chainID.String(),
	}).Info("[ESCROW] Connected to bounty board")
	return c, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

// Signer is the address writes are sent from, or the zero address when read-only.
func (c *EthClient) Signer() common.Address {
	if c.transacts == nil {
		return common.Address{}
	}
	return c.transacts.From
}

func (c *EthClient) Address() common.Address {
	return c.address
}

func (c *EthClient) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *EthClient) Create(ctx context.Context, req CreateRequest) (Receipt, error) {
	if req.Reward == nil || req.Reward.Sign() <= 0 {
		return Receipt{}, fmt.Errorf("create: %w: deposit must be greater than zero", ledger.ErrInvalidArgument)
	}
	r, err := c.transact(ctx, "create", req.Caller, req.Reward, "create", new(big.Int).SetUint64(req.Deadline), req.Description)
	if err != nil {
		return Receipt{}, err
	}
	found := false
	for _, ev := range r.Events {
		if ev.Kind == ledger.EventCreated {
			r.BountyID = ev.BountyID
			found = true
			break
		}
	}
	r.Amount = new(big.Int).Set(req.Reward)
	if !found {
		return r, fmt.Errorf("create: tx %s: %w: %s", r.TxHash, ErrMissingEvent, ledger.EventCreated)
	}
	return r, nil
}

func (c *EthClient) Submit(ctx context.Context, req SubmitRequest) (Receipt, error) {
	r, err := c.transact(ctx, "submit", req.Caller, nil, "submit", new(big.Int).SetUint64(req.ID), req.Work)
	return withID(r, req.ID), err
}

func (c *EthClient) Approve(ctx context.Context, caller common.Address, id uint64) (Receipt, error) {
	r, err := c.transact(ctx, "approve", caller, nil, "approve", new(big.Int).SetUint64(id))
	if err != nil {
		return Receipt{}, err
	}
	r.BountyID = id
	for _, ev := range r.Events {
		if ev.Kind == ledger.EventApproved {
			r.Amount = ev.Amount
		}
	}
	return r, nil
}

func (c *EthClient) Reject(ctx context.Context, caller common.Address, id uint64) (Receipt, error) {
	r, err := c.transact(ctx, "reject", caller, nil, "reject", new(big.Int).SetUint64(id))
	return withID(r, id), err
}

func (c *EthClient) Cancel(ctx context.Context, caller common.Address, id uint64) (Receipt, error) {
	r, err := c.transact(ctx, "cancel", caller, nil, "cancel", new(big.Int).SetUint64(id))
	return withID(r, id), err
}

func withID(r Receipt, id uint64) Receipt {
	if r.TxHash != "" {
		r.BountyID = id
	}
	return r
}

// WithdrawFees reports the fees read just before sending as the amount. The
// contract emits no event for it, so a FeesWithdrawn event is added here.
func (c *EthClient) WithdrawFees(ctx context.Context, caller common.Address) (Receipt, error) {
	fees, err := c.callUint(ctx, "feesCollected")
	if err != nil {
		return Receipt{}, fmt.Errorf("withdrawFees: read fees: %w", err)
	}
	r, err := c.transact(ctx, "withdrawFees", caller, nil, "withdrawFees")
	if err != nil {
		return r, err
	}
	r.Amount = fees
	r.Events = append(r.Events, ledger.Event{
		Kind:    ledger.EventFeesWithdrawn,
		Account: caller,
		Amount:  new(big.Int).Set(fees),
		Time:    time.Now().UTC(),
		TxHash:  r.TxHash,
	})
	return r, nil
}

func (c *EthClient) transact(ctx context.Context, op string, caller common.Address, value *big.Int, method string, args ...any) (Receipt, error) {
	if c.transacts == nil {
		return Receipt{}, fmt.Errorf("%s: %w", op, ErrReadOnly)
	}
	if caller != c.transacts.From {
		return Receipt{}, fmt.Errorf("%s: %w: caller %s is not the signer %s", op, ledger.ErrUnauthorized, caller.Hex(), c.transacts.From.Hex())
	}

	opts := *c.transacts
	opts.Context = ctx
	opts.Value = value

	tx, err := c.contract.Transact(&opts, method, args...)
	if err != nil {
		return Receipt{}, classifyRevert(op, err)
	}
	log.WithFields(log.Fields{"op": op, "tx": tx.Hash().Hex()}).Info("[ESCROW] Transaction sent")

	waitCtx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()
	receipt, err := WaitForReceipt(waitCtx, c.backend, tx.Hash(), c.pollInterval)
	if err != nil {
		return Receipt{}, fmt.Errorf("%s: wait for %s: %w", op, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return Receipt{}, fmt.Errorf("%s: transaction %s reverted", op, tx.Hash().Hex())
	}

	events := decodeReceipt(c.abi, c.address, receipt)
	now := time.Now().UTC()
	for i := range events {
		events[i].Time = now
	}
	return Receipt{TxHash: tx.Hash().Hex(), Events: events}, nil
}

func (c *EthClient) call(ctx context.Context, method string, args ...any) ([]any, error) {
	var out []any
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return out, nil
}

func (c *EthClient) Bounty(ctx context.Context, id uint64) (ledger.Bounty, error) {
	out, err := c.call(ctx, "bounties", new(big.Int).SetUint64(id))
	if err != nil {
		return ledger.Bounty{}, err
	}
	return ledger.Bounty{
		ID:          id,
		Creator:     *abi.ConvertType(out[0], new(common.Address)).(*common.Address),
		Reward:      *abi.ConvertType(out[1], new(*big.Int)).(**big.Int),
		Deadline:    (*abi.ConvertType(out[2], new(*big.Int)).(**big.Int)).Uint64(),
		Status:      ledger.Status(*abi.ConvertType(out[3], new(uint8)).(*uint8)),
		Hunter:      *abi.ConvertType(out[4], new(common.Address)).(*common.Address),
		Description: *abi.ConvertType(out[5], new(string)).(*string),
		Submission:  *abi.ConvertType(out[6], new(string)).(*string),
	}, nil
}

func (c *EthClient) Summary(ctx context.Context, id uint64) (ledger.Summary, error) {
	out, err := c.call(ctx, "getBounty", new(big.Int).SetUint64(id))
	if err != nil {
		return ledger.Summary{}, err
	}
	return ledger.Summary{
		ID:       id,
		Creator:  *abi.ConvertType(out[0], new(common.Address)).(*common.Address),
		Reward:   *abi.ConvertType(out[1], new(*big.Int)).(**big.Int),
		Deadline: (*abi.ConvertType(out[2], new(*big.Int)).(**big.Int)).Uint64(),
		Status:   ledger.Status(*abi.ConvertType(out[3], new(uint8)).(*uint8)),
		Hunter:   *abi.ConvertType(out[4], new(common.Address)).(*common.Address),
	}, nil
}

func (c *EthClient) callUint(ctx context.Context, method string) (*big.Int, error) {
	out, err := c.call(ctx, method)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (c *EthClient) Info(ctx context.Context) (Info, error) {
	count, err := c.callUint(ctx, "bountyCount")
	if err != nil {
		return Info{}, err
	}
	fee, err := c.callUint(ctx, "platformFee")
	if err != nil {
		return Info{}, err
	}
	fees, err := c.callUint(ctx, "feesCollected")
	if err != nil {
		return Info{}, err
	}
	out, err := c.call(ctx, "owner")
	if err != nil {
		return Info{}, err
	}
	return Info{
		BountyCount:   count.Uint64(),
		PlatformFee:   fee.Uint64(),
		FeesCollected: fees,
		Owner:         *abi.ConvertType(out[0], new(common.Address)).(*common.Address),
	}, nil
}

// List reads bounties one by one from the newest id down, the same way the
// board's browse view does.
func (c *EthClient) List(ctx context.Context, f ledger.Filter, offset, limit int) ([]ledger.Bounty, int, error) {
	count, err := c.callUint(ctx, "bountyCount")
	if err != nil {
		return nil, 0, err
	}
	var (
		out   []ledger.Bounty
		total int
	)
	for id := count.Uint64(); id > 0; id-- {
		b, err := c.Bounty(ctx, id-1)
		if err != nil {
			return nil, 0, err
		}
		if !f.Match(b.Status) {
			continue
		}
		if total >= offset && (limit <= 0 || len(out) < limit) {
			out = append(out, b)
		}
		total++
	}
	return out, total, nil
}

func (c *EthClient) Ping(ctx context.Context) error {
	if c.backend == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := c.backend.BlockNumber(ctx)
	return err
}

var revertKinds = []struct {
	kind    error
	phrases []string
}{
	{ledger.ErrUnauthorized, []string{"not creator", "not owner", "only owner", "only creator", "unauthorized"}},
	{ledger.ErrInvalidState, []string{"not open", "not submitted", "invalid status", "wrong status"}},
	{ledger.ErrNotFound, []string{"does not exist", "invalid id", "no bounty"}},
	{ledger.ErrInvalidArgument, []string{"no reward", "zero", "deadline", "empty", "insufficient funds"}},
}

// classifyRevert maps a failed send or gas estimation onto the ledger error
// kinds using the revert message.
func classifyRevert(op string, err error) error {
	msg := strings.ToLower(err.Error())
	for _, rk := range revertKinds {
		for _, p := range rk.phrases {
			if strings.Contains(msg, p) {
				return fmt.Errorf("%s: %w: %v", op, rk.kind, err)
			}
		}
	}
	return fmt.Errorf("%s tx: %w", op, err)
}

type receiptReader interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// WaitForReceipt polls until the transaction is mined or context cancelled.
func WaitForReceipt(ctx context.Context, client receiptReader, hash common.Hash, every time.Duration) (*types.Receipt, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, hash)
		if receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
