package server

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"bountyboard/internal/config"
	"bountyboard/internal/contracts"
	"bountyboard/internal/escrow"
	"bountyboard/internal/ledger"
)

// Amounts cross the API as decimal wei strings.

type createRequest struct {
	Deadline    uint64 `json:"deadline"`
	Description string `json:"description"`
	Reward      string `json:"reward"`
}

type submitRequest struct {
	Work string `json:"work"`
}

type faucetRequest struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type bountyResponse struct {
	ID          uint64 `json:"id"`
	Creator     string `json:"creator"`
	Reward      string `json:"reward"`
	Deadline    uint64 `json:"deadline"`
	Status      string `json:"status"`
	Hunter      string `json:"hunter,omitempty"`
	Description string `json:"description"`
	Submission  string `json:"submission,omitempty"`
	Exists      bool   `json:"exists"`
	Expired     bool   `json:"expired"`
}

type summaryResponse struct {
	ID       uint64 `json:"id"`
	Creator  string `json:"creator"`
	Reward   string `json:"reward"`
	Deadline uint64 `json:"deadline"`
	Status   string `json:"status"`
	Hunter   string `json:"hunter,omitempty"`
}

type listResponse struct {
	Bounties []bountyResponse `json:"bounties"`
	Total    int              `json:"total"`
	Offset   int              `json:"offset"`
	Limit    int              `json:"limit"`
}

type eventResponse struct {
	Seq      uint64    `json:"seq"`
	Kind     string    `json:"kind"`
	BountyID uint64    `json:"bountyId"`
	Account  string    `json:"account,omitempty"`
	Amount   string    `json:"amount,omitempty"`
	Time     time.Time `json:"time"`
	TxHash   string    `json:"txHash,omitempty"`
	Block    uint64    `json:"block,omitempty"`
}

type eventsResponse struct {
	Events []eventResponse `json:"events"`
	Last   uint64          `json:"last"`
}

type writeResponse struct {
	ID          uint64          `json:"id"`
	Status      string          `json:"status"`
	TxHash      string          `json:"txHash"`
	ExplorerURL string          `json:"explorerUrl,omitempty"`
	Amount      string          `json:"amount,omitempty"`
	Events      []eventResponse `json:"events"`
}

type feesResponse struct {
	Amount      string          `json:"amount"`
	TxHash      string          `json:"txHash"`
	ExplorerURL string          `json:"explorerUrl,omitempty"`
	Events      []eventResponse `json:"events"`
}

type statsResponse struct {
	BountyCount   uint64 `json:"bountyCount"`
	PlatformFee   uint64 `json:"platformFee"`
	FeesCollected string `json:"feesCollected"`
	Owner         string `json:"owner"`
	FeesWithdrawn string `json:"feesWithdrawn,omitempty"`
	Escrowed      string `json:"escrowed,omitempty"`
	Open          *int   `json:"open,omitempty"`
	Submitted     *int   `json:"submitted,omitempty"`
	Approved      *int   `json:"approved,omitempty"`
	Cancelled     *int   `json:"cancelled,omitempty"`
}

type balanceResponse struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

func weiString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func toBountyResponse(b ledger.Bounty, now time.Time) bountyResponse {
	resp := bountyResponse{
		ID:          b.ID,
		Creator:     b.Creator.Hex(),
		Reward:      weiString(b.Reward),
		Deadline:    b.Deadline,
		Status:      b.Status.String(),
		Description: b.Description,
		Submission:  b.Submission,
		Exists:      b.Exists(),
		Expired:     ledger.Expired(b, now),
	}
	if b.HasHunter() {
		resp.Hunter = b.Hunter.Hex()
	}
	return resp
}

func toSummaryResponse(s ledger.Summary) summaryResponse {
	resp := summaryResponse{
		ID:       s.ID,
		Creator:  s.Creator.Hex(),
		Reward:   weiString(s.Reward),
		Deadline: s.Deadline,
		Status:   s.Status.String(),
	}
	if s.Hunter != (common.Address{}) {
		resp.Hunter = s.Hunter.Hex()
	}
	return resp
}

func toEventResponses(events []ledger.Event) []eventResponse {
	out := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		e := eventResponse{
			Seq:      ev.Seq,
			Kind:     string(ev.Kind),
			BountyID: ev.BountyID,
			Time:     ev.Time,
			TxHash:   ev.TxHash,
			Block:    ev.Block,
		}
		if ev.Account != (common.Address{}) {
			e.Account = ev.Account.Hex()
		}
		if ev.Amount != nil {
			e.Amount = ev.Amount.String()
		}
		out = append(out, e)
	}
	return out
}

func toStatsResponse(s ledger.Stats) statsResponse {
	return statsResponse{
		BountyCount:   s.BountyCount,
		PlatformFee:   s.PlatformFee,
		FeesCollected: weiString(s.FeesCollected),
		Owner:         s.Owner.Hex(),
		FeesWithdrawn: weiString(s.FeesWithdrawn),
		Escrowed:      weiString(s.Escrowed),
		Open:          &s.Open,
		Submitted:     &s.Submitted,
		Approved:      &s.Approved,
		Cancelled:     &s.Cancelled,
	}
}

func infoStatsResponse(info escrow.Info) statsResponse {
	return statsResponse{
		BountyCount:   info.BountyCount,
		PlatformFee:   info.PlatformFee,
		FeesCollected: weiString(info.FeesCollected),
		Owner:         info.Owner.Hex(),
	}
}

// explorerURL links a transaction when the chain is known. Local hashes get none.
func (s *Server) explorerURL(txHash string) string {
	if s.cfg.Chain.Mode != config.ModeChain {
		return ""
	}
	chain, ok := contracts.LookupChain(s.cfg.Chain.ChainID)
	if !ok {
		return ""
	}
	return chain.TxURL(txHash)
}
