package ledger

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Status is the lifecycle position of a bounty. The numeric values match the
// uint8 the BountyBoard contract returns from bounties(id).
type Status uint8

const (
	StatusOpen Status = iota
	StatusSubmitted
	StatusApproved
	StatusCancelled
)

var statusNames = [...]string{"open", "submitted", "approved", "cancelled"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusCancelled
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func ParseStatus(value string) (Status, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	for i, name := range statusNames {
		if v == name {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown bounty status %q", value)
}

// Bounty is one escrowed reward. Bounties are never removed; terminal ones
// stay as a historical record.
type Bounty struct {
	ID          uint64         `json:"id"`
	Creator     common.Address `json:"creator"`
	Reward      *big.Int       `json:"reward"`
	Deadline    uint64         `json:"deadline"`
	Status      Status         `json:"status"`
	Hunter      common.Address `json:"hunter"`
	Description string         `json:"description"`
	Submission  string         `json:"submission"`
}

// Summary is the getBounty view: the record without its text fields.
type Summary struct {
	ID       uint64         `json:"id"`
	Creator  common.Address `json:"creator"`
	Reward   *big.Int       `json:"reward"`
	Deadline uint64         `json:"deadline"`
	Status   Status         `json:"status"`
	Hunter   common.Address `json:"hunter"`
}

// Exists reports whether the record came from a real create. Never-created
// ids read back as a zero record with no reward.
func (b Bounty) Exists() bool {
	return b.Reward != nil && b.Reward.Sign() > 0
}

func (b Bounty) HasHunter() bool {
	return b.Hunter != (common.Address{})
}

func (b Bounty) Summary() Summary {
	return Summary{
		ID:       b.ID,
		Creator:  b.Creator,
		Reward:   copyAmount(b.Reward),
		Deadline: b.Deadline,
		Status:   b.Status,
		Hunter:   b.Hunter,
	}
}

func (b Bounty) clone() Bounty {
	b.Reward = copyAmount(b.Reward)
	return b
}

// Expired is display-only: an Open bounty whose deadline has passed.
func Expired(b Bounty, now time.Time) bool {
	return b.Exists() && b.Status == StatusOpen && uint64(now.Unix()) > b.Deadline
}

// Filter selects bounties the way the browse view groups them.
type Filter string

const (
	FilterAll       Filter = "all"
	FilterOpen      Filter = "open"
	FilterSubmitted Filter = "submitted"
	FilterDone      Filter = "done"
)

func ParseFilter(value string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(value))); f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterOpen, FilterSubmitted, FilterDone:
		return f, nil
	default:
		return "", fmt.Errorf("unknown filter %q", value)
	}
}

func (f Filter) Match(s Status) bool {
	switch f {
	case FilterOpen:
		return s == StatusOpen
	case FilterSubmitted:
		return s == StatusSubmitted
	case FilterDone:
		return s.Terminal()
	default:
		return true
	}
}

// Stats aggregates ledger-wide figures for dashboards.
type Stats struct {
	BountyCount   uint64         `json:"bountyCount"`
	PlatformFee   uint64         `json:"platformFee"`
	FeesCollected *big.Int       `json:"feesCollected"`
	FeesWithdrawn *big.Int       `json:"feesWithdrawn"`
	Escrowed      *big.Int       `json:"escrowed"`
	Owner         common.Address `json:"owner"`
	Open          int            `json:"open"`
	Submitted     int            `json:"submitted"`
	Approved      int            `json:"approved"`
	Cancelled     int            `json:"cancelled"`
}

// FeeFor returns floor(reward * bps / 10000).
func FeeFor(reward *big.Int, bps uint64) *big.Int {
	if reward == nil {
		return new(big.Int)
	}
	fee := new(big.Int).Mul(reward, new(big.Int).SetUint64(bps))
	return fee.Quo(fee, big.NewInt(MaxFeeBps))
}

func copyAmount(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
