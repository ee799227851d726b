package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"bountyboard/internal/ledger"
)

type bountyRow struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement:false"`
	Creator     string `gorm:"not null"`
	Reward      string `gorm:"not null"`
	Deadline    uint64
	Status      uint8
	Hunter      string
	Description string
	Submission  string
}

func (bountyRow) TableName() string { return "bounties" }

type totalsRow struct {
	ID            uint8 `gorm:"primaryKey;autoIncrement:false"`
	FeesCollected string
	FeesWithdrawn string
}

func (totalsRow) TableName() string { return "ledger_totals" }

type eventRow struct {
	Seq        uint64 `gorm:"primaryKey;autoIncrement:false"`
	Kind       string `gorm:"not null"`
	BountyID   uint64 `gorm:"index"`
	Account    string
	Amount     *string
	OccurredAt time.Time
}

func (eventRow) TableName() string { return "ledger_events" }

// SQLiteStore persists the ledger through gorm on an embedded SQLite
// database. An empty path opens a private in-memory database.
type SQLiteStore struct {
	db *gorm.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	var dsn string
	if path == "" {
		dsn = fmt.Sprintf("file:bountyboard-%s?mode=memory&cache=shared", uuid.NewString())
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, err
	}
	for _, model := range []any{&bountyRow{}, &totalsRow{}, &eventRow{}} {
		if err := db.AutoMigrate(model); err != nil {
			return nil, err
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLiteStore) Load(ctx context.Context) (*ledger.Snapshot, error) {
	db := s.db.WithContext(ctx)
	snap := &ledger.Snapshot{}

	var bounties []bountyRow
	if err := db.Order("id").Find(&bounties).Error; err != nil {
		return nil, err
	}
	for i, row := range bounties {
		if row.ID != uint64(i) {
			return nil, fmt.Errorf("bounty ids not contiguous at %d", row.ID)
		}
		reward, err := parseAmount(row.Reward)
		if err != nil {
			return nil, err
		}
		snap.Bounties = append(snap.Bounties, ledger.Bounty{
			ID:          row.ID,
			Creator:     common.HexToAddress(row.Creator),
			Reward:      reward,
			Deadline:    row.Deadline,
			Status:      ledger.Status(row.Status),
			Hunter:      common.HexToAddress(row.Hunter),
			Description: row.Description,
			Submission:  row.Submission,
		})
	}

	var totals totalsRow
	err := db.Where("id = ?", 1).First(&totals).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if snap.FeesCollected, err = parseAmount(totals.FeesCollected); err != nil {
		return nil, err
	}
	if snap.FeesWithdrawn, err = parseAmount(totals.FeesWithdrawn); err != nil {
		return nil, err
	}

	var events []eventRow
	if err := db.Order("seq").Find(&events).Error; err != nil {
		return nil, err
	}
	for _, row := range events {
		ev := ledger.Event{
			Seq:      row.Seq,
			Kind:     ledger.EventKind(row.Kind),
			BountyID: row.BountyID,
			Account:  common.HexToAddress(row.Account),
			Time:     row.OccurredAt.UTC(),
		}
		if row.Amount != nil {
			if ev.Amount, err = parseAmount(*row.Amount); err != nil {
				return nil, err
			}
		}
		snap.Events = append(snap.Events, ev)
	}
	return snap, nil
}

func (s *SQLiteStore) Apply(ctx context.Context, c ledger.Commit) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if b := c.Bounty; b != nil {
			row := bountyRow{
				ID:          b.ID,
				Creator:     b.Creator.Hex(),
				Reward:      amount(b.Reward).String(),
				Deadline:    b.Deadline,
				Status:      uint8(b.Status),
				Hunter:      b.Hunter.Hex(),
				Description: b.Description,
				Submission:  b.Submission,
			}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
				return err
			}
		}
		totals := totalsRow{
			ID:            1,
			FeesCollected: amount(c.FeesCollected).String(),
			FeesWithdrawn: amount(c.FeesWithdrawn).String(),
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&totals).Error; err != nil {
			return err
		}
		for _, ev := range c.Events {
			row := eventRow{
				Seq:        ev.Seq,
				Kind:       string(ev.Kind),
				BountyID:   ev.BountyID,
				Account:    ev.Account.Hex(),
				OccurredAt: ev.Time,
			}
			if ev.Amount != nil {
				v := ev.Amount.String()
				row.Amount = &v
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
