package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/yanun0323/logs"
	"gorm.io/gorm"

	"hftsim/internal/schema"
)

const writeTimeout = 5 * time.Second

// EquityRow is one equity sample of a run.
type EquityRow struct {
	ID            uint64    `gorm:"primaryKey"`
	RunID         string    `gorm:"size:36;index:idx_equity_run_tick"`
	Tick          uint64    `gorm:"index:idx_equity_run_tick"`
	Timestamp     time.Time `gorm:"not null"`
	Equity        float64
	Cash          float64
	RealizedPnL   float64
	UnrealizedPnL float64
	Commissions   float64
	Final         bool
}

func (EquityRow) TableName() string { return "sim_equity_points" }

// FillRow is one executed order.
type FillRow struct {
	ID         uint64    `gorm:"primaryKey"`
	RunID      string    `gorm:"size:36;index"`
	OrderID    uint64    `gorm:"not null"`
	Strategy   string    `gorm:"size:64"`
	Symbol     string    `gorm:"size:32"`
	Side       string    `gorm:"size:8"`
	Quantity   float64
	Price      float64
	Commission float64
	Timestamp  time.Time `gorm:"not null"`
}

func (FillRow) TableName() string { return "sim_fills" }

// RejectionRow is one dropped order.
type RejectionRow struct {
	ID       uint64 `gorm:"primaryKey"`
	RunID    string `gorm:"size:36;index"`
	Tick     uint64
	OrderID  uint64
	Strategy string `gorm:"size:64"`
	Symbol   string `gorm:"size:32"`
	Side     string `gorm:"size:8"`
	Quantity float64
	Reason   string `gorm:"size:32"`
	Message  string
}

func (RejectionRow) TableName() string { return "sim_rejections" }

// Sink persists snapshots to PostgreSQL.
type Sink struct {
	db *gorm.DB
}

// New creates a sink on db.
func New(db *gorm.DB) (*Sink, error) {
	if db == nil {
		return nil, fmt.Errorf("sink needs a database handle")
	}
	return &Sink{db: db}, nil
}

// Migrate creates or updates the sink tables.
func (s *Sink) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&EquityRow{}, &FillRow{}, &RejectionRow{})
}

// Write stores one snapshot in a single transaction.
func (s *Sink) Write(ctx context.Context, snap schema.Snapshot) error {
	rows := rowsFromSnapshot(snap)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rows.equity).Error; err != nil {
			return fmt.Errorf("insert equity point: %w", err)
		}
		if len(rows.fills) > 0 {
			if err := tx.Create(&rows.fills).Error; err != nil {
				return fmt.Errorf("insert fills: %w", err)
			}
		}
		if len(rows.rejections) > 0 {
			if err := tx.Create(&rows.rejections).Error; err != nil {
				return fmt.Errorf("insert rejections: %w", err)
			}
		}
		return nil
	})
}

// Handle writes snap and logs failures. It is meant to be a bus handler.
func (s *Sink) Handle(snap schema.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.Write(ctx, snap); err != nil {
		logs.Errorf("sink: write tick %d, err: %+v", snap.Tick, err)
	}
}

type snapshotRows struct {
	equity     EquityRow
	fills      []FillRow
	rejections []RejectionRow
}

func rowsFromSnapshot(snap schema.Snapshot) snapshotRows {
	p := snap.Portfolio
	rows := snapshotRows{
		equity: EquityRow{
			RunID:         snap.RunID,
			Tick:          snap.Tick,
			Timestamp:     snap.Timestamp,
			Equity:        p.Equity,
			Cash:          p.Cash,
			RealizedPnL:   p.RealizedPnL,
			UnrealizedPnL: p.UnrealizedPnL,
			Commissions:   p.Commissions,
			Final:         snap.Final,
		},
	}
	for _, f := range snap.Fills {
		rows.fills = append(rows.fills, FillRow{
			RunID:      snap.RunID,
			OrderID:    f.OrderID,
			Strategy:   f.Strategy,
			Symbol:     f.Symbol,
			Side:       f.Side.String(),
			Quantity:   f.Quantity,
			Price:      f.Price,
			Commission: f.Commission,
			Timestamp:  f.Timestamp,
		})
	}
	for _, r := range snap.Rejections {
		rows.rejections = append(rows.rejections, RejectionRow{
			RunID:    snap.RunID,
			Tick:     snap.Tick,
			OrderID:  r.OrderID,
			Strategy: r.Strategy,
			Symbol:   r.Symbol,
			Side:     r.Side.String(),
			Quantity: r.Quantity,
			Reason:   r.Reason.String(),
			Message:  r.Message,
		})
	}
	return rows
}
