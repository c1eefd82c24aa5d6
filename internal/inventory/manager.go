// Package inventory implements the Inventory Manager actor: the definitive
// position state, derived strictly from the authenticated fill stream.
package inventory

import (
	"context"
	"log/slog"

	"pairmm/internal/messages"
)

const epsilon = 1e-9

// Config sets the admission-control limits.
type Config struct {
	MaxNetDiff       float64 // default 10.0
	MaxPortfolioCost float64 // default 1.02
	MaxPositionValue float64 // default 5.0 (per-side dollar exposure)
}

// DefaultConfig returns the manager's out-of-the-box tuning.
func DefaultConfig() Config {
	return Config{
		MaxNetDiff:       10.0,
		MaxPortfolioCost: 1.02,
		MaxPositionValue: 5.0,
	}
}

// Manager is the Inventory Manager actor.
type Manager struct {
	cfg      Config
	state    messages.InventoryState
	fillCh   <-chan messages.FillEvent
	stateCh  chan messages.InventoryState // single-slot, overwrite semantics
	logger   *slog.Logger
	applied  int
}

// New constructs the manager with an empty starting position.
func New(cfg Config, fillCh <-chan messages.FillEvent, logger *slog.Logger) *Manager {
	m := &Manager{
		cfg:     cfg,
		state:   messages.DefaultInventoryState(),
		fillCh:  fillCh,
		stateCh: make(chan messages.InventoryState, 1),
		logger:  logger.With("component", "inventory"),
	}
	m.publish()
	return m
}

// States returns the single-slot broadcast channel of inventory snapshots.
func (m *Manager) States() <-chan messages.InventoryState {
	return m.stateCh
}

// Run is the actor main loop. Fill processing is strictly serial in receive
// order; publication happens only after the update is committed.
func (m *Manager) Run(ctx context.Context) {
	m.logger.Info("inventory manager started",
		"max_net_diff", m.cfg.MaxNetDiff,
		"max_portfolio_cost", m.cfg.MaxPortfolioCost,
	)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("inventory manager shutting down", "applied", m.applied)
			return
		case fill, ok := <-m.fillCh:
			if !ok {
				m.logger.Info("inventory manager shutting down", "applied", m.applied)
				return
			}
			m.applyFill(fill)
			m.applied++
			m.publish()
		}
	}
}

// applyFill implements the update rule from the authoritative fill stream.
// Reversal (Failed) subtracts inventory and preserves the average cost on
// the remaining units — the cost of those units did not change when a
// different unit failed. The average resets to zero only once quantity
// hits zero, avoiding accumulated rounding ghost cost.
func (m *Manager) applyFill(f messages.FillEvent) {
	sign := 1.0
	if f.Status == messages.Failed {
		sign = -1.0
	}

	switch f.Side {
	case messages.Yes:
		qtyNew := m.state.YesQty + sign*f.FilledSize
		if qtyNew < 0 {
			qtyNew = 0
		}
		if sign > 0 && qtyNew > 0 {
			m.state.YesAvgCost = (m.state.YesQty*m.state.YesAvgCost + f.FilledSize*f.Price) / qtyNew
		}
		if qtyNew < epsilon {
			m.state.YesAvgCost = 0
		}
		m.state.YesQty = qtyNew
	case messages.No:
		qtyNew := m.state.NoQty + sign*f.FilledSize
		if qtyNew < 0 {
			qtyNew = 0
		}
		if sign > 0 && qtyNew > 0 {
			m.state.NoAvgCost = (m.state.NoQty*m.state.NoAvgCost + f.FilledSize*f.Price) / qtyNew
		}
		if qtyNew < epsilon {
			m.state.NoAvgCost = 0
		}
		m.state.NoQty = qtyNew
	}

	m.recompute()
}

func (m *Manager) recompute() {
	m.state.NetDiff = m.state.YesQty - m.state.NoQty

	if m.state.YesQty > 0 && m.state.NoQty > 0 {
		m.state.PortfolioCost = m.state.YesAvgCost + m.state.NoAvgCost
	} else {
		m.state.PortfolioCost = 0
	}

	netOK := m.state.NetDiff < m.cfg.MaxNetDiff && m.state.NetDiff > -m.cfg.MaxNetDiff
	costOK := m.state.PortfolioCost < m.cfg.MaxPortfolioCost || m.state.PortfolioCost == 0
	yesExposure := m.state.YesQty * m.state.YesAvgCost
	noExposure := m.state.NoQty * m.state.NoAvgCost
	exposureOK := yesExposure < m.cfg.MaxPositionValue && noExposure < m.cfg.MaxPositionValue

	m.state.CanOpen = netOK && costOK && exposureOK
}

// publish overwrites the single-slot channel with the newest state.
func (m *Manager) publish() {
	select {
	case m.stateCh <- m.state:
	default:
		select {
		case <-m.stateCh:
		default:
		}
		m.stateCh <- m.state
	}
}
