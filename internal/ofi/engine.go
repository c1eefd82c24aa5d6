// Package ofi implements the Order Flow Imbalance detector: a per-side
// sliding-window toxicity monitor that feeds the Strategy Coordinator's
// lead-lag kill switch.
package ofi

import (
	"container/list"
	"context"
	"log/slog"
	"time"

	"pairmm/internal/messages"
)

// Config tunes the sliding windows and toxicity threshold.
type Config struct {
	WindowDuration      time.Duration // default 3s
	ToxicityThreshold   float64       // default 50.0
	HeartbeatInterval   time.Duration // default 200ms; mandatory so toxicity decays without new trades
}

// DefaultConfig returns the engine's out-of-the-box tuning.
func DefaultConfig() Config {
	return Config{
		WindowDuration:    3 * time.Second,
		ToxicityThreshold: 50.0,
		HeartbeatInterval: 200 * time.Millisecond,
	}
}

type tick struct {
	takerSide messages.TakerSide
	size      float64
	ts        time.Time
}

// sideWindow is a FIFO of recent trade ticks for one outcome side.
type sideWindow struct {
	ticks        *list.List // of tick
	prevToxic    bool
}

func newSideWindow() *sideWindow {
	return &sideWindow{ticks: list.New()}
}

func (w *sideWindow) push(t tick) {
	w.ticks.PushBack(t)
}

// evictExpired drops entries older than now-window, saturating if the
// subtraction would underflow (clock moved backwards).
func (w *sideWindow) evictExpired(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	if cutoff.After(now) {
		cutoff = now
	}
	for e := w.ticks.Front(); e != nil; {
		next := e.Next()
		if e.Value.(tick).ts.Before(cutoff) {
			w.ticks.Remove(e)
		} else {
			break
		}
		e = next
	}
}

func (w *sideWindow) compute(threshold float64) messages.SideOFI {
	var buyVol, sellVol float64
	for e := w.ticks.Front(); e != nil; e = e.Next() {
		t := e.Value.(tick)
		switch t.takerSide {
		case messages.TakerBuy:
			buyVol += t.size
		case messages.TakerSell:
			sellVol += t.size
		}
	}
	score := buyVol - sellVol
	isToxic := score > threshold || score < -threshold
	return messages.SideOFI{
		OfiScore:   score,
		BuyVolume:  buyVol,
		SellVolume: sellVol,
		IsToxic:    isToxic,
	}
}

// Engine is the OFI Engine actor: tracks order flow imbalance separately
// for YES and NO tokens.
type Engine struct {
	cfg        Config
	yesWindow  *sideWindow
	noWindow   *sideWindow
	tradeCh    <-chan messages.TradeTick
	snapshotCh chan messages.OfiSnapshot // single-slot, overwrite semantics
	logger     *slog.Logger

	placed, toxicTransitions int
}

// New constructs the engine. snapshotCh must have capacity 1; the engine
// drains a stale value before publishing so readers always see the latest.
func New(cfg Config, tradeCh <-chan messages.TradeTick, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		yesWindow:  newSideWindow(),
		noWindow:   newSideWindow(),
		tradeCh:    tradeCh,
		snapshotCh: make(chan messages.OfiSnapshot, 1),
		logger:     logger.With("component", "ofi"),
	}
}

// Snapshots returns the single-slot broadcast channel of OFI snapshots.
func (e *Engine) Snapshots() <-chan messages.OfiSnapshot {
	return e.snapshotCh
}

// Run is the actor main loop. Blocks until tradeCh closes or ctx is done.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("ofi engine started",
		"window_ms", e.cfg.WindowDuration.Milliseconds(),
		"threshold", e.cfg.ToxicityThreshold,
	)

	heartbeat := time.NewTicker(e.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("ofi engine shutting down", "transitions", e.toxicTransitions)
			return

		case t, ok := <-e.tradeCh:
			if !ok {
				e.logger.Info("ofi engine shutting down", "transitions", e.toxicTransitions)
				return
			}
			e.onTick(t)

		case <-heartbeat.C:
			e.onHeartbeat()
		}
	}
}

func (e *Engine) onTick(t messages.TradeTick) {
	switch t.MarketSide {
	case messages.Yes:
		e.yesWindow.push(tick{takerSide: t.TakerSide, size: t.Size, ts: t.Ts})
	case messages.No:
		e.noWindow.push(tick{takerSide: t.TakerSide, size: t.Size, ts: t.Ts})
	}
	e.recompute(t.Ts)
}

func (e *Engine) onHeartbeat() {
	e.recompute(time.Now())
}

// recompute evicts expired ticks from both windows (mandatory on every
// event so toxicity decays even without new trades), publishes the latest
// snapshot, and edge-triggers toxicity transition logs.
func (e *Engine) recompute(now time.Time) {
	e.yesWindow.evictExpired(now, e.cfg.WindowDuration)
	e.noWindow.evictExpired(now, e.cfg.WindowDuration)

	yesOfi := e.yesWindow.compute(e.cfg.ToxicityThreshold)
	noOfi := e.noWindow.compute(e.cfg.ToxicityThreshold)

	snapshot := messages.OfiSnapshot{Yes: yesOfi, No: noOfi, Ts: now}
	e.publish(snapshot)

	e.logTransition(messages.Yes, e.yesWindow, yesOfi)
	e.logTransition(messages.No, e.noWindow, noOfi)
}

// logTransition logs only on a false->true or true->false toxicity change,
// never on steady-state toxicity — the spec's edge-triggered requirement.
func (e *Engine) logTransition(side messages.Side, w *sideWindow, ofi messages.SideOFI) {
	if ofi.IsToxic == w.prevToxic {
		return
	}
	w.prevToxic = ofi.IsToxic
	e.toxicTransitions++
	if ofi.IsToxic {
		e.logger.Warn("toxicity onset",
			"side", side.String(),
			"ofi_score", ofi.OfiScore,
			"buy_volume", ofi.BuyVolume,
			"sell_volume", ofi.SellVolume,
		)
	} else {
		e.logger.Info("toxicity cleared", "side", side.String())
	}
}

// publish overwrites the single-slot channel with the newest snapshot.
func (e *Engine) publish(s messages.OfiSnapshot) {
	select {
	case e.snapshotCh <- s:
	default:
		select {
		case <-e.snapshotCh:
		default:
		}
		e.snapshotCh <- s
	}
}
