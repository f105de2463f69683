package client

import (
	"context"
	"encoding/hex"
	"math/big"
	"sync"
	"time"
)

// Tick is what a subscriber gets for each verified round.
type Tick struct {
	Round      uint64
	Randomness []byte
	// ETA is when the next round will be requested from the providers.
	ETA time.Time
}

// RandomnessHex renders the randomness as lowercase hex.
func (t Tick) RandomnessHex() string {
	return hex.EncodeToString(t.Randomness)
}

// RandomnessDecimal renders the randomness as a big-endian unsigned integer.
func (t Tick) RandomnessDecimal() string {
	return new(big.Int).SetBytes(t.Randomness).String()
}

// Subscription is a started watch session simplified for display. It is
// stopped with Stop, and once Ticks is closed Err tells why.
type Subscription struct {
	w        *Watcher
	ticks    chan Tick
	stop     chan struct{}
	stopOnce sync.Once

	mu  sync.Mutex
	err error
}

// Subscribe starts a watch session and turns its beacons into ticks.
func (c *Client) Subscribe(ctx context.Context) (*Subscription, error) {
	w, err := c.NewWatcher()
	if err != nil {
		return nil, err
	}
	updates, err := w.Watch(ctx)
	if err != nil {
		return nil, err
	}

	s := &Subscription{w: w, ticks: make(chan Tick), stop: make(chan struct{})}
	go s.forward(ctx, updates, w.poller.WakeTime)
	return s, nil
}

func (s *Subscription) forward(ctx context.Context, updates <-chan Update, wakeTime func(uint64) time.Time) {
	defer close(s.ticks)
	for u := range updates {
		if u.Err != nil {
			s.mu.Lock()
			s.err = u.Err
			s.mu.Unlock()
			continue
		}
		round := u.Result.GetRound()
		t := Tick{
			Round:      round,
			Randomness: u.Result.GetRandomness(),
			ETA:        wakeTime(round + 1),
		}
		select {
		case s.ticks <- t:
		case <-ctx.Done():
			s.w.Stop()
		case <-s.stop:
		}
	}
}

// Ticks delivers one tick per verified round, in order. It is closed when the
// subscription ends.
func (s *Subscription) Ticks() <-chan Tick {
	return s.ticks
}

// Stop ends the subscription. It is safe to call more than once.
func (s *Subscription) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.w.Stop()
}

// Err returns the error that ended the subscription, if any. It is nil for a
// subscription that was stopped or whose context ended.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
