package testutil

import (
	"testing"
	"time"
)

func TestFactoryNewNeverBlocks(t *testing.T) {
	f := NewFactory()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= 20; i++ {
			f.New(time.Duration(i) * time.Second)
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("New blocked with nobody calling Next")
	}

	for i := 1; i <= 20; i++ {
		ticker := f.Next(time.Second)
		if ticker == nil {
			t.Fatalf("ticker %d missing", i)
		}
		if want := time.Duration(i) * time.Second; ticker.Period() != want {
			t.Fatalf("ticker %d period = %s, want %s", i, ticker.Period(), want)
		}
	}
	if ticker := f.Next(10 * time.Millisecond); ticker != nil {
		t.Fatalf("unexpected extra ticker %v", ticker.Period())
	}
}

func TestFactoryNextWaitsForNew(t *testing.T) {
	f := NewFactory()
	go func() {
		time.Sleep(20 * time.Millisecond)
		f.New(time.Minute)
	}()
	ticker := f.Next(5 * time.Second)
	if ticker == nil || ticker.Period() != time.Minute {
		t.Fatalf("Next = %v, want the minute ticker", ticker)
	}
}

func TestManualTickerReset(t *testing.T) {
	ticker := NewManualTicker(time.Second)
	ticker.Reset(time.Hour)
	if ticker.Period() != time.Hour {
		t.Fatalf("period = %s after reset", ticker.Period())
	}
	ticker.Stop()
	if !ticker.Stopped() {
		t.Fatal("ticker not stopped")
	}
}
