package session

import (
	"context"
	"errors"
	"testing"
	"time"

	rtmock "github.com/parley-ai/parley/pkg/realtime/mock"
)

func TestReconnectPolicy_Defaults(t *testing.T) {
	t.Parallel()

	p := ReconnectPolicy{}.withDefaults()
	if p.MaxRetries != defaultMaxRetries {
		t.Errorf("MaxRetries = %d, want %d", p.MaxRetries, defaultMaxRetries)
	}
	if p.Backoff != defaultBackoff {
		t.Errorf("Backoff = %v, want %v", p.Backoff, defaultBackoff)
	}
	if p.MaxBackoff != defaultMaxBackoff {
		t.Errorf("MaxBackoff = %v, want %v", p.MaxBackoff, defaultMaxBackoff)
	}

	custom := ReconnectPolicy{MaxRetries: 3, Backoff: time.Second, MaxBackoff: time.Minute}
	if got := custom.withDefaults(); got != custom {
		t.Errorf("withDefaults altered explicit values: %+v", got)
	}
}

func TestReconnector_SucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	ch := &rtmock.Channel{}
	var attempts []string
	r := &reconnector{
		channel:   ch,
		policy:    ReconnectPolicy{MaxRetries: 3, Backoff: time.Millisecond}.withDefaults(),
		onAttempt: func(status string) { attempts = append(attempts, status) },
	}

	if err := r.reconnect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if !ch.IsConnected() {
		t.Error("channel not connected")
	}
	if len(attempts) != 1 || attempts[0] != "ok" {
		t.Errorf("attempts = %v, want [ok]", attempts)
	}
}

func TestReconnector_GivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	ch := &rtmock.Channel{ConnectError: errors.New("dial refused")}
	var attempts []string
	r := &reconnector{
		channel: ch,
		policy: ReconnectPolicy{
			MaxRetries: 3,
			Backoff:    time.Millisecond,
			MaxBackoff: 2 * time.Millisecond,
		},
		onAttempt: func(status string) { attempts = append(attempts, status) },
	}

	err := r.reconnect(context.Background())
	if err == nil {
		t.Fatal("reconnect succeeded against a dead channel")
	}
	if ch.CallCountConnect != 3 {
		t.Errorf("connect attempts = %d, want 3", ch.CallCountConnect)
	}
	for i, s := range attempts {
		if s != "error" {
			t.Errorf("attempt %d status = %q, want error", i, s)
		}
	}
}

func TestReconnector_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ch := &rtmock.Channel{ConnectError: errors.New("dial refused")}
	r := &reconnector{
		channel: ch,
		policy:  ReconnectPolicy{MaxRetries: 100, Backoff: 50 * time.Millisecond, MaxBackoff: 50 * time.Millisecond},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := r.reconnect(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if ch.CallCountConnect >= 100 {
		t.Error("reconnector kept retrying after cancellation")
	}
}
