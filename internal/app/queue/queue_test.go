package queue

import (
	"strconv"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func TestRemainingDelay_NoHeader(t *testing.T) {
	msg := nats.NewMsg("mentions.enrich")
	if got := remainingDelay(msg); got != 0 {
		t.Fatalf("remainingDelay = %v, want 0", got)
	}
}

func TestRemainingDelay_FutureNotBefore(t *testing.T) {
	msg := nats.NewMsg("mentions.enrich")
	notBefore := time.Now().Add(30 * time.Second).UnixMilli()
	msg.Header.Set(HeaderNotBefore, strconv.FormatInt(notBefore, 10))

	got := remainingDelay(msg)
	if got <= 25*time.Second || got > 30*time.Second {
		t.Fatalf("remainingDelay = %v, want roughly 30s", got)
	}
}

func TestRemainingDelay_PastNotBefore(t *testing.T) {
	msg := nats.NewMsg("mentions.enrich")
	notBefore := time.Now().Add(-time.Minute).UnixMilli()
	msg.Header.Set(HeaderNotBefore, strconv.FormatInt(notBefore, 10))

	if got := remainingDelay(msg); got > 0 {
		t.Fatalf("remainingDelay = %v, want non-positive", got)
	}
}

func TestRemainingDelay_GarbageHeader(t *testing.T) {
	msg := nats.NewMsg("mentions.enrich")
	msg.Header.Set(HeaderNotBefore, "soon")
	if got := remainingDelay(msg); got != 0 {
		t.Fatalf("remainingDelay = %v, want 0", got)
	}
}
