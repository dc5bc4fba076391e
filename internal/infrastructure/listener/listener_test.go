//go:build !windows

package listener

import (
	"context"
	"testing"
)

func TestListen_ReusePort(t *testing.T) {
	ctx := context.Background()
	first, err := Listen(ctx, "127.0.0.1:0", true)
	if err != nil {
		t.Fatalf("first listen failed: %v", err)
	}
	defer first.Close()

	second, err := Listen(ctx, first.Addr().String(), true)
	if err != nil {
		t.Fatalf("second listen on shared port failed: %v", err)
	}
	second.Close()
}

func TestListen_Exclusive(t *testing.T) {
	ctx := context.Background()
	first, err := Listen(ctx, "127.0.0.1:0", false)
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer first.Close()

	if l, err := Listen(ctx, first.Addr().String(), false); err == nil {
		l.Close()
		t.Error("expected address in use without SO_REUSEPORT")
	}
}
