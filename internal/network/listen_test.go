package network

import (
	"context"
	"testing"
)

func TestListenRebindsImmediately(t *testing.T) {
	ln, err := Listen(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	again, err := Listen(context.Background(), addr)
	if err != nil {
		t.Fatalf("rebind %s: %v", addr, err)
	}
	again.Close()
}
