package httpapi

import (
	"context"
	"testing"
	"time"
)

func TestJoinContexts_BaseCancels(t *testing.T) {
	base, cancelBase := context.WithCancel(context.Background())
	ctx, cancel := joinContexts(base, context.Background())
	defer cancel()
	cancelBase()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("joined context not canceled by base")
	}
}

func TestJoinContexts_RequestCancels(t *testing.T) {
	req, cancelReq := context.WithCancel(context.Background())
	ctx, cancel := joinContexts(context.Background(), req)
	defer cancel()
	cancelReq()
	if ctx.Err() == nil {
		t.Fatalf("joined context not canceled by request")
	}
}

func TestSetBaseContext_Nil(t *testing.T) {
	SetBaseContext(nil)
	if serverBaseCtx != context.Background() {
		t.Fatalf("nil base context not replaced")
	}
}
