package rpc

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestNetworkRoundTrip(t *testing.T) {
	sys := NewSystem(nil)
	svc := newTestService(t, sys, "ping", 2)

	Register(svc, func(req pingReq) pingRes {
		return pingRes{Seq: req.Seq * 2}
	})

	addr := fmt.Sprintf("inproc://rpc-test-%d", time.Now().UnixNano())
	lis, err := NewListener(ListenConfig{Addr: addr, Parallel: 2}, sys, nil)
	if err != nil {
		t.Fatalf("Failed to start listener: %v", err)
	}
	defer lis.Close()

	client, err := Dial(addr)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := Call[pingReq, pingRes](ctx, client, "ping", pingReq{Seq: 21})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if res.Seq != 42 {
		t.Errorf("Expected 42, got %d", res.Seq)
	}
}

func TestNetworkParallelRequests(t *testing.T) {
	sys := NewSystem(nil)
	svc := newTestService(t, sys, "ping", 4)

	Register(svc, func(req pingReq) pingRes {
		time.Sleep(5 * time.Millisecond)
		return pingRes{Seq: req.Seq}
	})

	addr := fmt.Sprintf("inproc://rpc-par-%d", time.Now().UnixNano())
	lis, err := NewListener(ListenConfig{Addr: addr, Parallel: 4}, sys, nil)
	if err != nil {
		t.Fatalf("Failed to start listener: %v", err)
	}
	defer lis.Close()

	client, err := Dial(addr)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer client.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(seq int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			res, err := Call[pingReq, pingRes](ctx, client, "ping", pingReq{Seq: seq})
			if err != nil {
				errs <- err
				return
			}
			if res.Seq != seq {
				errs <- fmt.Errorf("response mismatch: sent %d, got %d", seq, res.Seq)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Parallel call failed: %v", err)
	}
}

func TestNetworkDroppedRequestTimesOut(t *testing.T) {
	sys := NewSystem(nil)

	addr := fmt.Sprintf("inproc://rpc-drop-%d", time.Now().UnixNano())
	lis, err := NewListener(ListenConfig{Addr: addr, Parallel: 1, ReplyWait: 20 * time.Millisecond}, sys, nil)
	if err != nil {
		t.Fatalf("Failed to start listener: %v", err)
	}
	defer lis.Close()

	client, err := Dial(addr)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = client.Request(ctx, "nonexistent", pingReq{Seq: 1})
	if err == nil {
		t.Error("Expected an error for a request to an unknown service")
	}
}
