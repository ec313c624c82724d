package rpc

import (
	"context"
	"sync"
	"testing"
	"time"
)

// pingReq/pingRes reuse the coordination tags for dispatch tests.
type pingReq struct {
	Seq int `json:"seq"`
}

func (pingReq) MessageType() MessageType { return MsgClusterDiscoveryReq }

type pingRes struct {
	Seq int `json:"seq"`
}

func (pingRes) MessageType() MessageType { return MsgClusterDiscoveryRes }

type stopReq struct{}

func (stopReq) MessageType() MessageType { return MsgStopWorkerReq }

func newTestService(t *testing.T, sys *System, name string, workers int) *Service {
	t.Helper()
	svc := NewService(sys, name, workers, 16, nil)
	t.Cleanup(svc.Close)
	return svc
}

func TestRegisterAndDispatch(t *testing.T) {
	sys := NewSystem(nil)
	svc := newTestService(t, sys, "ping", 2)

	Register(svc, func(req pingReq) pingRes {
		return pingRes{Seq: req.Seq + 1}
	})

	client := NewLocalClient(sys)
	res, err := Call[pingReq, pingRes](context.Background(), client, "ping", pingReq{Seq: 41})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if res.Seq != 42 {
		t.Errorf("Expected 42, got %d", res.Seq)
	}
}

func TestConcurrentDispatch(t *testing.T) {
	sys := NewSystem(nil)
	svc := newTestService(t, sys, "ping", 4)

	Register(svc, func(req pingReq) pingRes {
		return pingRes{Seq: req.Seq}
	})

	client := NewLocalClient(sys)
	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(seq int) {
			defer wg.Done()
			res, err := Call[pingReq, pingRes](context.Background(), client, "ping", pingReq{Seq: seq})
			if err != nil {
				errs <- err
				return
			}
			if res.Seq != seq {
				errs <- context.DeadlineExceeded
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Concurrent call failed: %v", err)
	}
}

func TestUnknownServiceIsSilentlyDropped(t *testing.T) {
	sys := NewSystem(nil)

	// AddTask directly: must not fault and must not call reply.
	replied := false
	msg, _ := NewMessage(pingReq{Seq: 1})
	sys.AddTask(func(id uint64, res *Message) { replied = true }, "nonexistent", 1, msg)
	if replied {
		t.Error("Reply must not be sent for an unknown service")
	}

	// Through a client the caller just never hears back.
	client := NewLocalClient(sys)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Request(ctx, "nonexistent", pingReq{Seq: 1})
	if err != context.DeadlineExceeded {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestUnhandledTypeIsSilentlyDropped(t *testing.T) {
	sys := NewSystem(nil)
	svc := newTestService(t, sys, "ping", 1)

	Register(svc, func(req pingReq) pingRes { return pingRes{} })

	client := NewLocalClient(sys)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Request(ctx, "ping", stopReq{})
	if err != context.DeadlineExceeded {
		t.Errorf("Expected deadline exceeded for unhandled type, got %v", err)
	}
}

func TestDuplicateServiceNamePanics(t *testing.T) {
	sys := NewSystem(nil)
	newTestService(t, sys, "dup", 1)

	defer func() {
		if recover() == nil {
			t.Error("Expected panic on duplicate service name")
		}
	}()
	NewService(sys, "dup", 1, 1, nil)
}

func TestRemoveUnregisteredServicePanics(t *testing.T) {
	sys := NewSystem(nil)
	svc := newTestService(t, sys, "once", 1)
	svc.Close()

	defer func() {
		if recover() == nil {
			t.Error("Expected panic on removing unregistered service")
		}
	}()
	sys.Remove(svc)
}

func TestDuplicateHandlerPanics(t *testing.T) {
	sys := NewSystem(nil)
	svc := newTestService(t, sys, "ping", 1)

	Register(svc, func(req pingReq) pingRes { return pingRes{} })

	defer func() {
		if recover() == nil {
			t.Error("Expected panic on duplicate handler registration")
		}
	}()
	Register(svc, func(req pingReq) pingRes { return pingRes{} })
}

func TestInFlightTaskFinishesBeforeShutdown(t *testing.T) {
	sys := NewSystem(nil)
	svc := NewService(sys, "slow", 1, 16, nil)

	started := make(chan struct{})
	Register(svc, func(req pingReq) pingRes {
		close(started)
		time.Sleep(50 * time.Millisecond)
		return pingRes{Seq: req.Seq}
	})

	client := NewLocalClient(sys)
	done := make(chan error, 1)
	go func() {
		_, err := Call[pingReq, pingRes](context.Background(), client, "slow", pingReq{Seq: 1})
		done <- err
	}()

	<-started
	svc.Close() // must wait for the in-flight handler

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("In-flight call failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("In-flight call did not complete")
	}
}

func TestServiceCloseIsIdempotent(t *testing.T) {
	sys := NewSystem(nil)
	svc := NewService(sys, "twice", 1, 1, nil)
	svc.Close()
	svc.Close()
}

func TestQueueDepthObservable(t *testing.T) {
	sys := NewSystem(nil)
	svc := newTestService(t, sys, "depth", 1)

	block := make(chan struct{})
	Register(svc, func(req pingReq) pingRes {
		<-block
		return pingRes{}
	})

	client := NewLocalClient(sys)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		go client.Request(ctx, "depth", pingReq{Seq: i})
	}

	deadline := time.Now().Add(time.Second)
	for svc.QueueDepth() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if svc.QueueDepth() < 2 {
		t.Errorf("Expected queued tasks to be observable, depth=%d", svc.QueueDepth())
	}
	close(block)
}
