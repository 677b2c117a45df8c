package rpc

import (
	"context"
	"net"
	"testing"
	"time"
)

type fakeHandler struct {
	acquired    []string
	failAcquire bool
}

func (h *fakeHandler) Acquire(_ context.Context, globalID, _, _ string) error {
	h.acquired = append(h.acquired, globalID)
	if h.failAcquire {
		return errFake{}
	}
	return nil
}

func (h *fakeHandler) Release(context.Context, string, string, string, bool) error { return nil }
func (h *fakeHandler) AddPeer(context.Context, string, string) error               { return nil }
func (h *fakeHandler) PeerUpdate(context.Context, string, string) error            { return nil }

type errFake struct{}

func (errFake) Error() string { return "fake handler failure" }

func startTestServer(t *testing.T, h *fakeHandler) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	srv := NewServer(lis.Addr().String(), h)
	go srv.srv.Serve(lis)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return lis.Addr().String()
}

func TestClientServerAcquireRoundTrip(t *testing.T) {
	h := &fakeHandler{}
	addr := startTestServer(t, h)

	client := NewClient(map[string]string{"B": addr}, 2*time.Second)
	if err := client.NotifyImageAcquire(context.Background(), "B", "g1", "uuid", "g1"); err != nil {
		t.Fatalf("NotifyImageAcquire: %v", err)
	}
	if len(h.acquired) != 1 || h.acquired[0] != "g1" {
		t.Fatalf("handler saw acquired=%v, want [g1]", h.acquired)
	}
}

func TestClientServerSurfacesHandlerFailure(t *testing.T) {
	h := &fakeHandler{failAcquire: true}
	addr := startTestServer(t, h)

	client := NewClient(map[string]string{"B": addr}, 2*time.Second)
	if err := client.NotifyImageAcquire(context.Background(), "B", "g1", "uuid", "g1"); err == nil {
		t.Fatal("expected an error from the failing handler")
	}
}

func TestClientUnknownInstanceIsNotFound(t *testing.T) {
	client := NewClient(map[string]string{}, time.Second)
	err := client.NotifyImageAcquire(context.Background(), "nobody", "g1", "uuid", "g1")
	if err == nil {
		t.Fatal("expected an error for an unknown instance id")
	}
}
