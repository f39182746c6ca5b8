package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stepgate/stepgate/internal/challenge"
	"github.com/stepgate/stepgate/internal/gate"
	"github.com/stepgate/stepgate/internal/risk"
	"github.com/stepgate/stepgate/internal/testutil"
)

type testServer struct {
	srv    *Server
	client *Client
	socket string
}

func newTestServer(t *testing.T, gateEnabled bool, timeout time.Duration) *testServer {
	t.Helper()

	gen := challenge.NewGenerator("https://verify.example.com", challenge.MockConfig{
		Enabled: true,
		Code:    "AB12CD",
	})
	mgr, err := gate.NewManager(gate.Options{
		Generator: gen,
		Timeout:   timeout,
		Logger:    testutil.TestLogger(t),
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	socket := filepath.Join(t.TempDir(), "test.sock")
	srv, err := New(Options{
		SocketPath:  socket,
		Gate:        mgr,
		Engine:      risk.NewEngine(risk.Config{Enabled: true}),
		GateEnabled: gateEnabled,
		Logger:      testutil.TestLogger(t),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		_ = srv.Stop()
		<-done
	})

	return &testServer{
		srv:    srv,
		client: NewClient(WithSocketPath(socket)),
		socket: socket,
	}
}

func TestNew_SocketSetup(t *testing.T) {
	t.Parallel()

	t.Run("creates socket with 0600 permissions", func(t *testing.T) {
		t.Parallel()
		ts := newTestServer(t, true, time.Minute)

		info, err := os.Stat(ts.socket)
		if err != nil {
			t.Fatalf("socket not created: %v", err)
		}
		if info.Mode().Perm() != 0600 {
			t.Errorf("socket permissions = %o, want 0600", info.Mode().Perm())
		}
	})

	t.Run("fails with empty socket path", func(t *testing.T) {
		t.Parallel()
		if _, err := New(Options{}); err == nil {
			t.Error("expected error for empty socket path")
		}
	})

	t.Run("removes stale socket", func(t *testing.T) {
		t.Parallel()
		socket := filepath.Join(t.TempDir(), "stale.sock")
		if err := os.WriteFile(socket, []byte("stale"), 0644); err != nil {
			t.Fatalf("creating stale file: %v", err)
		}

		gen := challenge.NewGenerator("", challenge.MockConfig{Enabled: true})
		mgr, err := gate.NewManager(gate.Options{Generator: gen, Logger: testutil.TestLogger(t)})
		if err != nil {
			t.Fatalf("NewManager: %v", err)
		}
		srv, err := New(Options{
			SocketPath: socket,
			Gate:       mgr,
			Engine:     risk.NewEngine(risk.Config{Enabled: true}),
			Logger:     testutil.TestLogger(t),
		})
		if err != nil {
			t.Fatalf("New over stale socket: %v", err)
		}
		_ = srv.Stop()
	})
}

func TestPing(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, true, time.Minute)
	if !ts.client.Available() {
		t.Error("daemon should answer ping")
	}
}

func TestRequest_LowRiskNotGated(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, true, time.Minute)
	result, err := ts.client.Request(context.Background(), RequestParams{Command: "ls -la"})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if result.Required {
		t.Error("low-risk command should not require verification")
	}
	if result.RequestID != "" {
		t.Errorf("unexpected request id %q", result.RequestID)
	}
}

func TestRequest_HighRiskOpensRequest(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, true, time.Minute)
	result, err := ts.client.Request(context.Background(), RequestParams{
		Command: "rm -rf /var/data",
		Agent:   "test-agent",
	})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if !result.Required {
		t.Fatal("rm -rf should require verification")
	}
	if result.RequestID == "" || result.ChallengeURL == "" {
		t.Errorf("incomplete result: %+v", result)
	}
	if result.PatternID != "rm-recursive-force" {
		t.Errorf("pattern_id=%q", result.PatternID)
	}
	if result.MockCode != "AB12CD" {
		t.Errorf("mock code missing in mock mode: %q", result.MockCode)
	}

	status, err := ts.client.Status(context.Background(), result.RequestID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Status != "pending" {
		t.Errorf("status=%q want pending", status.Status)
	}
	if status.SecondsRemaining <= 0 {
		t.Errorf("seconds_remaining=%d", status.SecondsRemaining)
	}
	if status.Agent != "test-agent" {
		t.Errorf("agent=%q", status.Agent)
	}
}

func TestRequest_GateDisabled(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, false, time.Minute)
	result, err := ts.client.Request(context.Background(), RequestParams{Command: "rm -rf /"})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if result.Required {
		t.Error("disabled gate should not require verification")
	}
	// Classification is still reported.
	if result.PatternID != "rm-recursive-force" {
		t.Errorf("pattern_id=%q", result.PatternID)
	}
}

func TestVerifyThenWait(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, true, time.Minute)
	ctx := context.Background()

	opened, err := ts.client.Request(ctx, RequestParams{Command: "sudo reboot"})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	waitDone := make(chan *WaitResult, 1)
	go func() {
		result, err := ts.client.Wait(ctx, opened.RequestID)
		if err != nil {
			t.Errorf("Wait: %v", err)
			waitDone <- nil
			return
		}
		waitDone <- result
	}()

	// Wrong code is rejected and retryable.
	if _, err := ts.client.Verify(ctx, opened.RequestID, "WRONG1"); !IsInvalidCode(err) {
		t.Fatalf("wrong code err=%v want invalid-code", err)
	}

	verified, err := ts.client.Verify(ctx, opened.RequestID, "ab12cd")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !verified.Verified || verified.Status != "verified" {
		t.Errorf("verify result: %+v", verified)
	}

	select {
	case result := <-waitDone:
		if result == nil || !result.Verified {
			t.Errorf("wait result: %+v", result)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("wait did not return after verification")
	}

	// The request is gone once resolved.
	if _, err := ts.client.Status(ctx, opened.RequestID); !IsNotFound(err) {
		t.Errorf("status after resolve err=%v want not-found", err)
	}
}

func TestCancelWakesWaiter(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, true, time.Minute)
	ctx := context.Background()

	opened, err := ts.client.Request(ctx, RequestParams{Command: "kubectl delete ns prod"})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	waitDone := make(chan *WaitResult, 1)
	go func() {
		result, _ := ts.client.Wait(ctx, opened.RequestID)
		waitDone <- result
	}()
	time.Sleep(50 * time.Millisecond)

	cancelled, err := ts.client.Cancel(ctx, opened.RequestID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !cancelled.Cancelled {
		t.Error("first cancel should win")
	}

	select {
	case result := <-waitDone:
		if result == nil || result.Verified {
			t.Errorf("cancelled wait result: %+v", result)
		}
		if result != nil && result.Status != "cancelled" {
			t.Errorf("status=%q want cancelled", result.Status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("wait did not return after cancel")
	}

	second, err := ts.client.Cancel(ctx, opened.RequestID)
	if err != nil {
		t.Fatalf("Cancel second: %v", err)
	}
	if second.Cancelled {
		t.Error("second cancel should be a no-op")
	}
}

func TestWait_ExpiresFailClosed(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, true, 150*time.Millisecond)
	ctx := context.Background()

	opened, err := ts.client.Request(ctx, RequestParams{Command: "DROP TABLE users"})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	result, err := ts.client.Wait(ctx, opened.RequestID)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if result.Verified {
		t.Error("expired request must not verify")
	}
	if result.Status != "expired" {
		t.Errorf("status=%q want expired", result.Status)
	}
}

func TestVerify_UnknownAndResolvedCollapse(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, true, time.Minute)
	ctx := context.Background()

	if _, err := ts.client.Verify(ctx, "nope", "AB12CD"); !IsNotFound(err) {
		t.Errorf("unknown id err=%v want not-found", err)
	}

	opened, err := ts.client.Request(ctx, RequestParams{Command: "git push --force"})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if _, err := ts.client.Cancel(ctx, opened.RequestID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := ts.client.Verify(ctx, opened.RequestID, "AB12CD"); !IsNotFound(err) {
		t.Errorf("resolved id err=%v want not-found", err)
	}
}

func TestPendingListing(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, true, time.Minute)
	ctx := context.Background()

	first, err := ts.client.Request(ctx, RequestParams{Command: "rm -rf /a"})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if _, err := ts.client.Request(ctx, RequestParams{Command: "rm -rf /b"}); err != nil {
		t.Fatalf("Request: %v", err)
	}

	pending, err := ts.client.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending.Requests) != 2 {
		t.Fatalf("pending=%d want 2", len(pending.Requests))
	}
	if pending.Requests[0].RequestID != first.RequestID {
		t.Error("pending not oldest-first")
	}

	status, err := ts.client.DaemonStatus(ctx)
	if err != nil {
		t.Fatalf("DaemonStatus: %v", err)
	}
	if status.PendingCount != 2 || !status.GateEnabled || !status.MockActive {
		t.Errorf("daemon status: %+v", status)
	}
}

func TestProtocolErrors(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, true, time.Minute)

	conn, err := net.Dial("unix", ts.socket)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	scanner := bufio.NewScanner(conn)

	send := func(raw string) RPCResponse {
		t.Helper()
		if _, err := conn.Write([]byte(raw + "\n")); err != nil {
			t.Fatalf("write: %v", err)
		}
		if !scanner.Scan() {
			t.Fatal("no response")
		}
		var resp RPCResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return resp
	}

	if resp := send("not valid json"); resp.Error == nil || resp.Error.Code != ErrCodeParse {
		t.Errorf("parse error: %+v", resp.Error)
	}
	if resp := send(`{"method":"no_such_method","id":7}`); resp.Error == nil || resp.Error.Code != ErrCodeMethodNotFound {
		t.Errorf("method not found: %+v", resp.Error)
	}
	if resp := send(`{"method":"request","id":8}`); resp.Error == nil || resp.Error.Code != ErrCodeInvalidParams {
		t.Errorf("invalid params: %+v", resp.Error)
	}
}

func TestClient_Unavailable(t *testing.T) {
	t.Parallel()

	c := NewClient(WithSocketPath(filepath.Join(t.TempDir(), "absent.sock")))
	if c.Available() {
		t.Error("ping against absent socket succeeded")
	}
	_, err := c.Request(context.Background(), RequestParams{Command: "rm -rf /"})
	if err == nil {
		t.Fatal("expected error")
	}
}
