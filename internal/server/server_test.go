package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/triage-ai/palisade/services/hook_guard/internal/auth"
	"github.com/triage-ai/palisade/services/hook_guard/internal/engine"
	"github.com/triage-ai/palisade/services/hook_guard/internal/engine/checks"
	"github.com/triage-ai/palisade/services/hook_guard/internal/hook"
)

type stubInspector struct{}

func (stubInspector) CurrentBranch(context.Context, string) (string, error) { return "feature", nil }
func (stubInspector) HeadPushed(context.Context, string) (bool, error)      { return false, nil }
func (stubInspector) RewritePushed(context.Context, string, string) (bool, error) {
	return false, nil
}

func newTestAdapter(t *testing.T, source string) *hook.Adapter {
	t.Helper()
	sets, err := checks.NewCheckSets(checks.Options{
		ProtectedBranches: []string{"main"},
		WorkspaceRoot:     t.TempDir(),
		Inspector:         stubInspector{},
	})
	if err != nil {
		t.Fatal(err)
	}
	eng := engine.NewGuardEngine(sets, time.Second, zap.NewNop())
	return hook.NewAdapter(eng, nil, hook.Config{Source: source}, zap.NewNop())
}

// setupTestServer creates a real gRPC server+client for integration testing.
func setupTestServer(t *testing.T, authenticator auth.Authenticator, metrics *Metrics) (*HookGuardServiceClient, *grpc.ClientConn) {
	t.Helper()
	srv := NewHookGuardServer(newTestAdapter(t, "grpc"), authenticator, metrics, zap.NewNop())
	grpcServer, _ := NewGRPCServer(srv)

	lis, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		_ = grpcServer.Serve(lis)
	}()

	conn, err := grpc.NewClient(
		lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		grpcServer.Stop()
	})
	return NewHookGuardServiceClient(conn), conn
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestGRPC_DispatchBlocks(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	client, _ := setupTestServer(t, auth.NewStaticAuthenticator(""), metrics)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := client.Dispatch(ctx, mustStruct(t, map[string]any{
		"tool_name":  "Bash",
		"tool_input": map[string]any{"command": "rm -rf /"},
	}))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	fields := out.GetFields()
	if fields["proceed"].GetBoolValue() {
		t.Fatal("expected proceed=false")
	}
	if got := fields["blocked_by"].GetStringValue(); got != "dangerous_operation" {
		t.Fatalf("expected dangerous_operation, got %q", got)
	}
	if got := fields["verdict"].GetStringValue(); got != "block" {
		t.Fatalf("expected verdict block, got %q", got)
	}
	if got := testutil.ToFloat64(metrics.Blocks.WithLabelValues("dangerous_operation")); got != 1 {
		t.Fatalf("expected 1 block counted, got %v", got)
	}
}

func TestGRPC_DispatchAllows(t *testing.T) {
	client, _ := setupTestServer(t, auth.NewStaticAuthenticator(""), nil)

	out, err := client.Dispatch(context.Background(), mustStruct(t, map[string]any{
		"toolName":   "Bash",
		"parameters": map[string]any{"command": "ls -la"},
	}))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !out.GetFields()["proceed"].GetBoolValue() {
		t.Fatalf("expected proceed=true, got %v", out)
	}
	if out.GetFields()["request_id"].GetStringValue() == "" {
		t.Fatal("expected request id")
	}
}

func TestGRPC_TokenAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hg_secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	a, err := auth.NewTokenAuthenticator(string(hash), "", time.Minute, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	client, _ := setupTestServer(t, a, nil)
	req := mustStruct(t, map[string]any{"tool_name": "Bash", "tool_input": map[string]any{"command": "ls"}})

	_, err = client.Dispatch(context.Background(), req)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated without token, got %v", err)
	}

	ctx := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer hg_secret")
	if _, err := client.Dispatch(ctx, req); err != nil {
		t.Fatalf("expected authenticated dispatch, got %v", err)
	}
}

func TestGRPC_Health(t *testing.T) {
	_, conn := setupTestServer(t, auth.NewStaticAuthenticator(""), nil)

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", resp.GetStatus())
	}
}

func newTestHTTPServer(t *testing.T, a auth.Authenticator) (*httptest.Server, *Metrics) {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	s := NewHTTPServer(newTestAdapter(t, "http"), a, metrics, reg, zap.NewNop())
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return ts, metrics
}

func TestHTTP_Dispatch(t *testing.T) {
	ts, metrics := newTestHTTPServer(t, auth.NewStaticAuthenticator(""))

	body := `{"tool_name":"Bash","tool_input":{"command":"git push --force origin feature"}}`
	resp, err := http.Post(ts.URL+"/v1/dispatch", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out DispatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if !out.Proceed || out.Verdict != "warn" {
		t.Fatalf("expected proceed with warning, got %+v", out)
	}
	if len(out.Warnings) == 0 || out.Warnings[0].Check != "dangerous_operation" {
		t.Fatalf("expected dangerous_operation warning, got %+v", out.Warnings)
	}
	if got := testutil.ToFloat64(metrics.Dispatches.WithLabelValues("warn", "http")); got != 1 {
		t.Fatalf("expected 1 warn dispatch, got %v", got)
	}
}

func TestHTTP_InvalidPayloadFailsOpen(t *testing.T) {
	ts, metrics := newTestHTTPServer(t, auth.NewStaticAuthenticator(""))

	resp, err := http.Post(ts.URL+"/v1/dispatch", "application/json", bytes.NewReader([]byte(`{"nope":1}`)))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out DispatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if !out.Proceed {
		t.Fatal("expected invalid payload to fail open")
	}
	if got := testutil.ToFloat64(metrics.Dispatches.WithLabelValues("invalid", "http")); got != 1 {
		t.Fatalf("expected 1 invalid dispatch, got %v", got)
	}
}

func TestHTTP_Unauthorized(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hg_secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	a, err := auth.NewTokenAuthenticator(string(hash), "", time.Minute, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	ts, _ := newTestHTTPServer(t, a)

	resp, err := http.Post(ts.URL+"/v1/dispatch", "application/json", strings.NewReader(`{"tool_name":"Bash"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/dispatch", strings.NewReader(`{"tool_name":"Bash","tool_input":{"command":"ls"}}`))
	req.Header.Set("Authorization", "Bearer hg_secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}

	// Health and metrics stay open.
	resp, err = http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from healthz, got %d", resp.StatusCode)
	}
}

func TestHTTP_Metrics(t *testing.T) {
	ts, _ := newTestHTTPServer(t, auth.NewStaticAuthenticator(""))

	resp, err := http.Post(ts.URL+"/v1/dispatch", "application/json", strings.NewReader(`{"tool_name":"Bash","tool_input":{"command":"mkfs.ext4 /dev/sda1"}}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `hook_guard_blocks_total{check="dangerous_operation"} 1`) {
		t.Fatalf("expected block counter in metrics output:\n%s", buf.String())
	}
}
