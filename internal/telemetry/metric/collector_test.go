package metric

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCollectorCounters(t *testing.T) {
	c := NewCollector()
	c.IncCommandsProcessed()
	c.IncCommandsProcessed()
	c.IncProtocolErrors()
	c.SetConnectedClients(3)
	c.SetKeyspaceSize(42)
	c.SetClusterNodesLive(5)
	c.SetSlotsMigrating(2)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		"tokmesh_commands_processed_total 2",
		"tokmesh_protocol_errors_total 1",
		"tokmesh_connected_clients 3",
		"tokmesh_keyspace_size 42",
		"tokmesh_cluster_nodes_live 5",
		"tokmesh_slots_migrating 2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected metrics output to contain %q", want)
		}
	}
}

func TestServerServesHandler(t *testing.T) {
	c := NewCollector()
	srv, err := NewServer("127.0.0.1:0", c)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	go srv.Serve()
	defer srv.Shutdown(context.Background())

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}
