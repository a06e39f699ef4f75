package registry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/consul/api"

	"twemstat/internal/config"
)

// newConsulServer starts a fake Consul agent that serves catalog and health endpoints.
// Params: t test context; handler answers /v1/ requests.
// Returns: registry config pointing at the fake agent.
func newConsulServer(t *testing.T, handler http.HandlerFunc) config.RegistryConfig {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return registryConfigFor(t, server.URL)
}

func registryConfigFor(t *testing.T, rawURL string) config.RegistryConfig {
	t.Helper()
	parsed, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	host, portText, err := net.SplitHostPort(parsed.Host)
	if err != nil {
		t.Fatalf("split host: %v", err)
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return config.RegistryConfig{
		Host:    host,
		Port:    port,
		Scheme:  "http",
		Timeout: config.Duration{Duration: 2 * time.Second},
	}
}

func writeConsulJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Consul-Index", "7")
	w.Header().Set("X-Consul-LastContact", "0")
	w.Header().Set("X-Consul-KnownLeader", "true")
	_, _ = w.Write([]byte(body))
}

func TestConsulListInstancesCatalog(t *testing.T) {
	cfg := newConsulServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/catalog/service/cache" {
			http.NotFound(w, r)
			return
		}
		writeConsulJSON(w, `[
			{"Node":"node-b","Address":"10.0.0.2","ServiceID":"cache-2","ServiceName":"cache","ServiceAddress":"","ServicePort":6380},
			{"Node":"node-a","Address":"10.0.0.1","ServiceID":"cache-1","ServiceName":"cache","ServiceAddress":"10.1.0.1","ServicePort":6379}
		]`)
	})

	consul, err := NewConsul(cfg)
	if err != nil {
		t.Fatalf("NewConsul() error: %v", err)
	}

	got, err := consul.ListInstances(context.Background(), "cache")
	if err != nil {
		t.Fatalf("ListInstances() error: %v", err)
	}

	want := []Instance{
		{Address: "10.1.0.1", Port: 6379, ID: "cache-1", Node: "node-a"},
		{Address: "10.0.0.2", Port: 6380, ID: "cache-2", Node: "node-b"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected instances (-want +got):\n%s", diff)
	}
}

func TestConsulListInstancesPassingOnly(t *testing.T) {
	cfg := newConsulServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/health/service/cache" || !r.URL.Query().Has("passing") {
			http.NotFound(w, r)
			return
		}
		writeConsulJSON(w, `[
			{"Node":{"Node":"node-a","Address":"10.0.0.1"},"Service":{"ID":"cache-1","Service":"cache","Address":"","Port":6379}}
		]`)
	})
	cfg.PassingOnly = true

	consul, err := NewConsul(cfg)
	if err != nil {
		t.Fatalf("NewConsul() error: %v", err)
	}

	got, err := consul.ListInstances(context.Background(), "cache")
	if err != nil {
		t.Fatalf("ListInstances() error: %v", err)
	}

	want := []Instance{{Address: "10.0.0.1", Port: 6379, ID: "cache-1", Node: "node-a"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected instances (-want +got):\n%s", diff)
	}
}

func TestConsulListInstancesEmpty(t *testing.T) {
	cfg := newConsulServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeConsulJSON(w, `[]`)
	})

	consul, err := NewConsul(cfg)
	if err != nil {
		t.Fatalf("NewConsul() error: %v", err)
	}

	got, err := consul.ListInstances(context.Background(), "missing")
	if err != nil {
		t.Fatalf("empty service must not be an error, got %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no instances, got %v", got)
	}
}

func TestConsulListInstancesUnavailable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	cfg := registryConfigFor(t, server.URL)
	server.Close()

	consul, err := NewConsul(cfg)
	if err != nil {
		t.Fatalf("NewConsul() error: %v", err)
	}

	_, err = consul.ListInstances(context.Background(), "cache")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestConsulListInstancesServerError(t *testing.T) {
	cfg := newConsulServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no cluster leader", http.StatusInternalServerError)
	})

	consul, err := NewConsul(cfg)
	if err != nil {
		t.Fatalf("NewConsul() error: %v", err)
	}

	_, err = consul.ListInstances(context.Background(), "cache")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

type fakeCatalog struct {
	entries []*api.CatalogService
}

func (f fakeCatalog) Service(string, string, *api.QueryOptions) ([]*api.CatalogService, *api.QueryMeta, error) {
	return f.entries, &api.QueryMeta{}, nil
}

func TestConsulListInstancesSkipsNilEntries(t *testing.T) {
	consul := &Consul{catalog: fakeCatalog{entries: []*api.CatalogService{
		nil,
		{Node: "n1", Address: "10.0.0.9", ServiceID: "a", ServicePort: 1},
	}}}

	got, err := consul.ListInstances(context.Background(), "cache")
	if err != nil {
		t.Fatalf("ListInstances() error: %v", err)
	}
	want := []Instance{{Address: "10.0.0.9", Port: 1, ID: "a", Node: "n1"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected instances (-want +got):\n%s", diff)
	}

	if _, err := consul.ListInstances(context.Background(), " "); err == nil {
		t.Fatalf("expected error for blank service name")
	}
}
