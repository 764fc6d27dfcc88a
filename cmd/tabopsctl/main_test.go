package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/marcus-qen/tabops/internal/capability"
	"github.com/marcus-qen/tabops/internal/siteconn"
	"github.com/marcus-qen/tabops/internal/tokens"
)

func TestVersionMetadataDefaults(t *testing.T) {
	if version != "dev" {
		t.Fatalf("expected default version %q, got %q", "dev", version)
	}
	if commit != "unknown" {
		t.Fatalf("expected default commit %q, got %q", "unknown", commit)
	}
	if date == "" {
		t.Fatal("expected default build date to be non-empty")
	}
}

func TestParseArgs(t *testing.T) {
	t.Setenv("TABOPS_CONFIG", "")

	cli, cmd, args, err := parseArgs([]string{"--config", "tabops.yaml", "--json", "switch", "finance", "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if cli.configPath != "tabops.yaml" || !cli.jsonOutput || cli.showMetrics {
		t.Fatalf("unexpected cli config %+v", cli)
	}
	if cmd != "switch" {
		t.Fatalf("command = %q", cmd)
	}
	if diff := cmp.Diff([]string{"finance", "alice"}, args); diff != "" {
		t.Fatalf("args mismatch (-want +got):\n%s", diff)
	}

	if _, _, _, err := parseArgs(nil); !errors.Is(err, errShowUsage) {
		t.Fatalf("expected errShowUsage, got %v", err)
	}
	if _, _, _, err := parseArgs([]string{"--config"}); err == nil {
		t.Fatal("expected error for --config without value")
	}
	if _, _, _, err := parseArgs([]string{"--bogus", "sites"}); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

func TestRunCapabilities(t *testing.T) {
	var out bytes.Buffer
	if err := runCapabilities(&out, cliConfig{}, []string{"3.1", "datasource"}); err != nil {
		t.Fatal(err)
	}
	text := out.String()
	for _, want := range []string{"CAPABILITY", "Connect", "ExportXml", "Download"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}

	err := runCapabilities(&out, cliConfig{}, []string{"1.0", "datasource"})
	if !errors.Is(err, capability.ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
	for _, want := range []string{"2.0", "3.1"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should list supported version %s: %v", want, err)
		}
	}
}

func TestRunRoleJSON(t *testing.T) {
	var out bytes.Buffer
	if err := runRole(&out, cliConfig{jsonOutput: true}, zap.NewNop(), []string{"3.1", "project", "Publisher"}); err != nil {
		t.Fatal(err)
	}
	var got map[string]string
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v\n%s", err, out.String())
	}
	want := map[string]string{"ProjectLeader": "Unspecified", "Read": "Allow", "Write": "Allow"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("role mismatch (-want +got):\n%s", diff)
	}

	if err := runRole(&out, cliConfig{}, zap.NewNop(), []string{"3.1", "project", "Overlord"}); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestRunRoleListsRoles(t *testing.T) {
	var out bytes.Buffer
	if err := runRole(&out, cliConfig{}, zap.NewNop(), []string{"3.1", "datasource"}); err != nil {
		t.Fatal(err)
	}
	if got := strings.Fields(out.String()); !cmp.Equal(got, []string{"Connector", "Editor"}) {
		t.Fatalf("roles = %v", got)
	}
}

func TestRunRoleTableNamesGrant(t *testing.T) {
	var out bytes.Buffer
	if err := runRole(&out, cliConfig{}, zap.NewNop(), []string{"3.1", "datasource", "Connector"}); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(out.String(), "\n")
	if lines[0] != "Role Connector on datasource (API 3.1)" {
		t.Fatalf("header = %q", lines[0])
	}
	if !strings.Contains(out.String(), "Connect") {
		t.Fatalf("grant missing Connect:\n%s", out.String())
	}
}

func TestRenderTableIgnoresColor(t *testing.T) {
	var out bytes.Buffer
	RenderTable(&out, []string{"NAME", "MODE"}, [][]string{
		{"Read", ansiGreen + "Allow" + ansiReset},
		{"ShareView", "Deny"},
	})
	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines:\n%s", len(lines), out.String())
	}
	if lines[1] != "---------  -----" {
		t.Fatalf("divider = %q", lines[1])
	}
	if visibleLen(lines[2]) != visibleLen("Read       Allow") {
		t.Fatalf("colored row misaligned: %q", lines[2])
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("abcdef", 4); got != "abc…" {
		t.Fatalf("Truncate = %q", got)
	}
	if got := Truncate("abc", 4); got != "abc" {
		t.Fatalf("Truncate short = %q", got)
	}
}

// newTestSession serves a minimal REST API and bootstraps a registry against it.
func newTestSession(t *testing.T) *session {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/3.1/auth/signin", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Credentials struct {
				Site struct {
					ContentURL string `json:"contentUrl"`
				} `json:"site"`
				User *struct {
					ID string `json:"id"`
				} `json:"user"`
			} `json:"credentials"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		site := req.Credentials.Site.ContentURL
		token, user := "admin-token-"+site, "admin-luid"
		if req.Credentials.User != nil {
			token, user = "user-token-"+req.Credentials.User.ID, req.Credentials.User.ID
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"credentials": map[string]any{
			"token": token,
			"site":  map[string]string{"id": "luid-" + site, "contentUrl": site},
			"user":  map[string]string{"id": user},
		}})
	})
	mux.HandleFunc("/api/3.1/sites", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"sites":{"site":[{"id":"luid-","name":"Default","contentUrl":""},{"id":"luid-finance","name":"Finance","contentUrl":"finance"}]}}`))
	})
	mux.HandleFunc("/api/3.1/sites/luid-finance/users", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("filter") != "name:eq:alice" {
			_, _ = w.Write([]byte(`{"users":{"user":[]}}`))
			return
		}
		_, _ = w.Write([]byte(`{"users":{"user":[{"id":"alice-luid","name":"alice"}]}}`))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	conn, err := siteconn.NewClient(siteconn.Config{
		ServerURL:  ts.URL,
		APIVersion: "3.1",
		Username:   "admin",
		Password:   "secret",
	})
	if err != nil {
		t.Fatal(err)
	}
	s := &session{conn: conn, registry: tokens.New(tokens.WithRetryDelay(0))}
	if err := s.registry.Establish(context.Background(), conn); err != nil {
		t.Fatalf("Establish: %v", err)
	}
	return s
}

func TestRunSitesAndSwitch(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()

	var out bytes.Buffer
	if err := runSites(&out, s, cliConfig{}, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "luid-finance") || !strings.Contains(out.String(), "Total: 2 sites") {
		t.Fatalf("unexpected sites output:\n%s", out.String())
	}

	out.Reset()
	if err := runSwitch(ctx, &out, s, cliConfig{jsonOutput: true}, []string{"finance", "alice"}); err != nil {
		t.Fatal(err)
	}
	var res switchResult
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.UserLUID != "alice-luid" || res.SiteLUID != "luid-finance" || strings.Contains(res.Token, "user-token") {
		t.Fatalf("unexpected switch result %+v", res)
	}
	if res.Connection == "" || res.Connection != s.conn.ID() {
		t.Fatalf("connection id = %q, want %q", res.Connection, s.conn.ID())
	}
	if s.conn.Token().Value != "user-token-alice-luid" {
		t.Fatalf("connection token = %q", s.conn.Token().Value)
	}
}

func TestRunCacheWarmsEntries(t *testing.T) {
	s := newTestSession(t)

	var out bytes.Buffer
	if err := runCache(context.Background(), &out, s, cliConfig{jsonOutput: true}, []string{"finance/alice", "-"}); err != nil {
		t.Fatal(err)
	}
	var snap []tokens.SnapshotEntry
	if err := json.Unmarshal(out.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	var keys []string
	for _, e := range snap {
		keys = append(keys, e.Site+"/"+e.Principal)
	}
	if diff := cmp.Diff([]string{"/", "finance/", "finance/alice"}, keys); diff != "" {
		t.Fatalf("cache mismatch (-want +got):\n%s", diff)
	}

	if err := runCache(context.Background(), &out, s, cliConfig{}, []string{"finance/mallory"}); !errors.Is(err, siteconn.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
