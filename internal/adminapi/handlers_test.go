package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/qosmap/ppsprobe/internal/report"
	"github.com/qosmap/ppsprobe/internal/seq"
	"github.com/qosmap/ppsprobe/pkg/guuid"
)

func newTestServer(t *testing.T) (*Server, report.Store) {
	t.Helper()
	store := report.NewMemoryStore(10)
	tokens := NewTokenIssuer("test-secret", time.Minute, "ppsprobe-admin-test")
	return NewServer(store, tokens, nil), store
}

func TestHandleListReportsRequiresAuth(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler(prometheus.NewRegistry()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/reports")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestIssueTokenThenListReports(t *testing.T) {
	s, store := newTestServer(t)
	id, _ := guuid.New()
	store.Put(context.Background(), report.StoredReport{
		FlowID:     id,
		PPS:        5000,
		PayloadLen: 800,
		Report:     seq.NewReSequencer32().Report(),
		RecordedAt: time.Now(),
	})

	srv := httptest.NewServer(s.Handler(prometheus.NewRegistry()))
	defer srv.Close()

	body, err := json.Marshal(issueTokenRequest{Subject: "operator"})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(srv.URL+"/api/v1/tokens", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST tokens: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("issue token status = %d, want 200", resp.StatusCode)
	}
	var tokenResp issueTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		t.Fatalf("decode token response: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/reports", nil)
	req.Header.Set("Authorization", "Bearer "+tokenResp.Token)
	listResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET reports: %v", err)
	}
	defer listResp.Body.Close()
	if listResp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d, want 200", listResp.StatusCode)
	}
	var reports []*report.StoredReport
	if err := json.NewDecoder(listResp.Body).Decode(&reports); err != nil {
		t.Fatalf("decode reports: %v", err)
	}
	if len(reports) != 1 || reports[0].FlowID != id {
		t.Fatalf("reports = %v, want single entry for %s", reports, id)
	}
}
