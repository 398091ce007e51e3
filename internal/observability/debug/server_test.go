package debug

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"taskd/internal/storage"
	"taskd/internal/task/scheduler"
	logx "taskd/pkg/logx"
)

type fakeJobs struct{}

func (fakeJobs) Snapshot() scheduler.Snapshot {
	return scheduler.Snapshot{Timezone: "UTC", Jobs: []scheduler.Status{{ID: "j1", Name: "alpha", State: scheduler.StateScheduled}}}
}

func (fakeJobs) Status(id string) (scheduler.Status, error) {
	if id != "j1" {
		return scheduler.Status{}, scheduler.ErrNotFound
	}
	return scheduler.Status{ID: "j1", Name: "alpha", State: scheduler.StatePaused, RunCount: 2}, nil
}

func get(t *testing.T, h http.Handler, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestJobEndpoints(t *testing.T) {
	t.Parallel()

	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "fires.jsonl")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer st.Close()
	if err := st.AppendFire(context.Background(), storage.FireRecord{JobID: "j1", Job: "alpha", Run: 1, FireTime: time.Now(), OK: true}); err != nil {
		t.Fatalf("AppendFire: %v", err)
	}

	h := New(Config{Enabled: true}, fakeJobs{}, st, logx.Nop()).Handler()

	rec := get(t, h, "/jobs", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("/jobs code = %d", rec.Code)
	}
	var snap scheduler.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil || len(snap.Jobs) != 1 || snap.Jobs[0].Name != "alpha" {
		t.Fatalf("/jobs body = %s (err %v)", rec.Body.String(), err)
	}

	rec = get(t, h, "/jobs/j1", nil)
	var status scheduler.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil || status.RunCount != 2 || status.State != scheduler.StatePaused {
		t.Fatalf("/jobs/j1 body = %s (err %v)", rec.Body.String(), err)
	}

	if rec := get(t, h, "/jobs/nope", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("/jobs/nope code = %d, want 404", rec.Code)
	}

	rec = get(t, h, "/jobs/j1/fires?limit=5", nil)
	var fires []storage.FireRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &fires); err != nil || len(fires) != 1 || fires[0].Run != 1 {
		t.Fatalf("/jobs/j1/fires body = %s (err %v)", rec.Body.String(), err)
	}
	if rec := get(t, h, "/jobs/j1/fires?limit=zero", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit code = %d, want 400", rec.Code)
	}
}

func TestFiresWithoutStore(t *testing.T) {
	t.Parallel()
	h := New(Config{Enabled: true}, fakeJobs{}, nil, logx.Nop()).Handler()
	if rec := get(t, h, "/jobs/j1/fires", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", rec.Code)
	}
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()
	h := New(Config{Enabled: true, Token: "s3cret"}, fakeJobs{}, nil, logx.Nop()).Handler()

	if rec := get(t, h, "/healthz", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: code = %d, want 401", rec.Code)
	}
	if rec := get(t, h, "/healthz?token=s3cret", nil); rec.Code != http.StatusOK {
		t.Fatalf("query token: code = %d", rec.Code)
	}
	if rec := get(t, h, "/healthz", map[string]string{"Authorization": "Bearer s3cret"}); rec.Code != http.StatusOK {
		t.Fatalf("bearer token: code = %d", rec.Code)
	}
	if rec := get(t, h, "/healthz", map[string]string{"Authorization": "Bearer wrong"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: code = %d, want 401", rec.Code)
	}
	for _, tok := range []string{"s3cre", "s3cretx", "S3CRET"} {
		if rec := get(t, h, "/healthz?token="+tok, nil); rec.Code != http.StatusUnauthorized {
			t.Fatalf("near-miss token %q: code = %d, want 401", tok, rec.Code)
		}
	}
}

func TestStartRefusesPublicBindWithoutToken(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, fakeJobs{}, nil, logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		_ = s.Stop(context.Background())
		t.Fatal("Start accepted a public bind without token")
	}
}

func TestStartServes(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, fakeJobs{}, nil, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
