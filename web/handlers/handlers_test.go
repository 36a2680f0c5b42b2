package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alienxp03/deepdiscussion/internal/core"
	"github.com/alienxp03/deepdiscussion/internal/engine"
	"github.com/alienxp03/deepdiscussion/internal/export"
	"github.com/alienxp03/deepdiscussion/internal/storage"
	"github.com/alienxp03/deepdiscussion/provider"
	"github.com/alienxp03/deepdiscussion/provider/mock"
)

var defaultRoster = []core.Participant{
	{ID: "alpha", Provider: mock.Name, Model: "alpha"},
	{ID: "beta", Provider: mock.Name, Model: "beta"},
}

func setupTestHandler(t *testing.T) (*Handler, storage.Storage) {
	t.Helper()

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, store.Initialize())
	t.Cleanup(func() { store.Close() })

	registry := provider.NewRegistry()
	registry.Register(mock.New(provider.Config{}, nil))

	launch := func(participants []core.Participant) (engine.ModelClient, engine.Options, error) {
		if participants == nil {
			participants = defaultRoster
		}
		bindings := make(map[string]provider.Binding, len(participants))
		for _, p := range participants {
			bindings[p.ID] = provider.Binding{Provider: p.Provider, Model: p.Model}
		}
		router, err := provider.NewRouter(registry, bindings)
		if err != nil {
			return nil, engine.Options{}, err
		}
		return router, engine.Options{Roster: core.RosterIDs(participants)}, nil
	}

	h := New(store, registry, launch, export.Options{},
		WithHealthCache(filepath.Join(t.TempDir(), "health.json"), time.Minute))
	h.streamInterval = 10 * time.Millisecond
	t.Cleanup(h.Close)
	return h, store
}

func runDebate(t *testing.T, store storage.Storage, question string) string {
	t.Helper()
	reg := provider.NewRegistry()
	reg.Register(mock.New(provider.Config{}, nil))
	router, err := provider.NewRouter(reg, map[string]provider.Binding{
		"alpha": {Provider: mock.Name, Model: "alpha"},
		"beta":  {Provider: mock.Name, Model: "beta"},
	})
	require.NoError(t, err)

	rec := storage.NewRecorder(store)
	eng, err := engine.New(router, rec, engine.NoInput{}, engine.Options{Roster: []string{"alpha", "beta"}}, engine.Callbacks{})
	require.NoError(t, err)
	result, err := eng.Run(context.Background(), question)
	require.NoError(t, err)
	require.NoError(t, rec.Err())
	return result.DebateID
}

func serve(h *Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	h, _ := setupTestHandler(t)
	w := serve(h, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)
}

func TestHandleAPIDebate(t *testing.T) {
	h, store := setupTestHandler(t)
	id := runDebate(t, store, "如何设计缓存?")

	w := serve(h, "GET", "/api/debates/"+id, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Debate  core.Debate  `json:"debate"`
		Entries []core.Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, id, resp.Debate.ID)
	assert.Equal(t, core.StatusCompleted, resp.Debate.Status)
	require.NotEmpty(t, resp.Entries)
	assert.Equal(t, core.KindQuestion, resp.Entries[0].Kind)
	assert.Equal(t, core.KindFinalSolution, resp.Entries[len(resp.Entries)-1].Kind)
}

func TestHandleAPIDebate_NotFound(t *testing.T) {
	h, _ := setupTestHandler(t)
	for _, path := range []string{"/api/debates/missing", "/api/debates/missing/entries", "/api/debates/missing/replay"} {
		w := serve(h, "GET", path, "")
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}

func TestHandleAPIDebates(t *testing.T) {
	h, store := setupTestHandler(t)

	w := serve(h, "GET", "/api/debates", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))

	runDebate(t, store, "问题一")
	runDebate(t, store, "问题二")

	w = serve(h, "GET", "/api/debates?limit=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []core.DebateSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestHandleAPIReplay(t *testing.T) {
	h, store := setupTestHandler(t)
	id := runDebate(t, store, "如何设计缓存?")

	w := serve(h, "GET", "/api/debates/"+id+"/replay", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result engine.ReplayResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Consistent)
	assert.Equal(t, []string{"alpha", "beta"}, result.Roster)
}

func TestHandleAPIDeleteDebate(t *testing.T) {
	h, store := setupTestHandler(t)
	id := runDebate(t, store, "如何设计缓存?")

	w := serve(h, "DELETE", "/api/debates/"+id, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	debate, err := store.GetDebate(id)
	require.NoError(t, err)
	assert.Nil(t, debate)

	w = serve(h, "DELETE", "/api/debates/"+id, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleExportDebate(t *testing.T) {
	h, store := setupTestHandler(t)
	id := runDebate(t, store, "如何设计缓存?")

	w := serve(h, "GET", "/api/debates/"+id+"/export/md", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".md")
	assert.Contains(t, w.Body.String(), "如何设计缓存?")

	w = serve(h, "GET", "/api/debates/"+id+"/export/json", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	w = serve(h, "GET", "/api/debates/"+id+"/export/docx", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleAPICreateDebate(t *testing.T) {
	h, store := setupTestHandler(t)

	w := serve(h, "POST", "/api/debates", `{"question":"如何设计缓存?","max_rounds":2}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp struct {
		ID     string   `json:"id"`
		Roster []string `json:"roster"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	assert.Equal(t, []string{"alpha", "beta"}, resp.Roster)

	require.Eventually(t, func() bool {
		debate, err := store.GetDebate(resp.ID)
		return err == nil && debate != nil && debate.IsCompleted()
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHandleAPICreateDebate_Participants(t *testing.T) {
	h, _ := setupTestHandler(t)

	w := serve(h, "POST", "/api/debates", `{"question":"q","participants":["x=mock/m1","y=mock/m2","z=mock"]}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"roster":["x","y","z"]`)
}

func TestHandleAPICreateDebate_BadRequests(t *testing.T) {
	h, _ := setupTestHandler(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"empty question", `{"question":"   "}`},
		{"bad participant", `{"question":"q","participants":["=mock"]}`},
		{"unknown provider", `{"question":"q","participants":["a=nope","b=mock"]}`},
		{"single participant", `{"question":"q","participants":["a=mock"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(h, "POST", "/api/debates", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestHandleAPICreateDebate_Disabled(t *testing.T) {
	h, _ := setupTestHandler(t)
	h.launch = nil
	w := serve(h, "POST", "/api/debates", `{"question":"q"}`)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestHandleDebateStream(t *testing.T) {
	h, store := setupTestHandler(t)
	id := runDebate(t, store, "如何设计缓存?")
	entries, err := store.GetEntries(id)
	require.NoError(t, err)

	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/debates/" + id + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events []string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
			events = append(events, name)
		}
	}
	require.NoError(t, scanner.Err())

	require.Len(t, events, len(entries)+1)
	assert.Equal(t, "entry", events[0])
	assert.Equal(t, "debate_complete", events[len(events)-1])
}

func TestHandleDebateStream_NotFound(t *testing.T) {
	h, _ := setupTestHandler(t)
	w := serve(h, "GET", "/api/debates/missing/stream", "")
	assert.Contains(t, w.Body.String(), "event: error")
	assert.Contains(t, w.Body.String(), "Debate not found")
}

type countingProvider struct {
	name   string
	checks int32
}

func (p *countingProvider) Name() string    { return p.name }
func (p *countingProvider) Available() bool { return true }

func (p *countingProvider) Execute(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	return &provider.Response{Content: "2"}, nil
}

func (p *countingProvider) HealthCheck(ctx context.Context) provider.HealthStatus {
	atomic.AddInt32(&p.checks, 1)
	return provider.HealthStatus{
		Available:    true,
		ResponseTime: 50 * time.Millisecond,
		CheckedAt:    time.Now(),
	}
}

func TestHandleAPIProviderHealth_UsesCache(t *testing.T) {
	h, _ := setupTestHandler(t)
	prov := &countingProvider{name: "counting"}
	h.registry.Register(prov)

	w := serve(h, "GET", "/api/providers/health/counting", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cached":false`)

	w = serve(h, "GET", "/api/providers/health/counting", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cached":true`)

	assert.Equal(t, int32(1), atomic.LoadInt32(&prov.checks))

	w = serve(h, "GET", "/api/providers/health/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleAPIProviderHealth_ModelAndRefresh(t *testing.T) {
	h, _ := setupTestHandler(t)
	prov := &countingProvider{name: "counting"}
	h.registry.Register(prov)

	w := serve(h, "GET", "/api/providers/health/counting?model=m1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"model":"m1"`)

	w = serve(h, "GET", "/api/providers/health/counting?model=m2", "")
	assert.Contains(t, w.Body.String(), `"cached":false`)
	assert.Equal(t, int32(2), atomic.LoadInt32(&prov.checks))

	w = serve(h, "GET", "/api/providers/health/counting?model=m1", "")
	assert.Contains(t, w.Body.String(), `"cached":true`)

	w = serve(h, "GET", "/api/providers/health/counting?model=m1&refresh=1", "")
	assert.Contains(t, w.Body.String(), `"cached":false`)
	assert.Equal(t, int32(3), atomic.LoadInt32(&prov.checks))
}

func TestHandleAPIProviders(t *testing.T) {
	h, _ := setupTestHandler(t)
	w := serve(h, "GET", "/api/providers", "")
	require.Equal(t, http.StatusOK, w.Code)

	var list []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, mock.Name, list[0]["name"])
	assert.Equal(t, true, list[0]["available"])
}
