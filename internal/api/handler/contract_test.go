package handler_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/vegchange/internal/aoi"
	"github.com/kiranshivaraju/vegchange/internal/api"
	"github.com/kiranshivaraju/vegchange/internal/api/handler"
	mw "github.com/kiranshivaraju/vegchange/internal/api/middleware"
	"github.com/kiranshivaraju/vegchange/internal/cache"
	"github.com/kiranshivaraju/vegchange/internal/export"
	"github.com/kiranshivaraju/vegchange/internal/jobs"
	"github.com/kiranshivaraju/vegchange/internal/orchestrator"
	"github.com/kiranshivaraju/vegchange/internal/raster"
	"github.com/kiranshivaraju/vegchange/internal/store"
	"github.com/kiranshivaraju/vegchange/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// ─── test fixtures ───────────────────────────────────────────────────────────

var (
	testTenantID = uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	testRawKey   = "vc_test_contract_key_1234567890"
	testBBox     = []float64{-72.5, -13.5, -72.4, -13.4}
)

func testKeyHash() string {
	h, _ := bcrypt.GenerateFromPassword([]byte(testRawKey), bcrypt.MinCost)
	return string(h)
}

// ─── mock store ──────────────────────────────────────────────────────────────

type mockStore struct {
	mu    sync.Mutex
	keys  []*models.APIKey
	sites map[uuid.UUID]*models.Site
}

func newMockStore() *mockStore {
	return &mockStore{
		keys: []*models.APIKey{{
			ID:        uuid.New(),
			TenantID:  testTenantID,
			Name:      "test-key",
			KeyHash:   testKeyHash(),
			KeyPrefix: testRawKey[:mw.KeyPrefixLen],
			Scopes:    []string{models.ScopeAdmin},
		}},
		sites: make(map[uuid.UUID]*models.Site),
	}
}

func (s *mockStore) Ping(_ context.Context) error { return nil }

func (s *mockStore) GetDefaultTenant(_ context.Context) (*models.Tenant, error) {
	return &models.Tenant{ID: testTenantID, Name: "default"}, nil
}

func (s *mockStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix && k.RevokedAt == nil {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *mockStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }

func (s *mockStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.keys {
		if existing.Name == key.Name && existing.TenantID == key.TenantID && existing.RevokedAt == nil {
			return store.ErrDuplicateKey
		}
	}
	s.keys = append(s.keys, key)
	return nil
}

func (s *mockStore) ListAPIKeys(_ context.Context, tenantID uuid.UUID) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.TenantID == tenantID && k.RevokedAt == nil {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *mockStore) RevokeAPIKey(_ context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.ID == id && k.TenantID == tenantID && k.RevokedAt == nil {
			now := time.Now()
			k.RevokedAt = &now
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *mockStore) CreateSite(_ context.Context, site *models.Site) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sites {
		if existing.TenantID == site.TenantID && existing.Name == site.Name {
			return store.ErrDuplicateKey
		}
	}
	s.sites[site.ID] = site
	return nil
}

func (s *mockStore) GetSite(_ context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.sites[id]; ok && st.TenantID == tenantID {
		return st, nil
	}
	return nil, store.ErrNotFound
}

func (s *mockStore) ListSites(_ context.Context, f store.SiteFilter) ([]*models.Site, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Site
	for _, st := range s.sites {
		if st.TenantID == f.TenantID {
			out = append(out, st)
		}
	}
	return out, len(out), nil
}

var _ store.Store = (*mockStore)(nil)

// ─── mock cache ──────────────────────────────────────────────────────────────

type mockCache struct {
	mu       sync.Mutex
	data     map[string][]byte
	counters map[string]int64
}

func newMockCache() *mockCache {
	return &mockCache{data: make(map[string][]byte), counters: make(map[string]int64)}
}

func (c *mockCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mockCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *mockCache) Ping(_ context.Context) error { return nil }
func (c *mockCache) Close() error                 { return nil }

func (c *mockCache) IncrWithExpiry(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[key]++
	return c.counters[key], nil
}

var _ cache.Cache = (*mockCache)(nil)

// ─── queues ──────────────────────────────────────────────────────────────────

// heldQueue accepts (or rejects) jobs without running them.
type heldQueue struct{ accept bool }

func (q heldQueue) Submit(string, aoi.AOI) bool { return q.accept }

// ─── test harness ────────────────────────────────────────────────────────────

type testServer struct {
	server *httptest.Server
	store  *mockStore
	cache  *mockCache
}

func newTestServer(t *testing.T, queue handler.JobQueue) *testServer {
	t.Helper()

	ms := newMockStore()
	mc := newMockCache()

	engine := raster.NewMemoryEngine(raster.WithGridSize(8))
	tracker := export.NewTracker(engine, mc, time.Minute, nil)
	orch := orchestrator.New(engine, jobs.NewMemoryStore(20), orchestrator.WithExporter(tracker))

	if queue == nil {
		d := orchestrator.NewDispatcher(orch, 2, 8, nil)
		d.Start(context.Background())
		t.Cleanup(d.Stop)
		queue = d
	}

	sites := handler.NewSites(ms, mc)
	analysis := handler.NewAnalysis(orch, queue, sites)
	keys := handler.NewKeys(ms)

	router := api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(ms),
		RateLimit: mw.NewRateLimit(mc, 1000),

		HealthHandler: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) },

		CreateAnalysis: analysis.Create,
		GetAnalysis:    analysis.Get,
		CancelAnalysis: analysis.Cancel,
		ListAnalyses:   analysis.List,

		ListPeriods: handler.Periods,
		ListIndices: handler.Indices,

		CreateSite: sites.Create,
		ListSites:  sites.List,
		GetSite:    sites.Get,

		ExportStatus: handler.NewExportStatusHandler(tracker),

		CreateKeyHandler: keys.Create,
		ListKeysHandler:  keys.List,
		RevokeKeyHandler: keys.Revoke,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{server: srv, store: ms, cache: mc}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	return ts.doWithKey(t, method, path, body, testRawKey)
}

func (ts *testServer) doWithKey(t *testing.T, method, path string, body any, key string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeData(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	env := struct {
		Data any `json:"data"`
	}{Data: v}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
}

func decodeError(t *testing.T, resp *http.Response) (code string, details map[string]any) {
	t.Helper()
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env.Error.Code, env.Error.Details
}

func (ts *testServer) createJob(t *testing.T, body any) string {
	t.Helper()
	resp := ts.do(t, "POST", "/api/v1/analysis", body)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var created struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	decodeData(t, resp, &created)
	require.NotEmpty(t, created.JobID)
	assert.Equal(t, "pending", created.Status)
	return created.JobID
}

func (ts *testServer) waitTerminal(t *testing.T, jobID string) models.AnalysisJob {
	t.Helper()
	var job models.AnalysisJob
	require.Eventually(t, func() bool {
		resp := ts.do(t, "GET", "/api/v1/analysis/"+jobID, nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		job = models.AnalysisJob{}
		decodeData(t, resp, &job)
		return job.Status.Terminal()
	}, 10*time.Second, 20*time.Millisecond)
	return job
}

// ─── analysis ────────────────────────────────────────────────────────────────

func TestContract_AnalysisLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)

	jobID := ts.createJob(t, map[string]any{
		"aoi":    map[string]any{"bbox": testBBox},
		"config": map[string]any{"site_name": "Contract Site"},
	})
	job := ts.waitTerminal(t, jobID)

	require.Equal(t, models.JobStatusCompleted, job.Status, "error: %v", job.Error)
	assert.Equal(t, 1.0, job.Progress)
	assert.Equal(t, "Analysis complete", job.CurrentStep)
	require.NotNil(t, job.Results)
	assert.Equal(t, []string{"1990s_to_2000s", "1990s_to_2010s", "1990s_to_present"}, job.Results.Comparisons)
	require.Contains(t, job.Results.Statistics, "1990s_to_present")
	assert.Contains(t, job.Results.Statistics["1990s_to_present"].Indices, "ndvi")
	require.NotNil(t, job.Results.AOI)
	assert.Greater(t, job.Results.AOI.AreaHa, 0.0)
	assert.Equal(t, "Contract Site", job.Results.Config.SiteName)
}

func TestContract_AnalysisInvalidConfig(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(t, "POST", "/api/v1/analysis", map[string]any{
		"aoi":    map[string]any{"bbox": testBBox},
		"config": map[string]any{"periods": []string{"1980s", "present"}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	code, _ := decodeError(t, resp)
	assert.Equal(t, "INVALID_CONFIG", code)
}

func TestContract_AnalysisAOIValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name string
		aoi  map[string]any
	}{
		{"missing", map[string]any{}},
		{"two forms", map[string]any{"bbox": testBBox, "site_id": uuid.NewString()}},
		{"short bbox", map[string]any{"bbox": []float64{1, 2, 3}}},
		{"inverted bbox", map[string]any{"bbox": []float64{-72.4, -13.4, -72.5, -13.5}}},
		{"point geometry", map[string]any{"geometry": map[string]any{"type": "Point", "coordinates": []float64{1, 2}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, "POST", "/api/v1/analysis", map[string]any{"aoi": tt.aoi})
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			code, _ := decodeError(t, resp)
			assert.Equal(t, "INVALID_AOI", code)
		})
	}
}

func TestContract_AnalysisUnknownField(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(t, "POST", "/api/v1/analysis", map[string]any{
		"aoi":     map[string]any{"bbox": testBBox},
		"unknown": true,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	code, _ := decodeError(t, resp)
	assert.Equal(t, "INVALID_REQUEST", code)
}

func TestContract_QueueFullLeavesJobPending(t *testing.T) {
	ts := newTestServer(t, heldQueue{accept: false})

	resp := ts.do(t, "POST", "/api/v1/analysis", map[string]any{"aoi": map[string]any{"bbox": testBBox}})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	code, details := decodeError(t, resp)
	assert.Equal(t, "QUEUE_FULL", code)
	jobID, _ := details["job_id"].(string)
	require.NotEmpty(t, jobID)

	get := ts.do(t, "GET", "/api/v1/analysis/"+jobID, nil)
	require.Equal(t, http.StatusOK, get.StatusCode)
	var job models.AnalysisJob
	decodeData(t, get, &job)
	assert.Equal(t, models.JobStatusPending, job.Status)

	cancel := ts.do(t, "DELETE", "/api/v1/analysis/"+jobID, nil)
	assert.Equal(t, http.StatusOK, cancel.StatusCode)
}

func TestContract_Cancel(t *testing.T) {
	ts := newTestServer(t, heldQueue{accept: true})

	jobID := ts.createJob(t, map[string]any{"aoi": map[string]any{"bbox": testBBox}})

	resp := ts.do(t, "DELETE", "/api/v1/analysis/"+jobID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var job models.AnalysisJob
	decodeData(t, resp, &job)
	assert.Equal(t, models.JobStatusCancelled, job.Status)
	assert.NotNil(t, job.CompletedAt)

	// Already cancelled: conflict.
	resp = ts.do(t, "DELETE", "/api/v1/analysis/"+jobID, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	code, details := decodeError(t, resp)
	assert.Equal(t, "JOB_NOT_CANCELLABLE", code)
	assert.Equal(t, "cancelled", details["status"])

	resp = ts.do(t, "DELETE", "/api/v1/analysis/nope0000", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestContract_GetUnknownJob(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(t, "GET", "/api/v1/analysis/deadbeef", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	code, _ := decodeError(t, resp)
	assert.Equal(t, "JOB_NOT_FOUND", code)
}

func TestContract_ListJobs(t *testing.T) {
	ts := newTestServer(t, heldQueue{accept: true})

	first := ts.createJob(t, map[string]any{"aoi": map[string]any{"bbox": testBBox}})
	second := ts.createJob(t, map[string]any{"aoi": map[string]any{"bbox": testBBox}})
	require.Equal(t, http.StatusOK, ts.do(t, "DELETE", "/api/v1/analysis/"+first, nil).StatusCode)

	resp := ts.do(t, "GET", "/api/v1/analysis", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var all []models.AnalysisJob
	decodeData(t, resp, &all)
	assert.Len(t, all, 2)

	resp = ts.do(t, "GET", "/api/v1/analysis?status=pending", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pending []models.AnalysisJob
	decodeData(t, resp, &pending)
	require.Len(t, pending, 1)
	assert.Equal(t, second, pending[0].ID)

	resp = ts.do(t, "GET", "/api/v1/analysis?status=cancelled&limit=1", nil)
	var cancelled []models.AnalysisJob
	decodeData(t, resp, &cancelled)
	require.Len(t, cancelled, 1)
	assert.Equal(t, first, cancelled[0].ID)

	for _, q := range []string{"?status=bogus", "?limit=0", "?limit=101", "?limit=ten"} {
		resp := ts.do(t, "GET", "/api/v1/analysis"+q, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

// ─── catalog ─────────────────────────────────────────────────────────────────

func TestContract_PeriodsAndIndices(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(t, "GET", "/api/v1/periods", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var periods []map[string]any
	decodeData(t, resp, &periods)
	require.Len(t, periods, 4)
	assert.Equal(t, "1990s", periods[0]["name"])
	assert.Equal(t, "present", periods[3]["name"])

	resp = ts.do(t, "GET", "/api/v1/indices", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Indices []struct {
			Name              string               `json:"name"`
			DefaultThresholds models.ThresholdSpec `json:"default_thresholds"`
		} `json:"indices"`
		ChangeClasses []struct {
			Value int    `json:"value"`
			Label string `json:"label"`
		} `json:"change_classes"`
	}
	decodeData(t, resp, &body)
	assert.Len(t, body.ChangeClasses, 5)
	assert.Equal(t, "Strong Loss", body.ChangeClasses[0].Label)

	byName := map[string]models.ThresholdSpec{}
	for _, idx := range body.Indices {
		byName[idx.Name] = idx.DefaultThresholds
	}
	require.Contains(t, byName, "nbr")
	assert.Equal(t, -0.20, byName["nbr"].StrongLoss)
	assert.Equal(t, -0.15, byName["ndvi"].StrongLoss)
}

// ─── sites ───────────────────────────────────────────────────────────────────

func TestContract_SitesAndSiteAnalysis(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(t, "POST", "/api/v1/sites", map[string]any{
		"name":        "Manu Buffer",
		"description": "buffer zone",
		"bbox":        testBBox,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var site models.Site
	decodeData(t, resp, &site)
	assert.Equal(t, testTenantID, site.TenantID)
	assert.InDelta(t, 11800, site.AreaHa, 600)

	dup := ts.do(t, "POST", "/api/v1/sites", map[string]any{"name": "Manu Buffer", "bbox": testBBox})
	assert.Equal(t, http.StatusConflict, dup.StatusCode)

	get := ts.do(t, "GET", "/api/v1/sites/"+site.ID.String(), nil)
	require.Equal(t, http.StatusOK, get.StatusCode)

	list := ts.do(t, "GET", "/api/v1/sites?limit=10", nil)
	require.Equal(t, http.StatusOK, list.StatusCode)

	jobID := ts.createJob(t, map[string]any{
		"aoi":    map[string]any{"site_id": site.ID.String()},
		"config": map[string]any{"indices": []string{"ndvi"}},
	})
	job := ts.waitTerminal(t, jobID)
	require.Equal(t, models.JobStatusCompleted, job.Status, "error: %v", job.Error)
	assert.Equal(t, "Manu Buffer", job.Config.SiteName)
	assert.Equal(t, []string{"ndvi"}, job.Config.Indices)

	missing := ts.do(t, "POST", "/api/v1/analysis", map[string]any{
		"aoi": map[string]any{"site_id": uuid.NewString()},
	})
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
	code, _ := decodeError(t, missing)
	assert.Equal(t, "SITE_NOT_FOUND", code)
}

func TestContract_SiteValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name string
		body map[string]any
		code string
	}{
		{"missing name", map[string]any{"bbox": testBBox}, "INVALID_REQUEST"},
		{"blank name", map[string]any{"name": "   ", "bbox": testBBox}, "INVALID_REQUEST"},
		{"no geometry", map[string]any{"name": "x"}, "INVALID_AOI"},
		{"site reference", map[string]any{"name": "x", "site_id": uuid.NewString()}, "INVALID_AOI"},
		{"long name", map[string]any{"name": strings.Repeat("a", 201), "bbox": testBBox}, "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, "POST", "/api/v1/sites", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			code, _ := decodeError(t, resp)
			assert.Equal(t, tt.code, code)
		})
	}

	resp := ts.do(t, "GET", "/api/v1/sites/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = ts.do(t, "GET", "/api/v1/sites/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

const uploadKML = `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2"><Document><Placemark><Polygon>
<outerBoundaryIs><LinearRing><coordinates>
-72.5,-13.5,0 -72.4,-13.5,0 -72.4,-13.4,0 -72.5,-13.4,0 -72.5,-13.5,0
</coordinates></LinearRing></outerBoundaryIs>
</Polygon></Placemark></Document></kml>`

// upload posts a multipart site form. An empty filename omits the file part.
func (ts *testServer) upload(t *testing.T, fields map[string]string, filename string, content []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mpw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mpw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mpw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mpw.Close())

	req, err := http.NewRequest("POST", ts.server.URL+"/api/v1/sites", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mpw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+testRawKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func kmzArchive(t *testing.T, kml string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("doc.kml")
	require.NoError(t, err)
	_, err = w.Write([]byte(kml))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestContract_SiteFileUpload(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.upload(t, map[string]string{"name": "Manu KML", "description": "from kml"}, "manu.kml", []byte(uploadKML))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var site models.Site
	decodeData(t, resp, &site)
	assert.Equal(t, "Manu KML", site.Name)
	assert.Equal(t, "from kml", site.Description)
	assert.InDelta(t, 11800, site.AreaHa, 600)

	resp = ts.upload(t, map[string]string{"name": "Manu KMZ"}, "manu.kmz", kmzArchive(t, uploadKML))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.upload(t, map[string]string{"name": "Manu GeoJSON"}, "manu.geojson",
		[]byte(`{"type":"Polygon","coordinates":[[[-72.5,-13.5],[-72.4,-13.5],[-72.4,-13.4],[-72.5,-13.4],[-72.5,-13.5]]]}`))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	jobID := ts.createJob(t, map[string]any{
		"aoi":    map[string]any{"site_id": site.ID.String()},
		"config": map[string]any{"indices": []string{"ndvi"}},
	})
	job := ts.waitTerminal(t, jobID)
	require.Equal(t, models.JobStatusCompleted, job.Status, "error: %v", job.Error)
	assert.Equal(t, "Manu KML", job.Config.SiteName)
}

func TestContract_SiteFileUploadValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name     string
		fields   map[string]string
		filename string
		content  []byte
		code     string
	}{
		{"missing name", nil, "manu.kml", []byte(uploadKML), "INVALID_REQUEST"},
		{"missing file", map[string]string{"name": "x"}, "", nil, "INVALID_AOI"},
		{"unsupported format", map[string]string{"name": "x"}, "manu.shp", []byte{0, 1}, "UNSUPPORTED_AOI_FORMAT"},
		{"bad kml", map[string]string{"name": "x"}, "bad.kml", []byte("<kml><Polygon><outerBoundaryIs><LinearRing><coordinates>a,b</coordinates></LinearRing></outerBoundaryIs></Polygon></kml>"), "INVALID_AOI"},
		{"corrupt kmz", map[string]string{"name": "x"}, "bad.kmz", []byte("not a zip"), "INVALID_AOI"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.upload(t, tt.fields, tt.filename, tt.content)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			code, _ := decodeError(t, resp)
			assert.Equal(t, tt.code, code)
		})
	}
}

// ─── exports ─────────────────────────────────────────────────────────────────

func TestContract_ExportsTracked(t *testing.T) {
	ts := newTestServer(t, nil)

	jobID := ts.createJob(t, map[string]any{
		"aoi": map[string]any{"bbox": testBBox},
		"config": map[string]any{
			"site_name": "Export Site",
			"periods":   []string{"1990s", "present"},
			"export":    map[string]any{"enabled": true, "destination": "drive", "folder": "out"},
		},
	})
	job := ts.waitTerminal(t, jobID)
	require.Equal(t, models.JobStatusCompleted, job.Status, "error: %v", job.Error)
	require.Len(t, job.Results.Exports, 3)
	assert.Equal(t, "export_site_composite_1990s", job.Results.Exports[0].Description)
	assert.Equal(t, "export_site_composite_present", job.Results.Exports[1].Description)
	task := job.Results.Exports[2]
	assert.Equal(t, models.ExportChange, task.Kind)
	assert.Equal(t, "export_site_1990s_to_present", task.Description)

	resp := ts.do(t, "GET", "/api/v1/exports/"+job.Results.Exports[0].TaskID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, "GET", "/api/v1/exports/"+task.TaskID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status raster.Task
	decodeData(t, resp, &status)
	assert.Equal(t, raster.TaskCompleted, status.State)

	resp = ts.do(t, "GET", "/api/v1/exports/unknown-task", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// ─── admin keys ──────────────────────────────────────────────────────────────

func TestContract_KeyLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(t, "POST", "/api/v1/admin/keys", map[string]any{"name": "field laptop"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		ID        uuid.UUID `json:"id"`
		Key       string    `json:"key"`
		KeyPrefix string    `json:"key_prefix"`
		Scopes    []string  `json:"scopes"`
		KeyHash   string    `json:"key_hash"`
	}
	decodeData(t, resp, &created)
	assert.True(t, strings.HasPrefix(created.Key, "vc_"))
	assert.Equal(t, created.Key[:mw.KeyPrefixLen], created.KeyPrefix)
	assert.Equal(t, []string{models.ScopeAnalysis}, created.Scopes)
	assert.Empty(t, created.KeyHash)

	// The new key works for analysis routes but not admin ones.
	assert.Equal(t, http.StatusOK, ts.doWithKey(t, "GET", "/api/v1/periods", nil, created.Key).StatusCode)
	assert.Equal(t, http.StatusForbidden, ts.doWithKey(t, "GET", "/api/v1/admin/keys", nil, created.Key).StatusCode)

	list := ts.do(t, "GET", "/api/v1/admin/keys", nil)
	require.Equal(t, http.StatusOK, list.StatusCode)
	var keys []map[string]any
	decodeData(t, list, &keys)
	assert.Len(t, keys, 2)

	dup := ts.do(t, "POST", "/api/v1/admin/keys", map[string]any{"name": "field laptop"})
	assert.Equal(t, http.StatusConflict, dup.StatusCode)

	revoke := ts.do(t, "DELETE", "/api/v1/admin/keys/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, revoke.StatusCode)
	assert.Equal(t, http.StatusUnauthorized, ts.doWithKey(t, "GET", "/api/v1/periods", nil, created.Key).StatusCode)

	again := ts.do(t, "DELETE", "/api/v1/admin/keys/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, again.StatusCode)

	bad := ts.do(t, "DELETE", "/api/v1/admin/keys/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestContract_KeyValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(t, "POST", "/api/v1/admin/keys", map[string]any{"name": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, "POST", "/api/v1/admin/keys", map[string]any{"name": "x", "scopes": []string{"root"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// ─── rate limit ──────────────────────────────────────────────────────────────

func TestContract_RateLimitHeaders(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(t, "GET", "/api/v1/periods", nil)
	assert.Equal(t, "1000", resp.Header.Get("X-RateLimit-Limit"))
	assert.Equal(t, "999", resp.Header.Get("X-RateLimit-Remaining"))
}
