package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subjectfix/internal/admin"
	"subjectfix/internal/config"
	"subjectfix/internal/dispatch"
	"subjectfix/internal/domain"
	"subjectfix/internal/journal"
	"subjectfix/internal/mailstore"
	"subjectfix/internal/metrics"
	"subjectfix/internal/redisstore"
	"subjectfix/internal/rewriter"
	"subjectfix/internal/subject"
	"subjectfix/internal/testutils"
)

type testAPI struct {
	router    http.Handler
	session   *testutils.Session
	store     *redisstore.Store
	processor *rewriter.Processor
	mr        *miniredis.Miniredis
	token     string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.Defaults()
	cfg.AdminPassword = "pw"
	cfg.JWTSecret = "secret"

	store := redisstore.NewWithClient(client)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	p := rewriter.New(subject.MustMatcher(cfg.SubjectPatterns...), rewriter.WithMetrics(m))
	d := dispatch.New(p, nil)
	d.Delay = 0
	d.Metrics = m
	d.Stats = store

	menus := dispatch.NewRegistry()
	require.NoError(t, menus.Register(dispatch.Menu))

	session := &testutils.Session{FakeStore: testutils.NewFakeStore()}
	dial := testutils.Dialer(session)

	adm, err := admin.NewAdminHandler(cfg, store, journal.New(store, nil, nil), dial, nil)
	require.NoError(t, err)

	h := &Handler{
		Dispatcher: d,
		Menus:      menus,
		Dial:       dial,
		Admin:      adm,
		Ready:      store,
		Gatherer:   reg,
		Refresh: func(ctx context.Context) error {
			matcher, err := store.LoadMatcher(ctx, cfg.SubjectPatterns)
			if err != nil {
				return err
			}
			p.SetMatcher(matcher)
			return nil
		},
	}

	api := &testAPI{router: h.Router(), session: session, store: store, processor: p, mr: mr}
	api.token = api.login(t)
	return api
}

func (a *testAPI) do(method, target string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) login(t *testing.T) string {
	rec := a.do(http.MethodPost, "/api/admin/login", map[string]string{"password": "pw"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp["token"]
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)

	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/readyz", nil).Code)

	a.mr.SetError("server down")
	assert.Equal(t, http.StatusServiceUnavailable, a.do(http.MethodGet, "/api/readyz", nil).Code)
}

func TestListMenus(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodGet, "/api/menus", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var items []domain.MenuItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	assert.Equal(t, []domain.MenuItem{dispatch.Menu}, items)
}

func TestMenuClicked(t *testing.T) {
	a := newTestAPI(t)
	st := a.session.FakeStore
	var uids []uint32
	for _, s := range []string{"[EXTERN] one", "two", "[EXTERN] three"} {
		m := st.Add("INBOX", s, []byte("Subject: "+s+"\r\n\r\nbody\r\n"), domain.Properties{})
		uids = append(uids, m.ID.UID)
	}

	rec := a.do(http.MethodPost, "/api/menus/"+dispatch.MenuID+"/clicked", clickRequest{Folder: "INBOX", UIDs: uids})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"processed":2}`, rec.Body.String())
	assert.Len(t, st.Trash(), 2)
	assert.Equal(t, 1, a.session.Closed)

	stats, err := a.store.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Stats{Trigger: "menu", Processed: 2, Skipped: 1}, stats[1])

	rec = a.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `subjectfix_messages_total{result="processed",trigger="menu"} 2`)
}

func TestMenuClickedUsesStoredPatterns(t *testing.T) {
	a := newTestAPI(t)
	require.NoError(t, a.store.AddPattern(context.Background(), `^EXT:\s*`))

	st := a.session.FakeStore
	m := st.Add("INBOX", "EXT: hello", []byte("Subject: EXT: hello\r\n\r\nbody\r\n"), domain.Properties{})

	rec := a.do(http.MethodPost, "/api/menus/"+dispatch.MenuID+"/clicked", clickRequest{Folder: "INBOX", UIDs: []uint32{m.ID.UID}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"processed":1}`, rec.Body.String())
	assert.Equal(t, []string{`^EXT:\s*`}, a.processor.Matcher().Patterns())
}

func TestMenuClickedRejects(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodPost, "/api/menus/unknown/clicked", clickRequest{Folder: "INBOX", UIDs: []uint32{1}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(http.MethodPost, "/api/menus/"+dispatch.MenuID+"/clicked", clickRequest{Folder: "INBOX"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	a.token = ""
	rec = a.do(http.MethodPost, "/api/menus/"+dispatch.MenuID+"/clicked", clickRequest{Folder: "INBOX", UIDs: []uint32{1}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, a.session.Closed)
}

func TestMenuClickedDialFailure(t *testing.T) {
	a := newTestAPI(t)
	h := &Handler{
		Dispatcher: dispatch.New(a.processor, nil),
		Menus:      dispatch.NewRegistry(),
		Dial: func(context.Context) (mailstore.Session, error) {
			return nil, errors.New("connection refused")
		},
	}
	require.NoError(t, h.Menus.Register(dispatch.Menu))

	body, _ := json.Marshal(clickRequest{Folder: "INBOX", UIDs: []uint32{1}})
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", dispatch.MenuID)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	rec := httptest.NewRecorder()
	h.menuClicked(rec, req)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
