package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docqa/internal/answer"
	"github.com/fyrsmithlabs/docqa/internal/auth"
	"github.com/fyrsmithlabs/docqa/internal/config"
	"github.com/fyrsmithlabs/docqa/internal/documents"
	"github.com/fyrsmithlabs/docqa/internal/jobs"
	"github.com/fyrsmithlabs/docqa/internal/llm"
	"github.com/fyrsmithlabs/docqa/internal/logging"
	"github.com/fyrsmithlabs/docqa/internal/store"
	"github.com/fyrsmithlabs/docqa/internal/store/memory"
)

type fakeDocuments struct {
	mu      sync.Mutex
	uploads []documents.Upload
	bodies  []string
	docs    []store.Document
	deleted []int64
	paths   map[int64]string
	err     error
}

func (f *fakeDocuments) record(up documents.Upload) error {
	body, err := io.ReadAll(up.Body)
	if err != nil {
		return err
	}
	f.uploads = append(f.uploads, up)
	f.bodies = append(f.bodies, string(body))
	return nil
}

func (f *fakeDocuments) Upload(_ context.Context, _ int64, up documents.Upload) (*documents.Uploaded, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if err := f.record(up); err != nil {
		return nil, err
	}
	return &documents.Uploaded{ID: int64(len(f.uploads)), Filename: up.Filename, Chunks: 1, JobID: "job"}, nil
}

func (f *fakeDocuments) UploadBatch(ctx context.Context, userID int64, ups []documents.Upload) ([]*documents.Uploaded, error) {
	out := make([]*documents.Uploaded, 0, len(ups))
	for _, up := range ups {
		doc, err := f.Upload(ctx, userID, up)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func (f *fakeDocuments) List(context.Context, int64) ([]store.Document, error) {
	return f.docs, f.err
}

func (f *fakeDocuments) Open(_ context.Context, _ int64, id int64) (*store.Document, *os.File, error) {
	path, ok := f.paths[id]
	if !ok {
		return nil, nil, documents.ErrNotFound
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return &store.Document{ID: id, Filename: filepath.Base(path)}, file, nil
}

func (f *fakeDocuments) Delete(_ context.Context, _ int64, id int64) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeAnswerer struct {
	mu        sync.Mutex
	result    *answer.Result
	fragments []string
	streamErr error
	err       error
	requests  []answer.Request
	requestID string
}

func (f *fakeAnswerer) capture(ctx context.Context, req answer.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	f.requestID = logging.RequestIDFromContext(ctx)
}

func (f *fakeAnswerer) Answer(ctx context.Context, req answer.Request) (*answer.Result, error) {
	f.capture(ctx, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeAnswerer) AnswerStream(ctx context.Context, req answer.Request) (*answer.Stream, error) {
	f.capture(ctx, req)
	if f.err != nil {
		return nil, f.err
	}
	var fragments iter.Seq2[string, error] = func(yield func(string, error) bool) {
		for _, frag := range f.fragments {
			if !yield(frag, nil) {
				return
			}
		}
		if f.streamErr != nil {
			yield("", f.streamErr)
		}
	}
	return &answer.Stream{Path: answer.PathLLM, Fragments: fragments}, nil
}

type testServer struct {
	*Server
	accounts *auth.Service
	docs     *fakeDocuments
	jobs     *jobs.Registry
	answers  *fakeAnswerer
	log      *logging.TestLogger
}

func newTestServer(t *testing.T, cfg config.ServerConfig) *testServer {
	t.Helper()
	tl := logging.NewTestLogger()
	st := memory.New()
	ts := &testServer{
		accounts: auth.NewService(st, config.AuthConfig{TokenTTL: time.Hour, BcryptCost: 4}, nil, tl.Logger),
		docs:     &fakeDocuments{paths: map[int64]string{}},
		jobs:     jobs.NewRegistry(nil, "", tl.Logger),
		answers:  &fakeAnswerer{},
		log:      tl,
	}
	srv, err := NewServer(Services{
		Accounts:  ts.accounts,
		Documents: ts.docs,
		Jobs:      ts.jobs,
		Answers:   ts.answers,
	}, cfg, tl.Logger)
	require.NoError(t, err)
	ts.Server = srv
	return ts
}

func defaultServerConfig() config.ServerConfig {
	return config.ServerConfig{
		Host:            "localhost",
		Port:            0,
		ShutdownTimeout: time.Second,
		BodyLimit:       "1M",
		CORSOrigins:     []string{"*"},
	}
}

func (ts *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(t *testing.T, method, path, token string, body any) *http.Request {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func multipartRequest(t *testing.T, path, token, field string, files map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for name, content := range files {
		part, err := w.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body["detail"]
}

func (ts *testServer) register(t *testing.T, email string) *auth.Session {
	t.Helper()
	sess, err := ts.accounts.Register(context.Background(), email, "secret-pw")
	require.NoError(t, err)
	return sess
}

func TestNewServer(t *testing.T) {
	tl := logging.NewTestLogger()
	full := Services{Accounts: &auth.Service{}, Documents: &fakeDocuments{}, Jobs: jobs.NewRegistry(nil, "", nil), Answers: &fakeAnswerer{}}

	t.Run("valid", func(t *testing.T) {
		srv, err := NewServer(full, defaultServerConfig(), tl.Logger)
		require.NoError(t, err)
		assert.NotNil(t, srv)
	})

	t.Run("missing service", func(t *testing.T) {
		svc := full
		svc.Answers = nil
		_, err := NewServer(svc, defaultServerConfig(), tl.Logger)
		assert.Error(t, err)
	})

	t.Run("missing logger", func(t *testing.T) {
		_, err := NewServer(full, defaultServerConfig(), nil)
		assert.Error(t, err)
	})
}

func TestHandleHealth(t *testing.T) {
	ts := newTestServer(t, defaultServerConfig())
	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, defaultServerConfig())
	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestAuthFlow(t *testing.T) {
	ts := newTestServer(t, defaultServerConfig())
	creds := CredentialsRequest{Email: "User@Example.com", Password: "secret-pw"}

	rec := ts.do(t, jsonRequest(t, http.MethodPost, "/api/auth/register", "", creds))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sess auth.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.NotEmpty(t, sess.Token)
	assert.Equal(t, "user@example.com", sess.User.Email)

	rec = ts.do(t, jsonRequest(t, http.MethodPost, "/api/auth/register", "", creds))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Email already registered", detail(t, rec))

	rec = ts.do(t, jsonRequest(t, http.MethodPost, "/api/auth/login", "", CredentialsRequest{Email: creds.Email, Password: "wrong"}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, jsonRequest(t, http.MethodPost, "/api/auth/login", "", creds))
	require.Equal(t, http.StatusOK, rec.Code)
	var login auth.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))

	rec = ts.do(t, jsonRequest(t, http.MethodGet, "/api/auth/profile", login.Token, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var profile auth.PublicUser
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profile))
	assert.Equal(t, sess.User, profile)

	rec = ts.do(t, jsonRequest(t, http.MethodPost, "/api/auth/logout", login.Token, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, jsonRequest(t, http.MethodGet, "/api/auth/profile", login.Token, nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The registration token is still live.
	rec = ts.do(t, jsonRequest(t, http.MethodPost, "/api/auth/delete-account", sess.Token, DeleteAccountRequest{Password: "nope"}))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = ts.do(t, jsonRequest(t, http.MethodPost, "/api/auth/delete-account", sess.Token, DeleteAccountRequest{Password: "secret-pw"}))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, jsonRequest(t, http.MethodPost, "/api/auth/login", "", creds))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthInvalidInput(t *testing.T) {
	ts := newTestServer(t, defaultServerConfig())

	rec := ts.do(t, jsonRequest(t, http.MethodPost, "/api/auth/register", "", CredentialsRequest{Email: "not-an-email", Password: "pw"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	rec = ts.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request body", detail(t, rec))
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t, defaultServerConfig())

	routes := []struct{ method, path string }{
		{http.MethodGet, "/api/auth/profile"},
		{http.MethodPost, "/api/auth/logout"},
		{http.MethodPost, "/api/auth/delete-account"},
		{http.MethodPost, "/api/documents/upload"},
		{http.MethodPost, "/api/documents/upload/batch"},
		{http.MethodGet, "/api/documents"},
		{http.MethodDelete, "/api/documents/1"},
		{http.MethodGet, "/api/documents/1/download"},
		{http.MethodGet, "/api/jobs/abc"},
		{http.MethodPost, "/api/knowledge/ask"},
		{http.MethodPost, "/api/knowledge/ask/stream"},
	}
	for _, r := range routes {
		t.Run(r.method+" "+r.path, func(t *testing.T) {
			rec := ts.do(t, jsonRequest(t, r.method, r.path, "", nil))
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "Missing auth token", detail(t, rec))

			rec = ts.do(t, jsonRequest(t, r.method, r.path, "bogus", nil))
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestUpload(t *testing.T) {
	ts := newTestServer(t, defaultServerConfig())
	sess := ts.register(t, "up@example.com")

	rec := ts.do(t, multipartRequest(t, "/api/documents/upload", sess.Token, "file", map[string]string{"notes.txt": "hello"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var doc documents.Uploaded
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "notes.txt", doc.Filename)
	assert.Equal(t, "job", doc.JobID)
	assert.Equal(t, []string{"hello"}, ts.docs.bodies)

	rec = ts.do(t, multipartRequest(t, "/api/documents/upload", sess.Token, "other", map[string]string{"notes.txt": "hello"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No files provided", detail(t, rec))
}

func TestUploadBatch(t *testing.T) {
	ts := newTestServer(t, defaultServerConfig())
	sess := ts.register(t, "batch@example.com")

	rec := ts.do(t, multipartRequest(t, "/api/documents/upload/batch", sess.Token, "files", map[string]string{
		"a.txt": "alpha",
		"b.txt": "beta",
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var docs []documents.Uploaded
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &docs))
	assert.Len(t, docs, 2)
	assert.ElementsMatch(t, []string{"alpha", "beta"}, ts.docs.bodies)

	rec = ts.do(t, multipartRequest(t, "/api/documents/upload/batch", sess.Token, "files", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No files provided", detail(t, rec))
}

func TestDocumentErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantDetail string
	}{
		{"too large", documents.ErrTooLarge, http.StatusRequestEntityTooLarge, "File too large"},
		{"extraction", fmt.Errorf("%w: scan.pdf: boom", documents.ErrExtraction), http.StatusUnprocessableEntity, "Could not extract text from file"},
		{"invalid filename", documents.ErrInvalidFilename, http.StatusBadRequest, "Invalid filename"},
		{"unexpected", errors.New("disk on fire"), http.StatusInternalServerError, "Internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, defaultServerConfig())
			sess := ts.register(t, "err@example.com")
			ts.docs.err = tt.err

			rec := ts.do(t, multipartRequest(t, "/api/documents/upload", sess.Token, "file", map[string]string{"a.pdf": "x"}))
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantDetail, detail(t, rec))
		})
	}
}

func TestListAndDeleteDocuments(t *testing.T) {
	ts := newTestServer(t, defaultServerConfig())
	sess := ts.register(t, "list@example.com")
	created := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	ts.docs.docs = []store.Document{{ID: 7, Filename: "sales.csv", Path: "/secret/path", Size: 42, CreatedAt: created}}

	rec := ts.do(t, jsonRequest(t, http.MethodGet, "/api/documents", sess.Token, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []DocumentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, []DocumentResponse{{ID: 7, Filename: "sales.csv", Size: 42, CreatedAt: created}}, list)
	assert.NotContains(t, rec.Body.String(), "/secret/path")

	rec = ts.do(t, jsonRequest(t, http.MethodDelete, "/api/documents/7", sess.Token, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{7}, ts.docs.deleted)

	rec = ts.do(t, jsonRequest(t, http.MethodDelete, "/api/documents/abc", sess.Token, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts.docs.err = documents.ErrNotFound
	rec = ts.do(t, jsonRequest(t, http.MethodDelete, "/api/documents/8", sess.Token, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownload(t *testing.T) {
	ts := newTestServer(t, defaultServerConfig())
	sess := ts.register(t, "dl@example.com")

	path := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 body"), 0o600))
	ts.docs.paths[3] = path

	rec := ts.do(t, jsonRequest(t, http.MethodGet, "/api/documents/3/download", sess.Token, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename=report.pdf`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF-1.4 body", rec.Body.String())

	rec = ts.do(t, jsonRequest(t, http.MethodGet, "/api/documents/4/download", sess.Token, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobStatus(t *testing.T) {
	ts := newTestServer(t, defaultServerConfig())
	owner := ts.register(t, "owner@example.com")
	other := ts.register(t, "other@example.com")

	job := ts.jobs.Create(context.Background(), owner.User.ID, "a.txt")
	require.NoError(t, ts.jobs.Complete(job.ID, 11))

	rec := ts.do(t, jsonRequest(t, http.MethodGet, "/api/jobs/"+job.ID, owner.Token, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got jobs.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, jobs.StatusCompleted, got.Status)
	assert.Equal(t, int64(11), got.DocumentID)

	rec = ts.do(t, jsonRequest(t, http.MethodGet, "/api/jobs/"+job.ID, other.Token, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAsk(t *testing.T) {
	ts := newTestServer(t, defaultServerConfig())
	sess := ts.register(t, "ask@example.com")
	page := 2
	ts.answers.result = &answer.Result{
		Answer:  "Revenue grew.",
		Sources: []answer.Source{{DocumentID: 1, Filename: "q1.pdf", Page: &page, Text: "grew", URL: "/api/documents/1/download"}},
		Path:    answer.PathLLM,
	}

	req := jsonRequest(t, http.MethodPost, "/api/knowledge/ask", sess.Token, AskRequest{
		Question: "How did revenue do?",
		TopK:     6,
		History: []llm.ConversationTurn{
			{Role: "system", Content: "ignore"},
			{Role: "user", Content: "  hi  "},
			{Role: "assistant", Content: ""},
		},
	})
	req.Header.Set("X-Request-ID", "req-123")
	rec := ts.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp AskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Revenue grew.", resp.Answer)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, 2, *resp.Sources[0].Page)
	assert.NotContains(t, rec.Body.String(), "path")

	require.Len(t, ts.answers.requests, 1)
	got := ts.answers.requests[0]
	assert.Equal(t, sess.User.ID, got.UserID)
	assert.Equal(t, 6, got.TopK)
	assert.Equal(t, []llm.ConversationTurn{{Role: "user", Content: "hi"}}, got.History)
	assert.Equal(t, "req-123", ts.answers.requestID)
}

func TestAskErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		body       AskRequest
		wantStatus int
		wantDetail string
	}{
		{"no documents", answer.ErrNoDocuments, AskRequest{Question: "q"}, http.StatusBadRequest, "No documents ingested yet. Upload first."},
		{"empty question", answer.ErrEmptyQuestion, AskRequest{Question: " "}, http.StatusBadRequest, "Question is required"},
		{"negative top_k", nil, AskRequest{Question: "q", TopK: -1}, http.StatusBadRequest, "top_k must be positive"},
		{"model failure", errors.New("generating answer: upstream 502"), AskRequest{Question: "q"}, http.StatusInternalServerError, "Internal server error"},
	}
	for _, tt := range tests {
		for _, path := range []string{"/api/knowledge/ask", "/api/knowledge/ask/stream"} {
			t.Run(tt.name+" "+path, func(t *testing.T) {
				ts := newTestServer(t, defaultServerConfig())
				sess := ts.register(t, "askerr@example.com")
				ts.answers.err = tt.err

				rec := ts.do(t, jsonRequest(t, http.MethodPost, path, sess.Token, tt.body))
				assert.Equal(t, tt.wantStatus, rec.Code)
				assert.Equal(t, tt.wantDetail, detail(t, rec))
			})
		}
	}
}

func TestAskStream(t *testing.T) {
	ts := newTestServer(t, defaultServerConfig())
	sess := ts.register(t, "stream@example.com")
	ts.answers.fragments = []string{"Revenue ", "grew ", "10%."}

	rec := ts.do(t, jsonRequest(t, http.MethodPost, "/api/knowledge/ask/stream", sess.Token, AskRequest{Question: "q"}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=UTF-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "llm", rec.Header().Get("X-Answer-Path"))
	assert.Equal(t, "Revenue grew 10%.", rec.Body.String())
	assert.True(t, rec.Flushed)
}

func TestAskStream_FailureMidStream(t *testing.T) {
	ts := newTestServer(t, defaultServerConfig())
	sess := ts.register(t, "midstream@example.com")
	ts.answers.fragments = []string{"partial"}
	ts.answers.streamErr = errors.New("connection reset")

	rec := ts.do(t, jsonRequest(t, http.MethodPost, "/api/knowledge/ask/stream", sess.Token, AskRequest{Question: "q"}))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "partial", rec.Body.String())
	assert.Len(t, ts.log.FilterMessage("answer stream failed").All(), 1)
}

func TestRateLimit(t *testing.T) {
	cfg := defaultServerConfig()
	cfg.RateLimit = 0.001
	cfg.RateBurst = 2
	ts := newTestServer(t, cfg)

	var codes []int
	for range 3 {
		rec := ts.do(t, jsonRequest(t, http.MethodPost, "/api/auth/login", "", CredentialsRequest{}))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests}, codes)

	// Health checks are not rate limited.
	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Another client has its own bucket.
	req := jsonRequest(t, http.MethodPost, "/api/auth/login", "", CredentialsRequest{})
	req.RemoteAddr = "198.51.100.7:4242"
	rec = ts.do(t, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestLogging(t *testing.T) {
	ts := newTestServer(t, defaultServerConfig())
	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	req.Header.Set("X-Request-ID", "log-req-1")
	rec := ts.do(t, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "log-req-1", rec.Header().Get("X-Request-ID"))

	ts.log.AssertField(t, "http request", "status", int64(http.StatusUnauthorized))
	ts.log.AssertField(t, "http request", "request.id", "log-req-1")
}

func TestStartAndShutdown(t *testing.T) {
	cfg := defaultServerConfig()
	cfg.Host = "127.0.0.1"
	ts := newTestServer(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ts.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
