package generate

import (
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/app-forge/internal/jobs"
)

type stubScheduler struct {
	lastOwner string
	lastReq   Request
	err       error
}

func (s *stubScheduler) Schedule(_ context.Context, ownerID string, req Request) (*jobs.Job, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.lastOwner = ownerID
	s.lastReq = req
	return &jobs.Job{ID: "job-1", Prompt: req.Prompt, Status: jobs.StatusPending, Step: jobs.StepInitializing}, nil
}

func newHandlerFixture(t *testing.T) (*Handler, *stubScheduler, jobs.Store, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	scheduler := &stubScheduler{}
	store := jobs.NewMemoryStore()
	h := NewHandler(scheduler, store, nil, 0, 0, log.New(os.Stderr, "", 0))

	r := gin.New()
	r.POST("/api/generate", h.Generate)
	r.GET("/api/status/:job_id", h.Status)
	r.GET("/api/jobs", h.List)
	return h, scheduler, store, r
}

func postJSON(r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestGenerateAcceptsValidRequest(t *testing.T) {
	_, scheduler, _, r := newHandlerFixture(t)

	w := postJSON(r, "/api/generate", `{"prompt":"build a simple todo app with persistence"}`)

	require.Equal(t, http.StatusAccepted, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "job-1", resp["job_id"])

	assert.Equal(t, DefaultReviewThreshold, scheduler.lastReq.ReviewThreshold)
	assert.Equal(t, DefaultMaxIterations, scheduler.lastReq.MaxIterations)
}

func TestGenerateRejectsShortPrompt(t *testing.T) {
	_, _, _, r := newHandlerFixture(t)

	w := postJSON(r, "/api/generate", `{"prompt":"too short"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_PROMPT")
}

func TestGenerateRejectsOutOfRangeThreshold(t *testing.T) {
	_, _, _, r := newHandlerFixture(t)

	w := postJSON(r, "/api/generate", `{"prompt":"build a simple todo app","review_threshold":150}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_THRESHOLD")
}

func TestGenerateNormalizesAttachments(t *testing.T) {
	_, scheduler, _, r := newHandlerFixture(t)

	w := postJSON(r, "/api/generate", `{"prompt":"build a simple todo app","attachments":[{"content":"some notes"}]}`)

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, scheduler.lastReq.Attachments, 1)
	assert.Equal(t, "attachment", scheduler.lastReq.Attachments[0].Name)
	assert.NotEmpty(t, scheduler.lastReq.Attachments[0].Type)
}

func TestGenerateRejectsEmptyAttachment(t *testing.T) {
	_, _, _, r := newHandlerFixture(t)

	w := postJSON(r, "/api/generate", `{"prompt":"build a simple todo app","attachments":[{"name":"x"}]}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_ATTACHMENT")
}

func TestStatusReturnsJobSnapshot(t *testing.T) {
	_, _, store, r := newHandlerFixture(t)
	now := time.Now()
	require.NoError(t, store.Create(context.Background(), &jobs.Job{
		ID: "job-9", Prompt: "x", Status: jobs.StatusInProgress, Step: jobs.StepCoding,
		CreatedAt: now, UpdatedAt: now,
	}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status/job-9", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"in_progress"`)
	assert.Contains(t, w.Body.String(), `"step":"coding"`)
}

func TestStatusNotFound(t *testing.T) {
	_, _, _, r := newHandlerFixture(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status/missing", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "JOB_NOT_FOUND")
}

func TestListFiltersByStatus(t *testing.T) {
	_, _, store, r := newHandlerFixture(t)
	base := time.Now()
	for i, st := range []jobs.Status{jobs.StatusComplete, jobs.StatusFailed, jobs.StatusComplete} {
		require.NoError(t, store.Create(context.Background(), &jobs.Job{
			ID: string(rune('a'+i)), Prompt: "p", Status: st, Step: jobs.StepComplete,
			CreatedAt: base.Add(time.Duration(i) * time.Second), UpdatedAt: base,
		}))
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/jobs?status=complete", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Jobs  []jobs.Job `json:"jobs"`
		Count int        `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	for _, j := range resp.Jobs {
		assert.Equal(t, jobs.StatusComplete, j.Status)
	}
}

func TestListRejectsInvalidStatus(t *testing.T) {
	_, _, _, r := newHandlerFixture(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/jobs?status=bogus", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_STATUS")
}

type memArtifact struct {
	*strings.Reader
}

func (memArtifact) Close() error { return nil }

type memArtifactInfo struct {
	os.FileInfo
	size int64
}

func (i memArtifactInfo) Size() int64 { return i.size }

type stubOpener struct {
	data string
}

func (o *stubOpener) OpenArtifact(jobID string) (io.ReadSeekCloser, os.FileInfo, error) {
	if o.data == "" {
		return nil, nil, fs.ErrNotExist
	}
	return memArtifact{strings.NewReader(o.data)}, memArtifactInfo{size: int64(len(o.data))}, nil
}

func TestDownloadStreamsArtifact(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := jobs.NewMemoryStore()
	now := time.Now()
	require.NoError(t, store.Create(context.Background(), &jobs.Job{
		ID: "job-1", Prompt: "x", Status: jobs.StatusComplete, Step: jobs.StepComplete,
		DownloadURL: "/api/jobs/job-1/download",
		CreatedAt:   now, UpdatedAt: now,
	}))
	h := NewHandler(&stubScheduler{}, store, &stubOpener{data: "zipbytes"}, 0, 0, log.New(os.Stderr, "", 0))
	r := gin.New()
	r.GET("/api/jobs/:job_id/download", h.Download)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/jobs/job-1/download", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "job-1.zip")
	assert.Equal(t, "zipbytes", w.Body.String())
}

func TestDownloadNotReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := jobs.NewMemoryStore()
	now := time.Now()
	require.NoError(t, store.Create(context.Background(), &jobs.Job{
		ID: "job-1", Prompt: "x", Status: jobs.StatusInProgress, Step: jobs.StepCoding,
		CreatedAt: now, UpdatedAt: now,
	}))
	h := NewHandler(&stubScheduler{}, store, &stubOpener{}, 0, 0, log.New(os.Stderr, "", 0))
	r := gin.New()
	r.GET("/api/jobs/:job_id/download", h.Download)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/jobs/job-1/download", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "ARTIFACT_NOT_READY")
}

func TestListRejectsInvalidLimit(t *testing.T) {
	_, _, _, r := newHandlerFixture(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/jobs?limit=0", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_LIMIT")
}
