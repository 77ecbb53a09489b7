package publish

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGitHubPublisherWithoutToken(t *testing.T) {
	assert.Nil(t, NewGitHubPublisher("", "someone"))
}

func TestRepoNameForJob(t *testing.T) {
	assert.Equal(t, "app-forge-2f1e9a3b", repoNameForJob("2f1e9a3b-0c44-4d1a-9e11-aaaaaaaaaaaa"))
	assert.Equal(t, "app-forge-abc", repoNameForJob("abc"))
}

func TestRepoDescription(t *testing.T) {
	assert.Equal(t, "build a todo app", repoDescription("build   a\ntodo  app"))
	long := strings.Repeat("x ", 200)
	assert.LessOrEqual(t, utf8.RuneCountInString(repoDescription(long)), 120)

	// 日本語プロンプトでも文字の途中で切れないこと
	jp := repoDescription(strings.Repeat("家計簿アプリ", 50))
	assert.True(t, utf8.ValidString(jp))
	assert.Equal(t, 120, utf8.RuneCountInString(jp))
}

func TestCreateRepo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/user/repos", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var req createRepoRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "app-forge-job1", req.Name)
		assert.False(t, req.Private)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(repoInfo{
			FullName: "someone/app-forge-job1",
			HTMLURL:  "https://github.com/someone/app-forge-job1",
			CloneURL: "https://github.com/someone/app-forge-job1.git",
		})
	}))
	defer srv.Close()

	p := NewGitHubPublisher("tok", "someone")
	p.apiBase = srv.URL

	info, err := p.createRepo(context.Background(), "app-forge-job1", "build a todo app")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/someone/app-forge-job1", info.HTMLURL)
}

func TestCreateRepoFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"name already exists"}`))
	}))
	defer srv.Close()

	p := NewGitHubPublisher("tok", "someone")
	p.apiBase = srv.URL

	_, err := p.createRepo(context.Background(), "app-forge-job1", "build a todo app")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}
