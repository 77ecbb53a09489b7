// Package publish は生成されたアプリをGitHubリポジトリとして公開します。
// 公開はベストエフォートであり、失敗してもジョブは成功のまま進みます。
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/yourusername/app-forge/internal/agents"
)

// ErrNotConfigured はGitHubトークンが設定されていない場合に返されます。
var ErrNotConfigured = errors.New("github publishing is not configured")

const (
	githubAPIBase  = "https://api.github.com"
	requestTimeout = 30 * time.Second
)

// GitHubPublisher はGitHub REST APIでリポジトリを作成し、
// go-git のインメモリワークツリーから成果物をプッシュします。
type GitHubPublisher struct {
	token      string
	username   string
	apiBase    string
	httpClient *http.Client
}

// NewGitHubPublisher は GitHubPublisher を作成します。
// token が空の場合は nil を返し、公開フェーズはスキップされます。
func NewGitHubPublisher(token, username string) *GitHubPublisher {
	if token == "" {
		return nil
	}
	return &GitHubPublisher{
		token:      token,
		username:   username,
		apiBase:    githubAPIBase,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// Result は公開されたリポジトリの情報です。
type Result struct {
	RepoURL       string
	DeploymentURL string
}

// Publish はジョブの成果物を新規リポジトリにプッシュします。
// リポジトリ名は app-forge-<jobIDの先頭8文字> です。
func (p *GitHubPublisher) Publish(ctx context.Context, jobID, prompt string, files agents.FileSet) (*Result, error) {
	if p == nil || p.token == "" {
		return nil, ErrNotConfigured
	}

	repoName := repoNameForJob(jobID)
	repo, err := p.createRepo(ctx, repoName, prompt)
	if err != nil {
		return nil, err
	}

	if err := p.pushFiles(ctx, repo.CloneURL, files); err != nil {
		return nil, fmt.Errorf("failed to push files to %s: %w", repo.FullName, err)
	}

	return &Result{RepoURL: repo.HTMLURL}, nil
}

type createRepoRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Private     bool   `json:"private"`
	AutoInit    bool   `json:"auto_init"`
}

type repoInfo struct {
	FullName string `json:"full_name"`
	HTMLURL  string `json:"html_url"`
	CloneURL string `json:"clone_url"`
}

func (p *GitHubPublisher) createRepo(ctx context.Context, name, prompt string) (*repoInfo, error) {
	payload, err := json.Marshal(createRepoRequest{
		Name:        name,
		Description: repoDescription(prompt),
		Private:     false,
		AutoInit:    false,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/user/repos", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to create repository: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("github repo creation returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var info repoInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode repo response: %w", err)
	}
	return &info, nil
}

func (p *GitHubPublisher) pushFiles(ctx context.Context, cloneURL string, files agents.FileSet) error {
	fs := memfs.New()
	repo, err := git.Init(memory.NewStorage(), fs)
	if err != nil {
		return err
	}

	wt, err := repo.Worktree()
	if err != nil {
		return err
	}

	for _, path := range files.Paths() {
		if dir := filepath.Dir(path); dir != "." {
			if err := fs.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		f, err := fs.Create(path)
		if err != nil {
			return err
		}
		if _, err := f.Write([]byte(files[path])); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		if _, err := wt.Add(path); err != nil {
			return err
		}
	}

	_, err = wt.Commit("Initial commit", &git.CommitOptions{
		Author: &object.Signature{
			Name:  "app-forge",
			Email: "app-forge@users.noreply.github.com",
			When:  time.Now(),
		},
	})
	if err != nil {
		return err
	}

	if _, err := repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{cloneURL},
	}); err != nil {
		return err
	}

	return repo.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		Auth: &githttp.BasicAuth{
			Username: p.username,
			Password: p.token,
		},
	})
}

func repoNameForJob(jobID string) string {
	id := strings.ReplaceAll(jobID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return "app-forge-" + id
}

func repoDescription(prompt string) string {
	const max = 120
	desc := strings.Join(strings.Fields(prompt), " ")
	// rune 境界で切り詰め、日本語プロンプトでも文字を壊さない
	if runes := []rune(desc); len(runes) > max {
		desc = string(runes[:max])
	}
	return desc
}
