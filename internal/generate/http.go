package generate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/app-forge/internal/agents"
	"github.com/yourusername/app-forge/internal/auth"
	"github.com/yourusername/app-forge/internal/jobs"
)

const (
	promptMinLen = 10
	promptMaxLen = 2000

	maxAttachments = 5

	listDefaultLimit = 50
	listMaxLimit     = 200
)

// Scheduler はジョブの受付口です。*Manager が満たします。
type Scheduler interface {
	Schedule(ctx context.Context, ownerID string, req Request) (*jobs.Job, error)
}

// ArtifactOpener はパッケージ済み成果物の読み出し口です。
type ArtifactOpener interface {
	OpenArtifact(jobID string) (io.ReadSeekCloser, os.FileInfo, error)
}

// Handler は生成ジョブのHTTP APIを提供します。
type Handler struct {
	scheduler Scheduler
	store     jobs.Store
	artifacts ArtifactOpener
	logger    *log.Logger

	// リクエストで省略された場合に使う既定値
	defaultThreshold  int
	defaultIterations int
}

// NewHandler は Handler を作成します。defaultThreshold と defaultIterations は
// リクエストで省略された場合の既定値です（0以下なら組み込みの既定値）。
func NewHandler(scheduler Scheduler, store jobs.Store, artifacts ArtifactOpener, defaultThreshold, defaultIterations int, logger *log.Logger) *Handler {
	if defaultThreshold <= 0 {
		defaultThreshold = DefaultReviewThreshold
	}
	if defaultIterations < 1 {
		defaultIterations = DefaultMaxIterations
	}
	return &Handler{
		scheduler:         scheduler,
		store:             store,
		artifacts:         artifacts,
		logger:            logger,
		defaultThreshold:  defaultThreshold,
		defaultIterations: defaultIterations,
	}
}

// generateRequest は POST /api/generate のリクエストボディです。
type generateRequest struct {
	Prompt          string              `json:"prompt"`
	Attachments     []agents.Attachment `json:"attachments"`
	ReviewThreshold *int                `json:"review_threshold"`
	MaxIterations   *int                `json:"max_iterations"`
}

// Generate は新規生成ジョブを受け付けます。
func (h *Handler) Generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_REQUEST",
			"message": "リクエストボディの形式が正しくありません。",
		})
		return
	}

	prompt := strings.TrimSpace(req.Prompt)
	if n := utf8.RuneCountInString(prompt); n < promptMinLen || n > promptMaxLen {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_PROMPT",
			"message": fmt.Sprintf("プロンプトは%d文字以上%d文字以下で入力してください。", promptMinLen, promptMaxLen),
		})
		return
	}

	threshold := h.defaultThreshold
	if req.ReviewThreshold != nil {
		threshold = *req.ReviewThreshold
		if threshold < 0 || threshold > 100 {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_THRESHOLD",
				"message": "review_threshold は0以上100以下で指定してください。",
			})
			return
		}
	}

	maxIterations := h.defaultIterations
	if req.MaxIterations != nil {
		maxIterations = *req.MaxIterations
		if maxIterations < 1 || maxIterations > 10 {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_MAX_ITERATIONS",
				"message": "max_iterations は1以上10以下で指定してください。",
			})
			return
		}
	}

	if len(req.Attachments) > maxAttachments {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "TOO_MANY_ATTACHMENTS",
			"message": fmt.Sprintf("添付ファイルは%d件までです。", maxAttachments),
		})
		return
	}
	attachments := make([]agents.Attachment, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		normalized, err := agents.NormalizeAttachment(a)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_ATTACHMENT",
				"message": "添付ファイルの内容が正しくありません。",
			})
			return
		}
		attachments = append(attachments, normalized)
	}

	job, err := h.scheduler.Schedule(c.Request.Context(), auth.UserID(c), Request{
		Prompt:          prompt,
		Attachments:     attachments,
		ReviewThreshold: threshold,
		MaxIterations:   maxIterations,
	})
	if err != nil {
		h.logger.Printf("failed to schedule job: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SCHEDULE_FAILED",
			"message": "ジョブの受付に失敗しました。",
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID})
}

// Status は単一ジョブの現在スナップショットを返します。
func (h *Handler) Status(c *gin.Context) {
	jobID := c.Param("job_id")
	job, err := h.store.Get(c.Request.Context(), jobID)
	if err != nil {
		h.logger.Printf("failed to get job %s: %v", jobID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "ジョブの取得に失敗しました。",
		})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "JOB_NOT_FOUND",
			"message": "指定されたジョブが見つかりません。",
		})
		return
	}

	c.JSON(http.StatusOK, job)
}

// List はジョブ一覧を新しい順に返します。
func (h *Handler) List(c *gin.Context) {
	limit := listDefaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > listMaxLimit {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_LIMIT",
				"message": fmt.Sprintf("limit は1以上%d以下で指定してください。", listMaxLimit),
			})
			return
		}
		limit = n
	}

	offset := 0
	if raw := c.Query("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_OFFSET",
				"message": "offset は0以上で指定してください。",
			})
			return
		}
		offset = n
	}

	filter := jobs.Filter{
		OwnerID: auth.UserID(c),
		Search:  strings.TrimSpace(c.Query("search")),
	}
	if raw := c.Query("status"); raw != "" {
		status := jobs.Status(raw)
		switch status {
		case jobs.StatusPending, jobs.StatusInProgress, jobs.StatusComplete, jobs.StatusFailed:
			filter.Status = status
		default:
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_STATUS",
				"message": "status の値が正しくありません。",
			})
			return
		}
	}

	list, err := h.store.List(c.Request.Context(), filter, limit, offset)
	if err != nil {
		h.logger.Printf("failed to list jobs: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "ジョブ一覧の取得に失敗しました。",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": list, "count": len(list)})
}

// Download はパッケージ済みのZIPアーカイブを返します。
func (h *Handler) Download(c *gin.Context) {
	jobID := c.Param("job_id")
	job, err := h.store.Get(c.Request.Context(), jobID)
	if err != nil {
		h.logger.Printf("failed to get job %s: %v", jobID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "ジョブの取得に失敗しました。",
		})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "JOB_NOT_FOUND",
			"message": "指定されたジョブが見つかりません。",
		})
		return
	}
	if job.DownloadURL == "" {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "ARTIFACT_NOT_READY",
			"message": "このジョブの成果物はまだ準備できていません。",
		})
		return
	}

	f, info, err := h.artifacts.OpenArtifact(jobID)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "ARTIFACT_NOT_FOUND",
				"message": "成果物ファイルが見つかりません。",
			})
			return
		}
		h.logger.Printf("failed to open artifact for job %s: %v", jobID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "成果物の読み出しに失敗しました。",
		})
		return
	}
	defer f.Close()

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.zip"`, jobID))
	c.Header("Content-Type", "application/zip")
	c.Header("Content-Length", strconv.FormatInt(info.Size(), 10))
	if _, err := io.Copy(c.Writer, f); err != nil {
		h.logger.Printf("failed to stream artifact for job %s: %v", jobID, err)
	}
}
