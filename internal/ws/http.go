package ws

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/yourusername/app-forge/internal/jobs"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORSはHTTP層のミドルウェアで制御するため、ここでは握りつぶす
	CheckOrigin: func(r *http.Request) bool { return true },
}

// JobStatusHandler は /ws/status/:job_id のWebSocketハンドラーを返します。
// 接続直後にストアから取得した現在状態を1件送り、以降はライブイベントを配信します。
func JobStatusHandler(store jobs.Store, hub *Hub, logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := strings.TrimSpace(c.Param("job_id"))
		if jobID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "job_id を指定してください。",
			})
			return
		}

		job, err := store.Get(c.Request.Context(), jobID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブ情報の取得に失敗しました。",
			})
			return
		}
		if job == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "JOB_NOT_FOUND",
				"message": "指定されたジョブは存在しません。",
			})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Printf("websocket upgrade failed job=%s: %v", jobID, err)
			return
		}

		// 購読開始前の取りこぼし対策として、最新スナップショットを合成イベントで送る
		initial := Message{Type: "status_update", Data: EventFromJob(job)}
		if err := conn.WriteJSON(initial); err != nil {
			_ = conn.Close()
			return
		}

		hub.Subscribe(jobID, conn)
		defer func() {
			hub.Unsubscribe(jobID, conn)
			_ = conn.Close()
		}()

		// 切断検知のための読み取りループ。クライアントからの入力は使わない。
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}

// JobListHandler は /ws/jobs のWebSocketハンドラーを返します。
// ジョブの作成・更新の通知を全ジョブ横断で配信します。
func JobListHandler(hub *Hub, logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Printf("websocket upgrade failed for job list: %v", err)
			return
		}

		hub.Subscribe(TopicJobList, conn)
		defer func() {
			hub.Unsubscribe(TopicJobList, conn)
			_ = conn.Close()
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}
