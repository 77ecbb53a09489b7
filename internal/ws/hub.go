// Package ws はジョブ状態変化のリアルタイム配信機能を提供します。
package ws

import (
	"sync"

	"github.com/yourusername/app-forge/internal/jobs"
)

// TopicJobList はジョブ一覧購読用の予約トピックです。
// それ以外のトピックはジョブIDそのものです。
const TopicJobList = "job_list"

// Conn は購読側コネクションの最小インターフェースです。
// *websocket.Conn が満たすほか、テストではスタブを使用します。
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Event はジョブ状態変化1件分の配信ペイロードです。
// 差分ではなく、可変フィールドすべての現在スナップショットを運びます。
type Event struct {
	JobID           string `json:"job_id"`
	Status          string `json:"status"`
	Step            string `json:"step"`
	DownloadURL     string `json:"download_url,omitempty"`
	ExternalRepoURL string `json:"external_repo_url,omitempty"`
	DeploymentURL   string `json:"deployment_url,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Message は配信メッセージの外側の形です。
type Message struct {
	Type string `json:"type"` // status_update / job_created
	Data Event  `json:"data"`
}

// EventFromJob はジョブスナップショットから配信イベントを組み立てます。
func EventFromJob(job *jobs.Job) Event {
	return Event{
		JobID:           job.ID,
		Status:          string(job.Status),
		Step:            string(job.Step),
		DownloadURL:     job.DownloadURL,
		ExternalRepoURL: job.ExternalRepoURL,
		DeploymentURL:   job.DeploymentURL,
		Error:           job.Error,
	}
}

// Hub はトピックごとの購読者リストを保持し、イベントを配信します。
// 配信の永続化は行わず、購読前のイベントは届きません。
//
// WebSocketコネクションへの書き込みは同時に1つしか許されないため、
// コネクションごとの書き込みミューテックスで直列化します。複数トピックに
// 同一コネクションが登録されても、ミューテックスはコネクション単位で1つです。
type Hub struct {
	mu      sync.Mutex
	topics  map[string]map[Conn]struct{}
	writeMu map[Conn]*sync.Mutex
}

// NewHub は Hub を作成します。
func NewHub() *Hub {
	return &Hub{
		topics:  make(map[string]map[Conn]struct{}),
		writeMu: make(map[Conn]*sync.Mutex),
	}
}

// Subscribe はコネクションをトピックに登録します。
func (h *Hub) Subscribe(topic string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[Conn]struct{})
		h.topics[topic] = subs
	}
	subs[conn] = struct{}{}

	if _, ok := h.writeMu[conn]; !ok {
		h.writeMu[conn] = &sync.Mutex{}
	}
}

// Unsubscribe はコネクションをトピックから外します。
func (h *Hub) Unsubscribe(topic string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(topic, conn)
}

// Publish はトピックの全購読者にメッセージを送ります。
// 送信は購読者ごとに独立しており、失敗したコネクションだけが取り除かれます。
// 同一コネクションへの書き込みは per-conn ミューテックスで直列化されます。
func (h *Hub) Publish(topic string, msg Message) {
	type target struct {
		conn Conn
		mu   *sync.Mutex
	}

	h.mu.Lock()
	subs := h.topics[topic]
	targets := make([]target, 0, len(subs))
	for conn := range subs {
		targets = append(targets, target{conn: conn, mu: h.writeMu[conn]})
	}
	h.mu.Unlock()

	for _, t := range targets {
		t.mu.Lock()
		err := t.conn.WriteJSON(msg)
		t.mu.Unlock()
		if err != nil {
			h.mu.Lock()
			h.remove(topic, t.conn)
			h.mu.Unlock()
			_ = t.conn.Close()
		}
	}
}

// Subscribers はトピックの現在の購読者数を返します。
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}

// remove は h.mu を保持した状態で呼び出します。
func (h *Hub) remove(topic string, conn Conn) {
	subs, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(subs, conn)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}

	// どのトピックにも属さなくなったコネクションの書き込みロックを回収する
	for _, others := range h.topics {
		if _, ok := others[conn]; ok {
			return
		}
	}
	delete(h.writeMu, conn)
}
