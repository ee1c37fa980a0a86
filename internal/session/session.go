package session

import (
	"sync"
	"time"
)

const (
	maxDebugLines   = 20 // 调试日志环形上限
	maxGalleryLocal = 10 // 会话内最近作品上限
	staleSessionTTL = 24 * time.Hour
)

// GalleryEntry 会话内最近一次生成的摘要
type GalleryEntry struct {
	Filename   string `json:"filename"`
	TemplateID string `json:"template_id"`
	Prompt     string `json:"prompt"`
	CreatedAt  int64  `json:"created_at"`
}

// State 单个会话的易失状态，随进程重启清空
type State struct {
	mu       sync.Mutex
	debug    []string
	gallery  []GalleryEntry
	lastSeen time.Time
}

// Registry 按会话 ID 管理 State
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*State
}

var GlobalRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*State)}
}

// Get 返回指定会话的状态，不存在则创建
func (r *Registry) Get(sessionID string) *State {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		s = &State{}
		r.sessions[sessionID] = s
	}
	s.lastSeen = time.Now()
	return s
}

// Sweep 清理超过 TTL 未活跃的会话，返回清理数量
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-staleSessionTTL)
	removed := 0
	for id, s := range r.sessions {
		if s.lastSeen.Before(cutoff) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

// AppendDebug 追加一行调试日志，只保留最近 20 条
func (s *State) AppendDebug(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.debug = append(s.debug, line)
	if len(s.debug) > maxDebugLines {
		s.debug = s.debug[len(s.debug)-maxDebugLines:]
	}
}

// AppendGallery 记录一次成功生成，只保留最近 10 条
func (s *State) AppendGallery(entry GalleryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gallery = append(s.gallery, entry)
	if len(s.gallery) > maxGalleryLocal {
		s.gallery = s.gallery[len(s.gallery)-maxGalleryLocal:]
	}
}

// Snapshot 返回调试日志与最近作品的拷贝
func (s *State) Snapshot() ([]string, []GalleryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	debug := make([]string, len(s.debug))
	copy(debug, s.debug)
	gallery := make([]GalleryEntry, len(s.gallery))
	copy(gallery, s.gallery)
	return debug, gallery
}
