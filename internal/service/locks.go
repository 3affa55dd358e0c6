package service

import "sync"

// ChatLocks 提供按 chat 粒度的互斥：同一个 chat 上的成员变更和消息写入
// 彼此串行，不同 chat 互不影响。
type ChatLocks struct {
	mu sync.Mutex
	m  map[uint]*sync.Mutex
}

func NewChatLocks() *ChatLocks {
	return &ChatLocks{m: make(map[uint]*sync.Mutex)}
}

// Lock 锁住指定 chat，返回解锁函数。
func (l *ChatLocks) Lock(chatID uint) func() {
	l.mu.Lock()
	cl, ok := l.m[chatID]
	if !ok {
		cl = &sync.Mutex{}
		l.m[chatID] = cl
	}
	l.mu.Unlock()
	cl.Lock()
	return cl.Unlock
}
