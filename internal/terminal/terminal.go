package terminal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// RawRecord 终端返回的原始记录，字段未经校验
type RawRecord map[string]interface{}

// Terminal 远程交易终端接口，只读
type Terminal interface {
	// Name 终端名称
	Name() string

	// FetchAccount 获取账户状态
	FetchAccount(ctx context.Context, login int64) (RawRecord, error)

	// FetchDeals 获取 since 之后的成交
	FetchDeals(ctx context.Context, login int64, since time.Time) ([]RawRecord, error)
}

// TransientFetchError 可重试的拉取错误（超时、连接失败、服务端5xx）
type TransientFetchError struct {
	Op  string
	Err error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("%s: 临时错误: %v", e.Op, e.Err)
}

func (e *TransientFetchError) Unwrap() error {
	return e.Err
}

// Transient 包装为可重试错误
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientFetchError{Op: op, Err: err}
}

// IsTransient 判断错误是否可重试
func IsTransient(err error) bool {
	var te *TransientFetchError
	return errors.As(err, &te)
}

// Registry 终端注册表，按桥接ID索引
type Registry struct {
	mu        sync.RWMutex
	terminals map[string]Terminal
}

// NewRegistry 创建终端注册表
func NewRegistry() *Registry {
	return &Registry{
		terminals: make(map[string]Terminal),
	}
}

// Register 注册终端实例
func (r *Registry) Register(bridgeID string, t Terminal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminals[bridgeID] = t
}

// Get 根据桥接ID获取终端
func (r *Registry) Get(bridgeID string) (Terminal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, exists := r.terminals[bridgeID]
	return t, exists
}

// IDs 返回已注册的桥接ID，已排序
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.terminals))
	for id := range r.terminals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
