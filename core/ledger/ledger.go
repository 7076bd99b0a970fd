package ledger

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity 默认保留最近 1000 次上传
const DefaultCapacity = 1000

// Status 上传结果
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Attempt 一次上传尝试。只存在于进程内存中
type Attempt struct {
	ID           string    `json:"id"`
	Filename     string    `json:"filename"`
	Timestamp    time.Time `json:"timestamp"`
	Status       Status    `json:"status"`
	ErrorType    string    `json:"errorType,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	FileSize     *int64    `json:"fileSize,omitempty"`
	Duration     *int      `json:"duration,omitempty"`
}

// ErrorCount 错误分类统计
type ErrorCount struct {
	ErrorType  string `json:"errorType"`
	Count      int    `json:"count"`
	Percentage int    `json:"percentage"`
}

// Stats 聚合统计
type Stats struct {
	Total          int          `json:"totalUploads"`
	Success        int          `json:"successfulUploads"`
	Failed         int          `json:"failedUploads"`
	SuccessRate    int          `json:"successRate"`
	ErrorBreakdown []ErrorCount `json:"errorBreakdown"`
}

// Listener 每次记录后回调，不能阻塞
type Listener func(Attempt)

// Ledger 有界环形缓冲，满了以后淘汰最旧的记录
type Ledger struct {
	mu        sync.RWMutex
	buf       []Attempt
	start     int // 最旧元素位置
	size      int
	listeners []Listener
	now       func() time.Time
}

// New 创建账本，capacity<=0 时使用默认容量
func New(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ledger{
		buf: make([]Attempt, capacity),
		now: time.Now,
	}
}

// Capacity 最大保留条数
func (l *Ledger) Capacity() int {
	return len(l.buf)
}

// Len 当前条数
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Subscribe 注册监听器
func (l *Ledger) Subscribe(fn Listener) {
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

// Record 追加一条记录，生成 ID 和时间戳后返回
func (l *Ledger) Record(a Attempt) Attempt {
	a.ID = uuid.NewString()
	a.Timestamp = l.now()

	l.mu.Lock()
	capacity := len(l.buf)
	if l.size < capacity {
		l.buf[(l.start+l.size)%capacity] = a
		l.size++
	} else {
		l.buf[l.start] = a
		l.start = (l.start + 1) % capacity
	}
	listeners := l.listeners
	l.mu.Unlock()

	for _, fn := range listeners {
		fn(a)
	}
	return a
}

// Snapshot 最近 limit 条，按时间正序；limit<=0 返回全部
func (l *Ledger) Snapshot(limit int) []Attempt {
	return l.collect(limit, nil)
}

// Failures 最近 limit 条失败记录，按时间正序
func (l *Ledger) Failures(limit int) []Attempt {
	return l.collect(limit, func(a *Attempt) bool { return a.Status == StatusFailed })
}

func (l *Ledger) collect(limit int, keep func(*Attempt) bool) []Attempt {
	l.mu.RLock()
	defer l.mu.RUnlock()

	capacity := len(l.buf)
	out := make([]Attempt, 0)
	// 从最新往回找
	for i := l.size - 1; i >= 0; i-- {
		a := &l.buf[(l.start+i)%capacity]
		if keep != nil && !keep(a) {
			continue
		}
		out = append(out, *a)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Stats 计算成功率与错误分布，分布百分比以失败总数为分母
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var s Stats
	counts := make(map[string]int)
	capacity := len(l.buf)
	for i := 0; i < l.size; i++ {
		a := &l.buf[(l.start+i)%capacity]
		s.Total++
		if a.Status == StatusSuccess {
			s.Success++
			continue
		}
		s.Failed++
		errType := a.ErrorType
		if errType == "" {
			errType = "unknown"
		}
		counts[errType]++
	}

	if s.Total > 0 {
		s.SuccessRate = roundPercent(s.Success, s.Total)
	}

	s.ErrorBreakdown = make([]ErrorCount, 0, len(counts))
	for errType, n := range counts {
		s.ErrorBreakdown = append(s.ErrorBreakdown, ErrorCount{
			ErrorType:  errType,
			Count:      n,
			Percentage: roundPercent(n, s.Failed),
		})
	}
	sort.Slice(s.ErrorBreakdown, func(i, j int) bool {
		a, b := s.ErrorBreakdown[i], s.ErrorBreakdown[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.ErrorType < b.ErrorType
	})
	return s
}

func roundPercent(part, whole int) int {
	if whole == 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(whole) * 100))
}
