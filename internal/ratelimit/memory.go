package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

// defaultShardCount は MemoryStore の既定シャード数。
const defaultShardCount = 32

// MemoryStore はプロセス内のマップでウィンドウを保持する Store 実装。
//
// キーはハッシュでシャードに振り分けられ、シャードごとのミューテックスで
// 更新を直列化する。一定時間アクセスのないキーは Hit の際にシャード単位で
// 遅延削除されるほか、StartJanitor で定期的に削除することもできる。
type MemoryStore struct {
	shards []*memoryShard
	// retention はアクセスのないキーを保持し続ける時間。0の場合はウィンドウの2倍。
	retention time.Duration
	// lastWindow は直近の Hit で指定されたウィンドウ長（ナノ秒）。
	lastWindow atomic.Int64
	now        func() time.Time
}

// memoryShard はキー集合の一部を保持するシャード。
type memoryShard struct {
	mu        sync.Mutex
	entries   map[string]*memoryEntry
	lastSweep time.Time
}

// memoryEntry はクライアントキー1件分の状態。
// count と start は同じレコードで更新し、ウィンドウ切り替え時には必ず count を戻す。
type memoryEntry struct {
	count    int64
	start    time.Time
	lastSeen time.Time
}

// MemoryOption は MemoryStore の設定を変更する。
type MemoryOption func(*MemoryStore)

// WithRetention はアクセスのないキーの保持時間を設定する。
// ウィンドウ長より短い値を指定した場合はウィンドウ長が使われる。
func WithRetention(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.retention = d }
}

// WithShards はシャード数を設定する。
func WithShards(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.shards = newShards(n)
		}
	}
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore は新しい MemoryStore を生成する。
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		shards: newShards(defaultShardCount),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newShards(n int) []*memoryShard {
	shards := make([]*memoryShard, n)
	for i := range shards {
		shards[i] = &memoryShard{entries: make(map[string]*memoryEntry)}
	}
	return shards
}

// Hit は Store を実装する。
func (s *MemoryStore) Hit(_ context.Context, key string, window time.Duration) (Window, error) {
	s.lastWindow.Store(int64(window))
	now := s.now()
	retention := s.effectiveRetention(window)

	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if now.Sub(sh.lastSweep) >= retention {
		sh.sweep(now, retention)
	}

	e, ok := sh.entries[key]
	if !ok {
		e = &memoryEntry{}
		sh.entries[key] = e
	}
	if e.count == 0 || now.Sub(e.start) >= window {
		e.start = now
		e.count = 1
	} else {
		e.count++
	}
	e.lastSeen = now

	return Window{Count: e.count, Start: e.start}, nil
}

// Cleanup はアクセスのないキーを全シャードから削除し、削除した件数を返す。
func (s *MemoryStore) Cleanup() int {
	window := time.Duration(s.lastWindow.Load())
	retention := s.effectiveRetention(window)
	now := s.now()

	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		removed += sh.sweep(now, retention)
		sh.mu.Unlock()
	}
	return removed
}

// StartJanitor は interval ごとに Cleanup を実行するゴルーチンを起動する。
// ctx をキャンセルすると停止する。
func (s *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	t := time.NewTicker(interval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

// Len は保持しているキーの総数を返す。
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

func (s *MemoryStore) effectiveRetention(window time.Duration) time.Duration {
	retention := s.retention
	if retention <= 0 {
		retention = 2 * window
	}
	if retention < window {
		retention = window
	}
	return retention
}

func (s *MemoryStore) shardFor(key string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// sweep は retention を超えてアクセスのないキーを削除する。呼び出し側でロックを保持すること。
func (sh *memoryShard) sweep(now time.Time, retention time.Duration) int {
	removed := 0
	for k, e := range sh.entries {
		if now.Sub(e.lastSeen) > retention {
			delete(sh.entries, k)
			removed++
		}
	}
	sh.lastSweep = now
	return removed
}
