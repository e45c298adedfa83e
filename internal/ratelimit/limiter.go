package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Window はクライアントキー1件分の固定ウィンドウの状態。
type Window struct {
	// Count は現在のウィンドウ開始以降に数えたリクエスト数。
	Count int64
	// Start は現在のウィンドウの開始時刻。
	Start time.Time
}

// Store はクライアントキーごとのウィンドウを保持するストア。
//
// Hit はキーのウィンドウを1回分進め、更新後の状態を返す。
// ウィンドウが存在しない、または開始から window 以上経過している場合は
// Count=1 の新しいウィンドウを開始する。それ以外は Count を1加算する。
// この一連の操作はキー単位で不可分でなければならない。
type Store interface {
	Hit(ctx context.Context, key string, window time.Duration) (Window, error)
}

// Decision はレート制限の判定結果。
type Decision struct {
	// Allowed はリクエストを受け付けるかどうか。
	Allowed bool
	// Limit はウィンドウあたりの上限。
	Limit int64
	// Count は現在のウィンドウで数えたリクエスト数。
	Count int64
	// Remaining は現在のウィンドウで残っている受付可能数。
	Remaining int64
	// ResetAt は現在のウィンドウが終わる時刻。
	ResetAt time.Time
}

// RetryAfter は now から ResetAt までの待ち時間を秒単位に切り上げて返す。
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return time.Second
	}
	return wait.Truncate(time.Second) + time.Second
}

// Limiter は固定ウィンドウ方式のレート制限器。
type Limiter struct {
	store    Store
	capacity int64
	window   time.Duration
}

// New は capacity 件/window の Limiter を生成する。
func New(store Store, capacity int, window time.Duration) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("レート制限ストアが指定されていません")
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("レート制限の上限は1以上である必要があります: %d", capacity)
	}
	if window <= 0 {
		return nil, fmt.Errorf("レート制限のウィンドウは正の値である必要があります: %s", window)
	}
	return &Limiter{store: store, capacity: int64(capacity), window: window}, nil
}

// Admit は clientKey のリクエストを1件数え、受け付けるかを判定する。
// ストアの更新に失敗した場合は受け付けずにエラーを返す。
func (l *Limiter) Admit(ctx context.Context, clientKey string) (Decision, error) {
	w, err := l.store.Hit(ctx, clientKey, l.window)
	if err != nil {
		return Decision{}, fmt.Errorf("レート制限ストアの更新に失敗: key=%s: %w", clientKey, err)
	}

	d := Decision{
		Allowed: w.Count <= l.capacity,
		Limit:   l.capacity,
		Count:   w.Count,
		ResetAt: w.Start.Add(l.window),
	}
	if d.Allowed {
		d.Remaining = l.capacity - w.Count
	}
	return d, nil
}

// Capacity はウィンドウあたりの上限を返す。
func (l *Limiter) Capacity() int {
	return int(l.capacity)
}

// Window はウィンドウの長さを返す。
func (l *Limiter) Window() time.Duration {
	return l.window
}
