// Package cleanup は期限切れセッションの削除ジョブを提供する。
// 画面操作をきっかけにしたバックグラウンド実行と、
// CLIやスケジューラからの同期実行の両方に対応する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Sweeper は期限切れセッションを削除するインターフェース。
// session.Managerが実装する。
type Sweeper interface {
	Cleanup(ctx context.Context) (int64, error)
}

// Runner は期限切れセッションの削除を実行する。
// 同時に走る削除は常に1つまでで、実行中のTriggerは何もしない。
type Runner struct {
	sweeper Sweeper
	logger  *slog.Logger
	running atomic.Bool
	wg      sync.WaitGroup

	// Timeout はバックグラウンド実行1回あたりの上限時間。
	Timeout time.Duration
}

// NewRunner は新しいRunnerを生成する。
func NewRunner(sweeper Sweeper, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		sweeper: sweeper,
		logger:  logger,
		Timeout: 30 * time.Second,
	}
}

// Run は削除を同期的に1回実行し、削除件数を返す。
// 冪等: 削除対象がない場合でもエラーにならない。
func (r *Runner) Run(ctx context.Context) (int64, error) {
	start := time.Now()

	deleted, err := r.sweeper.Cleanup(ctx)
	if err != nil {
		r.logger.Error("セッションクリーンアップの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	r.logger.Info("セッションクリーンアップが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return deleted, nil
}

// Trigger は削除をバックグラウンドで開始する。呼び出し元はブロックしない。
// すでに実行中の場合は何もせずfalseを返す。
func (r *Runner) Trigger() bool {
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Debug("セッションクリーンアップは実行中のためスキップします")
		return false
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.running.Store(false)

		// リクエストのコンテキストとは切り離して実行する
		ctx, cancel := context.WithTimeout(context.Background(), r.Timeout)
		defer cancel()
		_, _ = r.Run(ctx)
	}()
	return true
}

// Start はintervalごとに削除を実行する。ctxがキャンセルされると戻る。
func (r *Runner) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("セッションクリーンアップを開始しました",
		slog.Duration("interval", interval),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("セッションクリーンアップを停止しました")
			return
		case <-ticker.C:
			r.Trigger()
		}
	}
}

// Wait は実行中のバックグラウンド削除の完了を待つ。
func (r *Runner) Wait() {
	r.wg.Wait()
}
