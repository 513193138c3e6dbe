package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"finsight/monitor"
)

// Broadcaster fans pipeline frames out to every watcher of an upload and
// keeps a bounded replay history so a late subscriber still sees how the
// job got where it is.
type Broadcaster interface {
	Publish(ctx context.Context, uploadID string, f monitor.Frame) error
	Subscribe(ctx context.Context, uploadID string) (<-chan monitor.Frame, func(), error)
	History(ctx context.Context, uploadID string) ([]monitor.Frame, error)
}

const historyTTL = time.Hour

type RedisBroadcaster struct {
	rdb         *redis.Client
	prefix      string
	historySize int
}

func NewRedisBroadcaster(rdb *redis.Client, prefix string, historySize int) *RedisBroadcaster {
	return &RedisBroadcaster{rdb: rdb, prefix: prefix, historySize: historySize}
}

func (b *RedisBroadcaster) key(uploadID string) string {
	return fmt.Sprintf("%s:events:%s", b.prefix, uploadID)
}

// Publish appends the frame to the replay ring and notifies live
// subscribers. The same key doubles as list and pub/sub channel name.
func (b *RedisBroadcaster) Publish(ctx context.Context, uploadID string, f monitor.Frame) error {
	f.UploadID = uploadID
	raw, err := json.Marshal(f)
	if err != nil {
		return err
	}

	key := b.key(uploadID)
	pipe := b.rdb.TxPipeline()
	pipe.RPush(ctx, key, raw)
	pipe.LTrim(ctx, key, int64(-b.historySize), -1)
	pipe.Expire(ctx, key, historyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append event history: %w", err)
	}

	if err := b.rdb.Publish(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (b *RedisBroadcaster) Subscribe(ctx context.Context, uploadID string) (<-chan monitor.Frame, func(), error) {
	sub := b.rdb.Subscribe(ctx, b.key(uploadID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan monitor.Frame, 100)
	go func() {
		defer close(out)
		for m := range sub.Channel() {
			var f monitor.Frame
			if err := json.Unmarshal([]byte(m.Payload), &f); err != nil {
				slog.Warn("bad broadcast payload", "error", err, "upload_id", uploadID)
				continue
			}
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() { _ = sub.Close() }
	return out, cancel, nil
}

func (b *RedisBroadcaster) History(ctx context.Context, uploadID string) ([]monitor.Frame, error) {
	raws, err := b.rdb.LRange(ctx, b.key(uploadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read event history: %w", err)
	}

	frames := make([]monitor.Frame, 0, len(raws))
	for _, raw := range raws {
		var f monitor.Frame
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			slog.Warn("bad history payload", "error", err, "upload_id", uploadID)
			continue
		}
		frames = append(frames, f)
	}
	return frames, nil
}
