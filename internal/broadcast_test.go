package internal

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/koopa0/system-design/14-duo-lobby/pkg/logger"
)

// orderRecorder 記錄投遞順序
type orderRecorder struct {
	NopBroadcaster
	mu       sync.Mutex
	versions []uint64
}

func (r *orderRecorder) PublishState(snap Snapshot) {
	r.mu.Lock()
	r.versions = append(r.versions, snap.Version)
	r.mu.Unlock()
}

// TestOutbox_FlushOrder 多個 goroutine 同時 flush，投遞順序仍等於 push 順序
func TestOutbox_FlushOrder(t *testing.T) {
	var (
		out outbox
		rec orderRecorder
		mu  sync.Mutex // 模擬房間臨界區
		ver uint64
		wg  sync.WaitGroup
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				mu.Lock()
				ver++
				out.push(outEvent{kind: eventState, snap: Snapshot{Version: ver}})
				mu.Unlock()

				out.flush(&rec, logger.Discard())
			}
		}()
	}
	wg.Wait()

	assert.Len(t, rec.versions, 800)
	for i, v := range rec.versions {
		assert.Equal(t, uint64(i+1), v)
	}
}

// TestMultiBroadcaster 依序轉發
func TestMultiBroadcaster(t *testing.T) {
	a, b := &orderRecorder{}, &orderRecorder{}
	m := MultiBroadcaster{a, b}

	m.PublishState(Snapshot{Version: 3})
	m.Subscribe("ABCD", "c1")
	m.CloseChannel("ABCD")

	assert.Equal(t, []uint64{3}, a.versions)
	assert.Equal(t, []uint64{3}, b.versions)
}
