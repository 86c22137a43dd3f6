package internal

import (
	"log/slog"
	"sync"
)

// Broadcaster 房間廣播頻道（外部協作者）
//
// Registry 只透過這個介面通知傳輸層；實作必須不阻塞
// （例如寫入每個連接的緩衝 channel），慢消費者自行丟棄。
type Broadcaster interface {
	Subscribe(code string, conn ConnID)
	Unsubscribe(code string, conn ConnID)
	PublishState(snap Snapshot)
	PublishNotice(code, message string)
	CloseChannel(code string)
}

// NopBroadcaster 不做任何事
type NopBroadcaster struct{}

func (NopBroadcaster) Subscribe(string, ConnID) {}
func (NopBroadcaster) Unsubscribe(string, ConnID) {}
func (NopBroadcaster) PublishState(Snapshot) {}
func (NopBroadcaster) PublishNotice(string, string) {}
func (NopBroadcaster) CloseChannel(string) {}

// MultiBroadcaster 依序轉發給多個廣播器（例如 WebSocket Hub + NATS）
type MultiBroadcaster []Broadcaster

func (m MultiBroadcaster) Subscribe(code string, conn ConnID) {
	for _, b := range m {
		b.Subscribe(code, conn)
	}
}

func (m MultiBroadcaster) Unsubscribe(code string, conn ConnID) {
	for _, b := range m {
		b.Unsubscribe(code, conn)
	}
}

func (m MultiBroadcaster) PublishState(snap Snapshot) {
	for _, b := range m {
		b.PublishState(snap)
	}
}

func (m MultiBroadcaster) PublishNotice(code, message string) {
	for _, b := range m {
		b.PublishNotice(code, message)
	}
}

func (m MultiBroadcaster) CloseChannel(code string) {
	for _, b := range m {
		b.CloseChannel(code)
	}
}

// eventKind 發件匣事件類型
type eventKind int

const (
	eventSubscribe eventKind = iota
	eventUnsubscribe
	eventState
	eventNotice
	eventClose
)

// outEvent 發件匣事件
type outEvent struct {
	kind    eventKind
	code    string
	conn    ConnID
	snap    Snapshot
	message string
}

// outbox 每個房間的發件匣
//
// 系統設計考量：
//
//  1. 為什麼不在臨界區內直接廣播？
//     廣播屬於外部 I/O，放在臨界區內會讓同房間的其他請求排隊等待。
//
//  2. 為什麼不在解鎖後各自廣播？
//     兩個請求解鎖後的順序不保證，較舊的快照可能晚到。
//
//  3. 方案：
//     臨界區內 push（只是 append），解鎖後 flush；
//     flushMu 讓同一房間的投遞一次只有一個 goroutine 在做，
//     事件依 push 的順序送出，也就是變更的順序。
type outbox struct {
	mu      sync.Mutex
	events  []outEvent
	flushMu sync.Mutex
}

func (o *outbox) push(ev outEvent) {
	o.mu.Lock()
	o.events = append(o.events, ev)
	o.mu.Unlock()
}

// flush 依序投遞所有待送事件
func (o *outbox) flush(b Broadcaster, logger *slog.Logger) {
	o.flushMu.Lock()
	defer o.flushMu.Unlock()

	for {
		o.mu.Lock()
		events := o.events
		o.events = nil
		o.mu.Unlock()

		if len(events) == 0 {
			return
		}
		for _, ev := range events {
			deliver(b, ev, logger)
		}
	}
}

// deliver 投遞單一事件，廣播器 panic 不影響請求本身
func deliver(b Broadcaster, ev outEvent, logger *slog.Logger) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("廣播失敗", "room_code", ev.code, "panic", rec)
		}
	}()

	switch ev.kind {
	case eventSubscribe:
		b.Subscribe(ev.code, ev.conn)
	case eventUnsubscribe:
		b.Unsubscribe(ev.code, ev.conn)
	case eventState:
		b.PublishState(ev.snap)
	case eventNotice:
		b.PublishNotice(ev.code, ev.message)
	case eventClose:
		b.CloseChannel(ev.code)
	}
}
