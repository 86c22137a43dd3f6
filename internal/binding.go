package internal

import "sync"

// Binding 連接目前所在的房間與身分
type Binding struct {
	Code     string
	PlayerID string
}

// bindingIndex 連接 → 房間的反向索引
//
// 在房間臨界區內與房間變更一起維護；不從傳輸層的訂閱集合反推。
// 鎖順序：房間鎖 → 房間表鎖 → bindingIndex.mu（葉節點）。
type bindingIndex struct {
	mu     sync.Mutex
	byConn map[ConnID]Binding
}

func newBindingIndex() *bindingIndex {
	return &bindingIndex{byConn: make(map[ConnID]Binding)}
}

func (b *bindingIndex) get(conn ConnID) (Binding, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.byConn[conn]
	return v, ok
}

func (b *bindingIndex) set(conn ConnID, v Binding) {
	if conn == "" {
		return
	}
	b.mu.Lock()
	b.byConn[conn] = v
	b.mu.Unlock()
}

// release 只在索引仍指向 want 時刪除，避免誤刪已改綁到別處的連接
func (b *bindingIndex) release(conn ConnID, want Binding) bool {
	if conn == "" {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.byConn[conn]; ok && cur == want {
		delete(b.byConn, conn)
		return true
	}
	return false
}

func (b *bindingIndex) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byConn)
}
