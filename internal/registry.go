package internal

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/koopa0/system-design/14-duo-lobby/pkg/errors"
)

// Registry 房間註冊表
//
// 系統設計考量：
//
//  1. 兩層鎖：
//     - mu（RWMutex）只保護 code → 房間的映射，持有時間極短
//     - 每個房間自己的 Mutex 就是該房間的臨界區：
//     同一房間一次只有一個變更，不同房間完全並行
//
//  2. 鎖順序：房間鎖 → mu → bindingIndex
//     絕不在持有 mu 時等待房間鎖（Stats/Sweep 先複製清單再逐一加鎖）
//
//  3. 房間刪除：
//     在房間臨界區內標記 deleted 並從映射移除；
//     等在鎖上的其他請求拿到鎖後看到 deleted，當作房間不存在
//
//  4. 廣播：
//     臨界區內只寫入發件匣，解鎖後才投遞（見 outbox）
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]*roomEntry
	codes    *CodeAllocator
	bindings *bindingIndex
	bc       Broadcaster
	logger   *slog.Logger
	now      func() time.Time
}

// roomEntry 房間與它的臨界區
type roomEntry struct {
	mu      sync.Mutex
	room    *Room
	deleted bool
	out     outbox
}

// Option 註冊表選項
type Option func(*Registry)

// WithBroadcaster 設定廣播器
func WithBroadcaster(b Broadcaster) Option {
	return func(r *Registry) {
		if b != nil {
			r.bc = b
		}
	}
}

// WithCodeAllocator 設定房間碼產生器
func WithCodeAllocator(a *CodeAllocator) Option {
	return func(r *Registry) {
		if a != nil {
			r.codes = a
		}
	}
}

// WithClock 設定時鐘（測試用）
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry 創建房間註冊表
func NewRegistry(logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		rooms:    make(map[string]*roomEntry),
		codes:    NewCodeAllocator(DefaultCodeLength, DefaultFallbackCodeLength, DefaultMaxCodeAttempts),
		bindings: newBindingIndex(),
		bc:       NopBroadcaster{},
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// txn 一次臨界區內的變更紀錄
type txn struct {
	r       *Registry
	e       *roomEntry
	changed bool
	remove  bool
	notices []string
}

// bind 綁定連接到玩家並訂閱房間頻道
func (tx *txn) bind(conn ConnID, playerID string) {
	if conn == "" {
		return
	}
	tx.r.bindings.set(conn, Binding{Code: tx.e.room.Code(), PlayerID: playerID})
	tx.e.out.push(outEvent{kind: eventSubscribe, code: tx.e.room.Code(), conn: conn})
}

// release 解除連接綁定並取消訂閱
func (tx *txn) release(conn ConnID, playerID string) {
	if conn == "" {
		return
	}
	code := tx.e.room.Code()
	tx.r.bindings.release(conn, Binding{Code: code, PlayerID: playerID})

	// 連接已改用別的身分留在同一房間時，頻道訂閱要保留
	if cur, ok := tx.r.bindings.get(conn); ok && cur.Code == code {
		return
	}
	tx.e.out.push(outEvent{kind: eventUnsubscribe, code: code, conn: conn})
}

// hostChanged 記錄房主變更通知
func (tx *txn) hostChanged(room *Room) {
	host, ok := room.Player(room.HostID())
	if !ok {
		return
	}
	tx.notices = append(tx.notices, fmt.Sprintf("%s is now the host", host.Name))
}

func (r *Registry) lookup(code string) (*roomEntry, bool) {
	r.mu.RLock()
	e, ok := r.rooms[code]
	r.mu.RUnlock()
	return e, ok
}

// mutate 在房間臨界區內執行 fn
//
// fn 返回錯誤時不得修改房間（所有檢查都在修改之前）。
// 成功且有變更時遞增版本並寫入快照；房間變空時刪除。
func (r *Registry) mutate(code string, fn func(room *Room, tx *txn) error) error {
	e, ok := r.lookup(code)
	if !ok {
		return apperrors.ErrRoomNotFound
	}

	e.mu.Lock()
	if e.deleted {
		e.mu.Unlock()
		return apperrors.ErrRoomNotFound
	}

	tx := &txn{r: r, e: e}
	err := fn(e.room, tx)
	if err == nil {
		if e.room.Len() == 0 {
			tx.remove = true
		}
		switch {
		case tx.remove:
			r.deleteLocked(e)
		case tx.changed:
			e.room.touch(r.now())
			e.out.push(outEvent{kind: eventState, code: code, snap: e.room.Snapshot()})
			for _, msg := range tx.notices {
				e.out.push(outEvent{kind: eventNotice, code: code, message: msg})
			}
		}
	}
	e.mu.Unlock()

	e.out.flush(r.bc, r.logger)
	return err
}

// deleteLocked 刪除房間（需持有房間鎖）
func (r *Registry) deleteLocked(e *roomEntry) {
	code := e.room.Code()
	e.deleted = true

	r.mu.Lock()
	if cur, ok := r.rooms[code]; ok && cur == e {
		delete(r.rooms, code)
	}
	r.mu.Unlock()

	for _, p := range e.room.Players() {
		r.bindings.release(p.Conn, Binding{Code: code, PlayerID: p.ID})
	}
	e.out.push(outEvent{kind: eventClose, code: code})

	r.logger.Info("房間已移除", "room_code", code)
}

// Create 創建房間，請求者成為唯一玩家與房主
func (r *Registry) Create(conn ConnID, name, playerID string) (string, error) {
	name = CleanName(name)
	if name == "" {
		return "", apperrors.ErrNameRequired
	}
	playerID = CleanIdentity(playerID)
	if playerID == "" {
		return "", apperrors.ErrIdentityRequired
	}

	prev, hadPrev := r.bindings.get(conn)

	now := r.now()
	e := &roomEntry{}

	// 分配房間碼與插入是同一個不可分割的操作
	r.mu.Lock()
	code := r.codes.Allocate(func(c string) bool {
		_, taken := r.rooms[c]
		return taken
	})
	e.room = NewRoom(code, NewPlayer(playerID, name, conn, now), now)
	tx := &txn{r: r, e: e}
	tx.bind(conn, playerID)
	e.out.push(outEvent{kind: eventState, code: code, snap: e.room.Snapshot()})
	r.rooms[code] = e
	r.mu.Unlock()

	e.out.flush(r.bc, r.logger)

	if hadPrev {
		r.detach(conn, prev)
	}

	r.logger.Info("房間已創建",
		"room_code", code,
		"player_id", playerID,
		"conn_id", conn)

	return code, nil
}

// Join 加入房間
//
// 已在房間內的身分重新加入視為刷新名稱與連接。
func (r *Registry) Join(conn ConnID, code, name, playerID string) error {
	code = NormalizeCode(code)
	name = CleanName(name)
	if name == "" {
		return apperrors.ErrNameRequired
	}
	playerID = CleanIdentity(playerID)
	if playerID == "" {
		return apperrors.ErrIdentityRequired
	}

	prev, hadPrev := r.bindings.get(conn)

	err := r.mutate(code, func(room *Room, tx *txn) error {
		old, err := room.AddPlayer(NewPlayer(playerID, name, conn, r.now()))
		if err != nil {
			return err
		}
		if old != conn {
			tx.release(old, playerID)
		}
		tx.bind(conn, playerID)
		tx.changed = true
		return nil
	})
	if err != nil {
		return err
	}

	if hadPrev && prev != (Binding{Code: code, PlayerID: playerID}) {
		r.detach(conn, prev)
	}

	r.logger.Info("玩家加入房間",
		"room_code", code,
		"player_id", playerID,
		"conn_id", conn)

	return nil
}

// Reconnect 把既有身分綁定到新連接
//
// 不改變 ready、房主與房間狀態；身分不在房間內返回 PlayerNotInRoom。
func (r *Registry) Reconnect(conn ConnID, code, playerID string) error {
	code = NormalizeCode(code)
	playerID = CleanIdentity(playerID)

	prev, hadPrev := r.bindings.get(conn)

	err := r.mutate(code, func(room *Room, tx *txn) error {
		if playerID == "" {
			return apperrors.ErrPlayerNotInRoom
		}
		old, err := room.Rebind(playerID, conn)
		if err != nil {
			return err
		}
		if old != conn {
			tx.release(old, playerID)
		}
		tx.bind(conn, playerID)
		tx.changed = true
		return nil
	})
	if err != nil {
		return err
	}

	if hadPrev && prev != (Binding{Code: code, PlayerID: playerID}) {
		r.detach(conn, prev)
	}

	r.logger.Info("玩家重新連線",
		"room_code", code,
		"player_id", playerID,
		"conn_id", conn)

	return nil
}

// Leave 離開房間（唯一會刪除玩家的操作）
//
// 永遠成功：不在房間內、房間已不存在、重複的離開都是 no-op。
// 連接只能代表它自己綁定的身分離開。
func (r *Registry) Leave(conn ConnID, playerID string) {
	b, ok := r.bindings.get(conn)
	if !ok {
		return
	}
	playerID = CleanIdentity(playerID)
	if playerID == "" {
		playerID = b.PlayerID
	}
	if playerID != b.PlayerID {
		return
	}

	var emptied bool
	err := r.mutate(b.Code, func(room *Room, tx *txn) error {
		tx.release(conn, playerID)

		p, hostChanged := room.RemovePlayer(playerID)
		if p == nil {
			return nil
		}
		if p.Conn != conn {
			tx.release(p.Conn, playerID)
		}
		tx.changed = true
		emptied = room.Len() == 0
		if hostChanged {
			tx.hostChanged(room)
		}
		return nil
	})
	if err != nil {
		// 房間已不存在，清掉殘留的綁定
		r.bindings.release(conn, b)
		return
	}

	r.logger.Info("玩家離開房間",
		"room_code", b.Code,
		"player_id", playerID,
		"room_deleted", emptied)
}

// SetReady 設置準備狀態
func (r *Registry) SetReady(conn ConnID, playerID string, ready bool) error {
	b, ok := r.bindings.get(conn)
	if !ok {
		return apperrors.ErrPlayerNotInRoom
	}
	playerID = CleanIdentity(playerID)
	if playerID == "" {
		playerID = b.PlayerID
	}
	if playerID != b.PlayerID {
		return apperrors.ErrPlayerNotInRoom
	}

	err := r.mutate(b.Code, func(room *Room, tx *txn) error {
		changed, err := room.SetReady(playerID, ready)
		tx.changed = changed
		return err
	})
	if apperrors.IsRoomNotFound(err) {
		return apperrors.ErrPlayerNotInRoom
	}
	return err
}

// Start 開始（lobby → active）
func (r *Registry) Start(conn ConnID, playerID string) error {
	b, ok := r.bindings.get(conn)
	if !ok {
		return apperrors.ErrRoomNotFound
	}
	playerID = CleanIdentity(playerID)
	if playerID == "" {
		playerID = b.PlayerID
	}
	if playerID != b.PlayerID {
		return apperrors.ErrNotHost
	}

	err := r.mutate(b.Code, func(room *Room, tx *txn) error {
		if err := room.Start(playerID); err != nil {
			return err
		}
		tx.changed = true
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Info("房間已開始", "room_code", b.Code, "host_id", playerID)
	return nil
}

// Disconnect 傳輸層回報連接中斷
//
// 只標記離線並在需要時遷移房主，從不刪除玩家或房間。
func (r *Registry) Disconnect(conn ConnID) {
	b, ok := r.bindings.get(conn)
	if !ok {
		return
	}
	r.detach(conn, b)
}

// detach 讓連接脫離指定綁定
func (r *Registry) detach(conn ConnID, b Binding) {
	var detached bool
	err := r.mutate(b.Code, func(room *Room, tx *txn) error {
		tx.release(conn, b.PlayerID)

		var hostChanged bool
		detached, hostChanged = room.Detach(b.PlayerID, conn)
		tx.changed = detached
		if hostChanged {
			tx.hostChanged(room)
		}
		return nil
	})
	if err != nil {
		r.bindings.release(conn, b)
		return
	}

	if detached {
		r.logger.Info("玩家斷線",
			"room_code", b.Code,
			"player_id", b.PlayerID,
			"conn_id", conn)
	}
}

// Snapshot 取得房間快照
func (r *Registry) Snapshot(code string) (Snapshot, error) {
	e, ok := r.lookup(NormalizeCode(code))
	if !ok {
		return Snapshot{}, apperrors.ErrRoomNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return Snapshot{}, apperrors.ErrRoomNotFound
	}
	return e.room.Snapshot(), nil
}

// BindingOf 查詢連接目前的綁定
func (r *Registry) BindingOf(conn ConnID) (Binding, bool) {
	return r.bindings.get(conn)
}

// entries 複製房間清單，之後再逐一加鎖（避免持有 mu 等待房間鎖）
func (r *Registry) entries() []*roomEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*roomEntry, 0, len(r.rooms))
	for _, e := range r.rooms {
		out = append(out, e)
	}
	return out
}

// SweepAbandoned 刪除全員離線超過 idleFor 的房間
//
// 房間狀態機本身沒有計時器；由外部元件（Sweeper）定期呼叫。
func (r *Registry) SweepAbandoned(idleFor time.Duration) []string {
	if idleFor <= 0 {
		return nil
	}

	now := r.now()
	var removed []string
	for _, e := range r.entries() {
		e.mu.Lock()
		if !e.deleted {
			if idle := e.room.AbandonedFor(now); idle > 0 && idle >= idleFor {
				removed = append(removed, e.room.Code())
				r.deleteLocked(e)
			}
		}
		e.mu.Unlock()
		e.out.flush(r.bc, r.logger)
	}
	return removed
}

// Len 存活房間數
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Stats 統計資訊
type Stats struct {
	TotalRooms       int                `json:"total_rooms"`
	TotalPlayers     int                `json:"total_players"`
	ConnectedPlayers int                `json:"connected_players"`
	ByStatus         map[RoomStatus]int `json:"by_status"`
	BoundConnections int                `json:"bound_connections"`
}

// Stats 獲取統計資訊
func (r *Registry) Stats() Stats {
	stats := Stats{ByStatus: make(map[RoomStatus]int)}

	for _, e := range r.entries() {
		e.mu.Lock()
		if !e.deleted {
			stats.TotalRooms++
			stats.ByStatus[e.room.Status()]++
			for _, p := range e.room.Players() {
				stats.TotalPlayers++
				if p.Connected {
					stats.ConnectedPlayers++
				}
			}
		}
		e.mu.Unlock()
	}
	stats.BoundConnections = r.bindings.len()

	return stats
}

// CheckInvariants 驗證所有房間的不變量
func (r *Registry) CheckInvariants() error {
	for _, e := range r.entries() {
		e.mu.Lock()
		err := r.checkEntry(e)
		e.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) checkEntry(e *roomEntry) error {
	if e.deleted {
		return nil
	}
	if e.room.Len() == 0 {
		return fmt.Errorf("room %s: empty room retained in registry", e.room.Code())
	}
	return e.room.CheckInvariants()
}

// Close 關閉所有房間
func (r *Registry) Close() {
	for _, e := range r.entries() {
		e.mu.Lock()
		if !e.deleted {
			r.deleteLocked(e)
		}
		e.mu.Unlock()
		e.out.flush(r.bc, r.logger)
	}

	r.logger.Info("房間註冊表已關閉")
}
