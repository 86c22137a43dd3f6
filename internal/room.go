package internal

import (
	"fmt"
	"time"

	apperrors "github.com/koopa0/system-design/14-duo-lobby/pkg/errors"
)

// 系統設計問題：
//   兩個遠端玩家如何用一組短碼組成一局，並在斷線重連後保住座位？
//
// 核心挑戰：
//   1. 狀態管理：lobby → active 單向轉換
//   2. 身分與連接分離：斷線不等於離開
//   3. 房主遷移：房主斷線或離開時，房間必須仍然可以開始
//   4. 並發控制：同一房間的加入、離開、斷線可能同時發生
//
// 設計方案：
//   ✅ Room 本身不加鎖，只由 Registry 的房間臨界區呼叫
//   ✅ 每次變更後檢查不變量（測試中使用 CheckInvariants）
//   ✅ 房主遷移在同一臨界區內同步完成

// RoomStatus 房間狀態
//
//	lobby → active
//
// 只能前進，沒有回退。active 之後的遊戲規則不歸這裡管。
type RoomStatus string

const (
	StatusLobby  RoomStatus = "lobby"  // 等待玩家加入、準備
	StatusActive RoomStatus = "active" // 已開始
)

// RoomCapacity 每房固定兩人
const RoomCapacity = 2

// Room 房間
//
// 不是並發安全的：所有方法都必須在 Registry 的房間臨界區內呼叫。
type Room struct {
	code    string
	status  RoomStatus
	hostID  string
	order   []string // 加入順序，用於顯示與房主遷移
	players map[string]*Player

	CreatedAt time.Time
	UpdatedAt time.Time

	version           uint64
	disconnectedSince time.Time // 全員離線的起始時間，有人在線時為零值
}

// NewRoom 創建房間，host 成為唯一玩家與房主
func NewRoom(code string, host *Player, now time.Time) *Room {
	r := &Room{
		code:      code,
		status:    StatusLobby,
		hostID:    host.ID,
		order:     []string{host.ID},
		players:   map[string]*Player{host.ID: host},
		CreatedAt: now,
	}
	r.touch(now)
	return r
}

// Code 房間碼
func (r *Room) Code() string { return r.code }

// Status 房間狀態
func (r *Room) Status() RoomStatus { return r.status }

// HostID 房主身分
func (r *Room) HostID() string { return r.hostID }

// Version 每次變更遞增，附在快照上
func (r *Room) Version() uint64 { return r.version }

// Len 玩家數
func (r *Room) Len() int { return len(r.order) }

// Player 依身分取得玩家
func (r *Room) Player(id string) (*Player, bool) {
	p, ok := r.players[id]
	return p, ok
}

// Players 依加入順序返回玩家
func (r *Room) Players() []*Player {
	out := make([]*Player, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.players[id])
	}
	return out
}

// AddPlayer 加入玩家
//
// 已在房間內的身分視為刷新：更新名稱並綁定新連接，不檢查狀態與容量。
// 返回的 ConnID 是被取代的舊連接（刷新時才可能非空）。
func (r *Room) AddPlayer(p *Player) (ConnID, error) {
	if existing, ok := r.players[p.ID]; ok {
		existing.Name = p.Name
		return existing.bind(p.Conn), nil
	}

	// 狀態檢查（狀態機驗證）
	if r.status != StatusLobby {
		return "", apperrors.ErrRoomStarted
	}

	// 容量檢查
	if len(r.order) >= RoomCapacity {
		return "", apperrors.ErrRoomFull
	}

	p.Ready = false
	r.players[p.ID] = p
	r.order = append(r.order, p.ID)
	return "", nil
}

// Rebind 把既有玩家綁定到新連接，返回舊連接
//
// 不改變 ready、房主與狀態。
func (r *Room) Rebind(id string, conn ConnID) (ConnID, error) {
	p, ok := r.players[id]
	if !ok {
		return "", apperrors.ErrPlayerNotInRoom
	}
	return p.bind(conn), nil
}

// Detach 連接中斷
//
// 只有玩家目前綁定的正是這個連接時才標記離線；
// 重連之後舊連接才關閉的情況不能把新連接踢掉。
// hostChanged 表示因此觸發了房主遷移。
func (r *Room) Detach(id string, conn ConnID) (detached, hostChanged bool) {
	p, ok := r.players[id]
	if !ok || p.Conn != conn || conn == "" {
		return false, false
	}

	p.unbind()
	if r.hostID == id {
		hostChanged = r.migrateHost()
	}
	return true, hostChanged
}

// RemovePlayer 移除玩家（唯一會刪除玩家記錄的操作）
func (r *Room) RemovePlayer(id string) (removed *Player, hostChanged bool) {
	p, ok := r.players[id]
	if !ok {
		return nil, false
	}

	delete(r.players, id)
	for i, pid := range r.order {
		if pid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	if r.hostID == id {
		hostChanged = r.migrateHost()
	}
	return p, hostChanged
}

// SetReady 設置玩家準備狀態
//
// active 之後 ready 沒有意義，接受但不改變任何東西（changed=false）。
func (r *Room) SetReady(id string, ready bool) (changed bool, err error) {
	p, ok := r.players[id]
	if !ok {
		return false, apperrors.ErrPlayerNotInRoom
	}
	if r.status != StatusLobby || p.Ready == ready {
		return false, nil
	}
	p.Ready = ready
	return true, nil
}

// Start 開始（只有房主可以）
//
// 檢查順序：已開始 → 不是房主 → 人數不足 → 有人未準備或離線。
func (r *Room) Start(id string) error {
	if r.status != StatusLobby {
		return apperrors.ErrAlreadyStarted
	}
	if r.hostID != id {
		return apperrors.ErrNotHost
	}
	if len(r.order) != RoomCapacity {
		return apperrors.ErrNotEnoughPlayers
	}
	for _, p := range r.players {
		if !p.Connected || !p.Ready {
			return apperrors.ErrNotAllReady
		}
	}

	r.status = StatusActive
	return nil
}

// migrateHost 依 NextHost 重新選房主，返回房主是否改變
func (r *Room) migrateHost() bool {
	next := NextHost(r.Players())
	if next == r.hostID {
		return false
	}
	r.hostID = next
	return next != ""
}

// touch 記錄一次被接受的變更
func (r *Room) touch(now time.Time) {
	r.version++
	r.UpdatedAt = now

	anyConnected := false
	for _, p := range r.players {
		if p.Connected {
			anyConnected = true
			break
		}
	}
	switch {
	case anyConnected:
		r.disconnectedSince = time.Time{}
	case r.disconnectedSince.IsZero():
		r.disconnectedSince = now
	}
}

// AbandonedFor 全員離線持續多久；有人在線時為 0
func (r *Room) AbandonedFor(now time.Time) time.Duration {
	if r.disconnectedSince.IsZero() || len(r.order) == 0 {
		return 0
	}
	return now.Sub(r.disconnectedSince)
}

// CheckInvariants 驗證房間不變量
func (r *Room) CheckInvariants() error {
	if len(r.order) != len(r.players) {
		return fmt.Errorf("room %s: order has %d entries, players has %d", r.code, len(r.order), len(r.players))
	}
	if len(r.order) > RoomCapacity {
		return fmt.Errorf("room %s: %d players exceeds capacity", r.code, len(r.order))
	}
	if len(r.order) > 0 {
		if _, ok := r.players[r.hostID]; !ok {
			return fmt.Errorf("room %s: host %q is not a member", r.code, r.hostID)
		}
	}
	for _, p := range r.players {
		if p.Connected != (p.Conn != "") {
			return fmt.Errorf("room %s: player %s connected=%v with conn %q", r.code, p.ID, p.Connected, p.Conn)
		}
	}
	if r.status != StatusLobby && r.status != StatusActive {
		return fmt.Errorf("room %s: unknown status %q", r.code, r.status)
	}
	return nil
}
