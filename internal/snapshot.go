package internal

// PlayerView 快照中的玩家
type PlayerView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsHost    bool   `json:"isHost"`
	Connected bool   `json:"connected"`
	Ready     bool   `json:"ready"`
}

// Snapshot 房間唯讀投影
//
// 完全由 Room 推導，沒有獨立狀態。Version 讓訂閱端可以丟掉過期的推送。
type Snapshot struct {
	Code    string       `json:"code"`
	Status  RoomStatus   `json:"status"`
	Version uint64       `json:"version"`
	Players []PlayerView `json:"players"`
}

// Snapshot 投影房間目前狀態（需在臨界區內呼叫）
func (r *Room) Snapshot() Snapshot {
	views := make([]PlayerView, 0, len(r.order))
	for _, p := range r.Players() {
		views = append(views, PlayerView{
			ID:        p.ID,
			Name:      p.Name,
			IsHost:    p.ID == r.hostID,
			Connected: p.Connected,
			Ready:     p.Ready,
		})
	}
	return Snapshot{
		Code:    r.code,
		Status:  r.status,
		Version: r.version,
		Players: views,
	}
}

// Host 返回快照中的房主，沒有時 ok=false
func (s Snapshot) Host() (PlayerView, bool) {
	for _, p := range s.Players {
		if p.IsHost {
			return p, true
		}
	}
	return PlayerView{}, false
}

// Find 依身分找玩家
func (s Snapshot) Find(id string) (PlayerView, bool) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return PlayerView{}, false
}
