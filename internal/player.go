package internal

import (
	"strings"
	"time"
)

// ConnID 連接識別碼
//
// 連接是短暫的：同一個玩家在一局之內可能換好幾個連接。
// 玩家身分（Player.ID）由客戶端提供並自行保存，兩者只透過
// Reconnect（或以同一身分重新 Join）重新綁定。
type ConnID string

// Player 玩家
//
// 玩家記錄只會被明確的 Leave 刪除，傳輸層斷線只會清掉 Conn。
type Player struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Conn      ConnID    `json:"-"` // 斷線時為空
	Connected bool      `json:"connected"`
	Ready     bool      `json:"ready"`
	JoinedAt  time.Time `json:"joined_at"`
}

// NewPlayer 創建已連線、未準備的玩家
func NewPlayer(id, name string, conn ConnID, now time.Time) *Player {
	return &Player{
		ID:        id,
		Name:      name,
		Conn:      conn,
		Connected: conn != "",
		JoinedAt:  now,
	}
}

// bind 綁定到新連接，返回舊連接
func (p *Player) bind(conn ConnID) ConnID {
	old := p.Conn
	p.Conn = conn
	p.Connected = conn != ""
	return old
}

// unbind 清除連接
func (p *Player) unbind() {
	p.Conn = ""
	p.Connected = false
}

// CleanName 清理顯示名稱，空字串代表無效
func CleanName(name string) string {
	return strings.TrimSpace(name)
}

// CleanIdentity 清理玩家身分
func CleanIdentity(id string) string {
	return strings.TrimSpace(id)
}
