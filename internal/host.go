package internal

// NextHost 房主遷移規則
//
// 依加入順序：
//  1. 第一個仍在線的玩家
//  2. 沒有人在線時，第一個剩下的玩家
//  3. 沒有玩家時返回空字串（房間由呼叫端刪除）
//
// 在觸發遷移的同一個臨界區內同步執行，不需要任何人同意。
func NextHost(players []*Player) string {
	for _, p := range players {
		if p.Connected {
			return p.ID
		}
	}
	if len(players) > 0 {
		return players[0].ID
	}
	return ""
}
