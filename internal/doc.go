// Package internal 實現雙人房間大廳服務。
//
// 玩家透過 WebSocket 建立房間、用房間碼加入、準備、開始，
// 斷線後可以用同一個 playerId 重新連上原本的座位。
//
// 房間模型
//
//   - 每個房間最多兩人，建房者為房主
//   - 房間碼由不易混淆的大寫字母與數字組成，預設 4 碼，碰撞過多時改用 6 碼
//   - 狀態只有 lobby 與 active 兩種，開始後不接受新玩家也不能改準備狀態
//   - 房主離開或斷線時，房主移交給下一位在線玩家並發出通知
//   - 最後一位玩家離開時房間立即刪除，房間碼可再次使用
//
// # 請求與推送
//
// 每個請求都是 {event, id, data} 信封，伺服器以相同 id 回覆 ack：
//
//	→ {"event":"room:create","id":1,"data":{"name":"Alice","playerId":"p1"}}
//	← {"event":"room:state","data":{"room":{"code":"K7QM","status":"lobby",...}}}
//	← {"event":"ack","id":1,"data":{"ok":true,"code":"K7QM"}}
//
// 房間每次變更都會推送完整快照（room:state），version 單調遞增，
// 客戶端只需保留最大 version 的快照。
//
// 併發安全設計
//
//   - 每個房間一把鎖，不同房間的請求互不阻塞
//   - 房間表與連接綁定表各自一把讀寫鎖，加鎖順序固定為 房間 → 房間表 → 綁定表
//   - 廣播在解鎖後依變更順序投遞，廣播器不會拿到房間鎖
//
// 架構設計
//
//   - Room：單一房間的狀態機，不處理併發
//   - Registry：房間表、連接綁定與臨界區
//   - Gateway：事件名稱與 JSON 解碼，把錯誤轉成 ack
//   - WebSocketHub / NATSBroadcaster：Broadcaster 的兩種實作
//   - Handler：唯讀 HTTP 查詢、健康檢查與統計
//   - Sweeper：清理全員離線過久的房間
//
// 配置選項
//
//   - -config：YAML 配置檔
//   - -port：服務監聽端口（預設 8080）
//   - -log-level：日誌級別（debug/info/warn/error）
//   - -nats：NATS 地址，設定後房間事件同步發布到 NATS
package internal
