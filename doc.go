// Package rpsrendezvous 提供了一個兩人猜拳（剪刀石頭布）的回合會合服務器。
//
// 每位玩家透過一條連線反覆送出出拳，服務器等到同一回合的兩個出拳都到齊，
// 依規則算出結果，回傳給雙方後立刻進入下一回合。
//
// # 回合同步
//
// 同步器是單一 goroutine 擁有狀態的 actor：
//   - 出拳以 channel 送入，附帶各自的回覆 channel
//   - 第二個出拳到達時，先清空並推進回合，再回覆雙方
//   - 第三個出拳不會被丟棄，而是排入下一回合
//   - 等待可被 context 或回合逾時取消，取消的出拳會從回合中撤回
//
// # 配對
//
// 兩種模式：
//   - matched（預設）：依到達順序兩兩配對，每對一個同步器，任一方離開即關閉對局
//   - shared：全部連線共用一個同步器
//
// # 線路協議
//
// TCP 使用 2 位元組大端序長度前綴的 UTF-8 訊框（與 Java writeUTF 相容）：
//
//	客戶端 → 服務器：rock | paper | scissors（不分大小寫）
//	服務器 → 客戶端：It's a tie! | <出拳> won this round
//
// 結果只包含贏的出拳，雙方收到同一個字串，由客戶端比對自己的出拳判斷輸贏。
// WebSocket（/ws）走同一套回合邏輯，以 JSON 傳輸並額外附上每位接收者的 outcome。
//
// # 管理 API
//
//   - GET /health：健康檢查
//   - GET /stats：對局與連線統計
//   - GET /logs?limit=N：最近的服務器日誌
//   - GET /api/v1/matches/{match_id}：對局詳情
//   - GET /api/v1/connections/{conn_id}/match：連線所在的對局
//
// 日誌除了輸出到 stdout，也可同步發佈到 NATS subject 與 Redis channel，
// 供外部日誌視窗訂閱。
//
// # 使用範例
//
// 啟動服務器：
//
//	go run ./cmd/server -port 8000 -pairing matched
//
// 兩個終端機各開一個客戶端：
//
//	go run ./cmd/client -addr localhost:8000
//
// # 配置選項
//
// 優先順序：預設值 → config.yaml → 環境變數（含 .env）→ 命令列參數
//   - -port / RPS_PORT：遊戲服務器端口（預設 8000）
//   - -admin-port / RPS_ADMIN_PORT：管理 API 端口（預設 8080）
//   - -pairing / RPS_PAIRING：配對模式（matched/shared）
//   - -round-timeout / RPS_ROUND_TIMEOUT：等待對手的上限（預設 0，無限等待）
//   - -log-level / RPS_LOG_LEVEL：日誌級別（debug/info/warn/error）
//   - RPS_NATS_URL、RPS_REDIS_ADDR：日誌發佈目標
package rpsrendezvous
