// Package errors 提供房間服務的錯誤碼與錯誤型別
//
// 呼叫端輸入錯誤（名稱為空、房間不存在、不是房主⋯）一律以 *AppError 回報，
// Code 是對外穩定的字串，閘道層直接放進 ack 的 error 欄位。
package errors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// ErrCodeNameRequired 顯示名稱為空
	ErrCodeNameRequired = "NAME_REQUIRED"
	// ErrCodeIdentityRequired 玩家識別碼為空
	ErrCodeIdentityRequired = "IDENTITY_REQUIRED"
	// ErrCodeRoomNotFound 房間不存在
	ErrCodeRoomNotFound = "ROOM_NOT_FOUND"
	// ErrCodeRoomStarted 房間已開始，不接受加入
	ErrCodeRoomStarted = "ROOM_STARTED"
	// ErrCodeRoomFull 房間已滿
	ErrCodeRoomFull = "ROOM_FULL"
	// ErrCodePlayerNotInRoom 玩家不在房間內
	ErrCodePlayerNotInRoom = "PLAYER_NOT_IN_ROOM"
	// ErrCodeNotHost 不是房主
	ErrCodeNotHost = "NOT_HOST"
	// ErrCodeAlreadyStarted 重複開始
	ErrCodeAlreadyStarted = "ALREADY_STARTED"
	// ErrCodeNotEnoughPlayers 人數不足
	ErrCodeNotEnoughPlayers = "NOT_ENOUGH_PLAYERS"
	// ErrCodeNotAllReady 有玩家未準備或離線
	ErrCodeNotAllReady = "NOT_ALL_READY"
	// ErrCodeInvalidInput 無效輸入（無法解析的請求）
	ErrCodeInvalidInput = "INVALID_INPUT"
	// ErrCodeUnknownEvent 未知的事件名稱
	ErrCodeUnknownEvent = "UNKNOWN_EVENT"
	// ErrCodeInternal 內部錯誤
	ErrCodeInternal = "INTERNAL_ERROR"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 以錯誤碼比對，讓預定義錯誤可以搭配 errors.Is 使用
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 返回帶有詳細資訊的副本
//
// 預定義錯誤是共用的，不能直接修改。
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// 預定義錯誤
var (
	ErrNameRequired     = New(ErrCodeNameRequired, "display name is required")
	ErrIdentityRequired = New(ErrCodeIdentityRequired, "player identity is required")
	ErrRoomNotFound     = New(ErrCodeRoomNotFound, "room not found")
	ErrRoomStarted      = New(ErrCodeRoomStarted, "room has already started")
	ErrRoomFull         = New(ErrCodeRoomFull, "room is full")
	ErrPlayerNotInRoom  = New(ErrCodePlayerNotInRoom, "player is not in this room")
	ErrNotHost          = New(ErrCodeNotHost, "only the host can start the session")
	ErrAlreadyStarted   = New(ErrCodeAlreadyStarted, "session already started")
	ErrNotEnoughPlayers = New(ErrCodeNotEnoughPlayers, "two players are required to start")
	ErrNotAllReady      = New(ErrCodeNotAllReady, "every player must be connected and ready")
	ErrInvalidInput     = New(ErrCodeInvalidInput, "invalid request payload")
	ErrUnknownEvent     = New(ErrCodeUnknownEvent, "unknown event")
	ErrInternal         = New(ErrCodeInternal, "internal server error")
)

// CodeOf 取得錯誤碼，非 AppError 一律視為內部錯誤
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// MessageOf 取得對外可顯示的訊息
func MessageOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return ErrInternal.Message
}

// IsRoomNotFound 檢查是否為房間不存在錯誤
func IsRoomNotFound(err error) bool {
	return CodeOf(err) == ErrCodeRoomNotFound
}

// IsCallerError 檢查是否為呼叫端輸入錯誤（相對於內部錯誤）
func IsCallerError(err error) bool {
	code := CodeOf(err)
	return code != "" && code != ErrCodeInternal
}
