// Package errors 提供應用程式錯誤處理
package errors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// ErrCodeConnectionClosed 對端斷線或讀寫 socket 失敗
	ErrCodeConnectionClosed = "CONNECTION_CLOSED"
	// ErrCodeMalformedInput 無法辨識的出拳
	ErrCodeMalformedInput = "MALFORMED_INPUT"
	// ErrCodeTimeout 等待對手超時
	ErrCodeTimeout = "TIMEOUT"
	// ErrCodeMatchClosed 對局已關閉
	ErrCodeMatchClosed = "MATCH_CLOSED"
	// ErrCodeFrameTooLarge 訊框超過長度上限
	ErrCodeFrameTooLarge = "FRAME_TOO_LARGE"
	// ErrCodeInvalidConfig 無效配置
	ErrCodeInvalidConfig = "INVALID_CONFIG"
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
	if e.Details != "" && e.Err != nil {
		return fmt.Sprintf("[%s] %s (%s): %v", e.Code, e.Message, e.Details, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s (%s)", e.Code, e.Message, e.Details)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 實現 errors.Is（以錯誤碼比對）
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

// WithDetails 返回帶詳細資訊的副本
//
// 預定義錯誤是套件層級共享值，不能原地修改。
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// 預定義錯誤
var (
	// ErrConnectionClosed 連線已關閉
	ErrConnectionClosed = New(ErrCodeConnectionClosed, "connection closed")

	// ErrMalformedInput 出拳不是 rock / paper / scissors
	ErrMalformedInput = New(ErrCodeMalformedInput, "malformed move")

	// ErrTimeout 等待對手出拳超時
	ErrTimeout = New(ErrCodeTimeout, "timed out waiting for opponent")

	// ErrMatchClosed 對局已結束（對手離開或伺服器關閉）
	ErrMatchClosed = New(ErrCodeMatchClosed, "match closed")

	// ErrFrameTooLarge 訊框過大
	ErrFrameTooLarge = New(ErrCodeFrameTooLarge, "frame too large")
)

// Code 取出錯誤碼，非 AppError 返回 ErrCodeInternal
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsConnectionClosed 檢查是否為斷線錯誤
func IsConnectionClosed(err error) bool {
	return hasCode(err, ErrCodeConnectionClosed)
}

// IsMalformedInput 檢查是否為無效出拳錯誤
func IsMalformedInput(err error) bool {
	return hasCode(err, ErrCodeMalformedInput)
}

// IsTimeout 檢查是否為超時錯誤
func IsTimeout(err error) bool {
	return hasCode(err, ErrCodeTimeout)
}

// IsMatchClosed 檢查是否為對局關閉錯誤
func IsMatchClosed(err error) bool {
	return hasCode(err, ErrCodeMatchClosed)
}

func hasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
