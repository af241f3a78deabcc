// Package frame 提供長度前綴的字串訊框編解碼
//
// 訊框格式：
//
//	+--------+--------+-------------------+
//	| len hi | len lo | UTF-8 payload ... |
//	+--------+--------+-------------------+
//
// 長度為 2 bytes big-endian 無號整數，與 Java DataOutputStream.writeUTF /
// DataInputStream.readUTF 相容（本協議的 token 只含 ASCII，
// modified UTF-8 與標準 UTF-8 在 ASCII 範圍內位元組完全相同）。
//
// 使用場景：
//   - 客戶端送出出拳（"rock" / "paper" / "scissors"）
//   - 伺服器回傳回合結果（"It's a tie!" / "paper won this round"）
package frame

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"unicode/utf8"
)

// MaxPayload 單一訊框最大 payload（2 bytes 長度欄位上限）
const MaxPayload = 1<<16 - 1

var (
	// ErrTooLarge payload 超過 MaxPayload
	ErrTooLarge = errors.New("frame payload exceeds 65535 bytes")

	// ErrInvalidUTF8 payload 不是合法的 UTF-8
	ErrInvalidUTF8 = errors.New("frame payload is not valid utf-8")
)

// Write 寫入一個訊框
//
// header 與 payload 合併為一次 Write，避免在 TCP 上被拆成兩個封包。
func Write(w io.Writer, s string) error {
	if len(s) > MaxPayload {
		return ErrTooLarge
	}

	buf := make([]byte, 2+len(s))
	binary.BigEndian.PutUint16(buf, uint16(len(s)))
	copy(buf[2:], s)

	_, err := w.Write(buf)
	return err
}

// Read 讀取一個訊框
//
// 錯誤語義：
//   - 連線在訊框邊界關閉：io.EOF
//   - 連線在訊框中途關閉：io.ErrUnexpectedEOF
//   - payload 非法：ErrInvalidUTF8
func Read(r io.Reader) (string, error) {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return "", err
	}

	n := binary.BigEndian.Uint16(header[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}

	if !utf8.Valid(payload) {
		return "", ErrInvalidUTF8
	}

	return string(payload), nil
}

// ReadWriter 在同一條串流上讀寫訊框
//
// 讀取端帶緩衝（減少 syscall），寫入端直接寫到底層連線，
// 每個訊框寫完即送出，不需要額外 Flush。
type ReadWriter struct {
	r *bufio.Reader
	w io.Writer
}

// NewReadWriter 包裝一條雙向串流
func NewReadWriter(rw io.ReadWriter) *ReadWriter {
	return &ReadWriter{
		r: bufio.NewReader(rw),
		w: rw,
	}
}

// ReadString 讀取下一個訊框
func (rw *ReadWriter) ReadString() (string, error) {
	return Read(rw.r)
}

// WriteString 寫入一個訊框
func (rw *ReadWriter) WriteString(s string) error {
	return Write(rw.w, s)
}
