package internal

import (
	"fmt"
	"strings"

	apperrors "github.com/koopa0/system-design/14-rps-rendezvous/pkg/errors"
)

// Move 出拳
type Move string

const (
	Rock     Move = "rock"
	Paper    Move = "paper"
	Scissors Move = "scissors"
)

// TieMessage 平手時回傳給雙方的字串
const TieMessage = "It's a tie!"

// beats 克制關係：key 克制 value
//
//	rock → scissors → paper → rock
var beats = map[Move]Move{
	Rock:     Scissors,
	Scissors: Paper,
	Paper:    Rock,
}

// ParseMove 解析出拳（不分大小寫，忽略前後空白）
func ParseMove(token string) (Move, error) {
	m := Move(strings.ToLower(strings.TrimSpace(token)))
	if _, ok := beats[m]; !ok {
		return "", apperrors.ErrMalformedInput.WithDetails(fmt.Sprintf("%q", token))
	}
	return m, nil
}

// Valid 是否為三種合法出拳之一
func (m Move) Valid() bool {
	_, ok := beats[m]
	return ok
}

// Beats a 是否克制 b
func Beats(a, b Move) bool {
	return beats[a] == b
}

// Result 回合結果
//
// 結果只記錄「贏的出拳」，不記錄「贏的玩家」：
// 雙方收到完全相同的 Result，由接收端自行比對自己的出拳。
type Result struct {
	Round  uint64 `json:"round"`
	Tie    bool   `json:"tie"`
	Winner Move   `json:"winner,omitempty"`
}

// String 線路格式
func (r Result) String() string {
	if r.Tie {
		return TieMessage
	}
	return string(r.Winner) + " won this round"
}

// Outcome 從某一方的角度解讀結果
type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLose Outcome = "lose"
	OutcomeTie  Outcome = "tie"
)

// OutcomeFor 以自己的出拳判斷輸贏
//
// 雙方出拳相同才會平手，所以贏的出拳等於自己的出拳即為勝。
func (r Result) OutcomeFor(own Move) Outcome {
	switch {
	case r.Tie:
		return OutcomeTie
	case r.Winner == own:
		return OutcomeWin
	default:
		return OutcomeLose
	}
}

// Play 計算一回合結果
//
// 參數順序即到達順序（first 先到，second 後到）。
// 規則是有序對的非對稱查表：first 克制 second 回傳 first，否則回傳 second，
// 對任一順序都得到同一個贏的出拳。
func Play(first, second Move) Result {
	switch {
	case first == second:
		return Result{Tie: true}
	case Beats(first, second):
		return Result{Winner: first}
	default:
		return Result{Winner: second}
	}
}

// PlayTokens 直接以原始字串計算結果（不分大小寫）
func PlayTokens(first, second string) (Result, error) {
	a, err := ParseMove(first)
	if err != nil {
		return Result{}, err
	}
	b, err := ParseMove(second)
	if err != nil {
		return Result{}, err
	}
	return Play(a, b), nil
}

// ParseResult 解析線路上的結果字串（客戶端使用），回合編號不在線路上
func ParseResult(s string) (Result, error) {
	if s == TieMessage {
		return Result{Tie: true}, nil
	}
	token, ok := strings.CutSuffix(s, " won this round")
	if !ok {
		return Result{}, apperrors.ErrMalformedInput.WithDetails(fmt.Sprintf("result %q", s))
	}
	winner, err := ParseMove(token)
	if err != nil {
		return Result{}, err
	}
	return Result{Winner: winner}, nil
}
