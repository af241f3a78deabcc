package internal_test

import (
	"strings"
	"testing"

	"github.com/koopa0/system-design/14-rps-rendezvous/internal"
	apperrors "github.com/koopa0/system-design/14-rps-rendezvous/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseMove 測試出拳解析
func TestParseMove(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		expected  internal.Move
		expectErr bool
	}{
		{"lowercase rock", "rock", internal.Rock, false},
		{"capitalized paper", "Paper", internal.Paper, false},
		{"uppercase scissors", "SCISSORS", internal.Scissors, false},
		{"surrounding whitespace", "  rock\n", internal.Rock, false},
		{"unknown token", "lizard", "", true},
		{"empty", "", "", true},
		{"misspelled", "sissors", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			move, err := internal.ParseMove(tt.input)
			if tt.expectErr {
				require.Error(t, err)
				assert.True(t, apperrors.IsMalformedInput(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, move)
		})
	}
}

// TestPlay_EqualMovesTie 相同出拳（含大小寫變化）一律平手
func TestPlay_EqualMovesTie(t *testing.T) {
	moves := []string{"rock", "paper", "scissors"}
	variants := []func(string) string{
		strings.ToLower,
		strings.ToUpper,
		func(s string) string { return strings.ToUpper(s[:1]) + s[1:] },
	}

	for _, m := range moves {
		for _, va := range variants {
			for _, vb := range variants {
				result, err := internal.PlayTokens(va(m), vb(m))
				require.NoError(t, err)
				assert.True(t, result.Tie, "%s vs %s", va(m), vb(m))
				assert.Equal(t, internal.TieMessage, result.String())
			}
		}
	}
}

// TestPlay_WinnerByValue 無論哪個位置贏，都回報贏的出拳
func TestPlay_WinnerByValue(t *testing.T) {
	tests := []struct {
		first, second internal.Move
		winner        internal.Move
	}{
		{internal.Rock, internal.Scissors, internal.Rock},
		{internal.Scissors, internal.Rock, internal.Rock},
		{internal.Scissors, internal.Paper, internal.Scissors},
		{internal.Paper, internal.Scissors, internal.Scissors},
		{internal.Paper, internal.Rock, internal.Paper},
		{internal.Rock, internal.Paper, internal.Paper},
	}

	for _, tt := range tests {
		t.Run(string(tt.first)+"_vs_"+string(tt.second), func(t *testing.T) {
			result := internal.Play(tt.first, tt.second)
			assert.False(t, result.Tie)
			assert.Equal(t, tt.winner, result.Winner)
			assert.Equal(t, string(tt.winner)+" won this round", result.String())
		})
	}
}

// TestPlayTokens_CaseInsensitive 大小寫不影響結果
func TestPlayTokens_CaseInsensitive(t *testing.T) {
	upper, err := internal.PlayTokens("ROCK", "Scissors")
	require.NoError(t, err)
	lower, err := internal.PlayTokens("rock", "scissors")
	require.NoError(t, err)

	assert.Equal(t, lower, upper)
	assert.Equal(t, "rock won this round", upper.String())
}

// TestPlayTokens_Malformed 無效出拳明確失敗
func TestPlayTokens_Malformed(t *testing.T) {
	_, err := internal.PlayTokens("rock", "spock")
	assert.True(t, apperrors.IsMalformedInput(err))

	_, err = internal.PlayTokens("", "rock")
	assert.True(t, apperrors.IsMalformedInput(err))
}

// TestResult_OutcomeFor 每位玩家各自解讀同一個結果
func TestResult_OutcomeFor(t *testing.T) {
	result := internal.Play(internal.Rock, internal.Paper)

	assert.Equal(t, internal.OutcomeLose, result.OutcomeFor(internal.Rock))
	assert.Equal(t, internal.OutcomeWin, result.OutcomeFor(internal.Paper))

	tie := internal.Play(internal.Scissors, internal.Scissors)
	assert.Equal(t, internal.OutcomeTie, tie.OutcomeFor(internal.Scissors))
}

// TestBeats_Cyclic 克制關係為循環且反對稱
func TestBeats_Cyclic(t *testing.T) {
	all := []internal.Move{internal.Rock, internal.Paper, internal.Scissors}
	for _, a := range all {
		wins := 0
		for _, b := range all {
			if internal.Beats(a, b) {
				wins++
				assert.False(t, internal.Beats(b, a), "%s/%s", a, b)
			}
		}
		assert.Equal(t, 1, wins, "%s 應恰好克制一種出拳", a)
	}
}

func TestParseResult(t *testing.T) {
	for _, want := range []internal.Result{
		internal.Play(internal.Rock, internal.Rock),
		internal.Play(internal.Rock, internal.Paper),
		internal.Play(internal.Scissors, internal.Paper),
	} {
		got, err := internal.ParseResult(want.String())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	for _, bad := range []string{"", "you won", "lizard won this round"} {
		_, err := internal.ParseResult(bad)
		assert.True(t, apperrors.IsMalformedInput(err), "%q", bad)
	}
}
