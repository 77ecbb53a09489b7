package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeScore(t *testing.T) {
	tests := []struct {
		name string
		rm   float64
		fc   float64
		ux   float64
		want int
	}{
		{name: "all max", rm: 10, fc: 10, ux: 10, want: 100},
		{name: "all zero", rm: 0, fc: 0, ux: 0, want: 0},
		{name: "weighted", rm: 8, fc: 9, ux: 6, want: 80},
		{name: "rounding", rm: 7, fc: 8, ux: 9, want: 78},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ReviewResult{
				RequirementsMatch:      tt.rm,
				FunctionalCompleteness: tt.fc,
				UIUXReasonableness:     tt.ux,
			}
			r.ComputeScore()
			assert.Equal(t, tt.want, r.Score)
		})
	}
}

func TestEvaluateStrictPolicy(t *testing.T) {
	base := ReviewResult{
		RequirementsMatch:      9,
		FunctionalCompleteness: 9,
		UIUXReasonableness:     9,
		ReadyForUser:           true,
	}
	base.ComputeScore()

	ok := base
	assert.True(t, ok.Evaluate(80))

	notReady := base
	notReady.ReadyForUser = false
	assert.False(t, notReady.Evaluate(80))

	// スコアが閾値を満たしていても red flag が残っていれば不承認
	flagged := base
	flagged.ObviousRedFlags = []string{"broken save button"}
	assert.False(t, flagged.Evaluate(80))

	lowScore := base
	lowScore.RequirementsMatch = 2
	lowScore.ComputeScore()
	assert.False(t, lowScore.Evaluate(80))
}

func TestMergeLastWriterWins(t *testing.T) {
	a := FileSet{"index.html": "old", "style.css": "body{}"}
	b := FileSet{"index.html": "new", "app.js": "let x;"}

	merged := Merge(a, b)
	assert.Equal(t, "new", merged["index.html"])
	assert.Equal(t, "body{}", merged["style.css"])
	assert.Equal(t, "let x;", merged["app.js"])
	// 元のセットは変更されない
	assert.Equal(t, "old", a["index.html"])
}

func TestNormalizeAttachment(t *testing.T) {
	t.Run("missing content", func(t *testing.T) {
		_, err := NormalizeAttachment(Attachment{Name: "empty.txt"})
		require.Error(t, err)
	})

	t.Run("defaults", func(t *testing.T) {
		att, err := NormalizeAttachment(Attachment{Content: "aGVsbG8gd29ybGQ="})
		require.NoError(t, err)
		assert.Equal(t, "attachment", att.Name)
		assert.NotEmpty(t, att.Type)
	})

	t.Run("data url type", func(t *testing.T) {
		att, err := NormalizeAttachment(Attachment{Name: "shot.png", Content: "data:image/png;base64,iVBORw0KGgo="})
		require.NoError(t, err)
		assert.Equal(t, "image/png", att.Type)
		assert.True(t, att.IsImage())
		assert.Equal(t, "data:image/png;base64,iVBORw0KGgo=", att.DataURL())
	})

	t.Run("explicit type kept", func(t *testing.T) {
		att, err := NormalizeAttachment(Attachment{Name: "shot.png", Type: "image/png", Content: "iVBORw0KGgo="})
		require.NoError(t, err)
		assert.Equal(t, "data:image/png;base64,iVBORw0KGgo=", att.DataURL())
	})
}
