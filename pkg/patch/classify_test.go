package patch

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	a, b, c := []byte("A"), []byte("B"), []byte("C")

	tests := []struct {
		name     string
		action   Action
		base     []byte
		incoming []byte
		current  []byte
		want     Classification
	}{
		{
			name: "new file", action: ActionWrite,
			base: nil, incoming: b, current: nil,
			want: Classification{Status: StatusApplied, Effect: EffectWrite},
		},
		{
			name: "untouched since last generation", action: ActionWrite,
			base: a, incoming: b, current: a,
			want: Classification{Status: StatusApplied, Effect: EffectWrite},
		},
		{
			name: "already up to date", action: ActionWrite,
			base: a, incoming: b, current: b,
			want: Classification{Status: StatusApplied, Effect: EffectNone, Noop: true},
		},
		{
			name: "all distinct", action: ActionWrite,
			base: a, incoming: b, current: c,
			want: Classification{Status: StatusConflict, Effect: EffectNone},
		},
		{
			name: "existing file without base", action: ActionWrite,
			base: nil, incoming: b, current: c,
			want: Classification{Status: StatusConflict, Effect: EffectNone},
		},
		{
			name: "delete untouched", action: ActionDelete,
			base: a, current: a,
			want: Classification{Status: StatusApplied, Effect: EffectDelete},
		},
		{
			name: "delete missing target", action: ActionDelete,
			base: a, current: nil,
			want: Classification{Status: StatusSkipped, Effect: EffectNone, Reason: ReasonMissingTarget},
		},
		{
			name: "delete modified target", action: ActionDelete,
			base: a, current: c,
			want: Classification{Status: StatusSkipped, Effect: EffectNone, Reason: ReasonModifiedTarget},
		},
		{
			name: "delete without base", action: ActionDelete,
			base: nil, current: c,
			want: Classification{Status: StatusSkipped, Effect: EffectNone, Reason: ReasonMissingBase},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.action, tt.base, tt.incoming, tt.current))
		})
	}
}

func TestSame_LargeContentsUseDigest(t *testing.T) {
	big := bytes.Repeat([]byte("x"), hashThreshold+10)
	other := append([]byte{}, big...)
	other[len(other)-1] = 'y'

	x := &content{data: big, exists: true}
	assert.True(t, same(x, &content{data: append([]byte{}, big...), exists: true}))
	assert.False(t, same(x, &content{data: other, exists: true}))
	assert.NotNil(t, x.digest, "digest is memoized after the first comparison")
}

func TestSummarize(t *testing.T) {
	s := Summarize([]Record{
		{Status: StatusApplied}, {Status: StatusApplied},
		{Status: StatusConflict}, {Status: StatusSkipped},
	})
	assert.Equal(t, Summary{Applied: 2, Conflicts: 1, Skipped: 1}, s)
}
