package dedup

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func rounds(n int) []Round {
	rs := make([]Round, n)
	for i := range rs {
		rs[i] = Round{Seq: i, Duration: 300, Winner: "Red", RedScore: int64(i + 1), RedKills: 20, BlueKills: 15, RedDmg: 6000, BlueDmg: 5000, RedUbers: 2, BlueUbers: 1}
	}
	return rs
}

func TestFingerprint(t *testing.T) {
	_, ok := Fingerprint(nil)
	assert.False(t, ok, "no rounds means no fingerprint")

	a, ok := Fingerprint(rounds(3))
	assert.True(t, ok)
	b, _ := Fingerprint(rounds(3))
	assert.Equal(t, a, b)

	changed := rounds(3)
	changed[2].BlueUbers++
	c, _ := Fingerprint(changed)
	assert.NotEqual(t, a, c)

	fewer, _ := Fingerprint(rounds(2))
	assert.NotEqual(t, a, fewer)

	// Winner strings must not bleed into the next field
	x := []Round{{Winner: "Red", RedScore: 1}}
	y := []Round{{Winner: "Re", RedScore: 1}}
	hx, _ := Fingerprint(x)
	hy, _ := Fingerprint(y)
	assert.NotEqual(t, hx, hy)
}

func TestFindDuplicates(t *testing.T) {
	const hour = 60 * 60
	tests := []struct {
		name  string
		cands []Candidate
		want  []Link
	}{
		{
			name: "one hour apart makes exactly one link, lower to higher",
			cands: []Candidate{
				{ID: 10, Time: 1000, Hash: 7, Staged: true},
				{ID: 11, Time: 1000 + hour, Hash: 7, Staged: true},
			},
			want: []Link{{Log: 10, Of: 11, LogStaged: true}},
		},
		{
			name: "outside the window",
			cands: []Candidate{
				{ID: 10, Time: 0, Hash: 7, Staged: true},
				{ID: 11, Time: Window + 1, Hash: 7, Staged: true},
			},
		},
		{
			name: "different fingerprints",
			cands: []Candidate{
				{ID: 10, Time: 0, Hash: 7, Staged: true},
				{ID: 11, Time: 0, Hash: 8, Staged: true},
			},
		},
		{
			name: "every earlier upload points at the highest",
			cands: []Candidate{
				{ID: 3, Time: 0, Hash: 1, Staged: true},
				{ID: 5, Time: 10, Hash: 1, Staged: true},
				{ID: 9, Time: 20, Hash: 1, Staged: true},
			},
			want: []Link{
				{Log: 3, Of: 9, LogStaged: true},
				{Log: 5, Of: 9, LogStaged: true},
			},
		},
		{
			name: "committed earlier log",
			cands: []Candidate{
				{ID: 4, Time: 0, Hash: 1},
				{ID: 8, Time: 100, Hash: 1, Staged: true},
			},
			want: []Link{{Log: 4, Of: 8}},
		},
		{
			name: "pairs of committed logs are settled",
			cands: []Candidate{
				{ID: 1, Time: 0, Hash: 1},
				{ID: 2, Time: 0, Hash: 1},
				{ID: 3, Time: 0, Hash: 1, Staged: true},
			},
			want: []Link{
				{Log: 1, Of: 3},
				{Log: 2, Of: 3},
			},
		},
		{
			name: "highest in window, not highest overall",
			cands: []Candidate{
				{ID: 1, Time: 0, Hash: 1, Staged: true},
				{ID: 2, Time: 100, Hash: 1, Staged: true},
				{ID: 3, Time: 3 * Window, Hash: 1, Staged: true},
			},
			want: []Link{{Log: 1, Of: 2, LogStaged: true}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FindDuplicates(tt.cands)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("FindDuplicates() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFilter_Prefilter(t *testing.T) {
	f := NewFilter(0, nil)
	assert.False(t, f.MayContain(42))
	f.Remember(42, -42)
	assert.True(t, f.MayContain(42))
	assert.True(t, f.MayContain(-42))
}

func TestFilter_Trusted(t *testing.T) {
	f := NewFilter(0, nil)
	assert.False(t, f.Trusted(1<<40), "an unseeded filter proves nothing")

	f.seeded, f.floor = true, 1_000_000
	assert.True(t, f.Trusted(1_000_000+Window+1))
	assert.False(t, f.Trusted(1_000_000+Window), "a twin could sit at the floor")
	assert.False(t, f.Trusted(10), "logs older than the seeded range need the lookup")
}
