package types

import "testing"

func TestIntervalContains(t *testing.T) {
	iv := Interval{Start: 100, End: 160}

	cases := []struct {
		t    int64
		want bool
	}{
		{99, false},
		{100, true},
		{159, true},
		{160, false},
	}

	for _, c := range cases {
		if got := iv.Contains(c.t); got != c.want {
			t.Errorf("Contains(%d) = %v, want %v", c.t, got, c.want)
		}
	}
}
