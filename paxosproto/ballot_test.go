package paxosproto

import "testing"

func TestBallotOrderingByDepthThenNumThenPid(t *testing.T) {
	cases := []struct {
		a, b Ballot
		less bool
	}{
		{Ballot{Depth: 0, Num: 5, Pid: 9}, Ballot{Depth: 1, Num: 0, Pid: 0}, true},
		{Ballot{Depth: 1, Num: 0, Pid: 9}, Ballot{Depth: 1, Num: 1, Pid: 0}, true},
		{Ballot{Depth: 1, Num: 2, Pid: 0}, Ballot{Depth: 1, Num: 2, Pid: 1}, true},
		{Ballot{Depth: 1, Num: 2, Pid: 1}, Ballot{Depth: 1, Num: 2, Pid: 0}, false},
		{Ballot{Depth: 1, Num: 2, Pid: 1}, Ballot{Depth: 1, Num: 2, Pid: 1}, false},
	}
	for _, c := range cases {
		if got := c.a.Less(c.b); got != c.less {
			t.Errorf("%v.Less(%v) = %v, want %v", c.a, c.b, got, c.less)
		}
	}
}

func TestBallotEqualAndComparisons(t *testing.T) {
	a := Ballot{Depth: 2, Num: 3, Pid: 1}
	b := Ballot{Depth: 2, Num: 3, Pid: 1}
	if !a.Equal(b) {
		t.Error("identical ballots should be Equal")
	}
	if !a.LessEqual(b) || !a.GreaterEqual(b) {
		t.Error("equal ballots should satisfy both LessEqual and GreaterEqual")
	}

	higher := Ballot{Depth: 2, Num: 4, Pid: 0}
	if !a.Less(higher) {
		t.Error("lower Num at same depth should be Less")
	}
	if !higher.GreaterEqual(a) {
		t.Error("higher Num at same depth should be GreaterEqual")
	}
}

func TestZeroBallotIsLowestAtItsDepth(t *testing.T) {
	z := Zero(5)
	if z.Depth != 5 || z.Num != 0 || z.Pid != 0 {
		t.Errorf("Zero(5) = %+v, want {5,0,0}", z)
	}
	higher := Ballot{Depth: 5, Num: 1, Pid: 0}
	if !z.Less(higher) {
		t.Error("Zero(depth) should be Less than any positive ballot at the same depth")
	}
}

func TestBallotString(t *testing.T) {
	b := Ballot{Depth: 1, Num: 2, Pid: 3}
	if got, want := b.String(), "(1,2,3)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
