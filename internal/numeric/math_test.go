package numeric

import "testing"

func TestNextPow2(t *testing.T) {
	cases := map[int]int{0: 1, 1: 1, 2: 2, 3: 4, 1000: 1024, 1024: 1024, 1025: 2048}
	for in, want := range cases {
		if got := NextPow2(in); got != want {
			t.Fatalf("NextPow2(%d)=%d want %d", in, got, want)
		}
	}
}

func TestParseFrames(t *testing.T) {
	if n, err := ParseFrames("auto", 16384); err != nil || n != 16384 {
		t.Fatalf("auto: n=%d err=%v", n, err)
	}
	if n, err := ParseFrames(" 4096 ", 1); err != nil || n != 4096 {
		t.Fatalf("4096: n=%d err=%v", n, err)
	}
	for _, bad := range []string{"", "0", "-3", "many"} {
		if _, err := ParseFrames(bad, 1); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
