package publisher

import "testing"

// TestSelectShard_KnownAssignments pins routing of existing deployments.
// Params: testing.T for assertions.
// Returns: none.
func TestSelectShard_KnownAssignments(t *testing.T) {
	cases := []struct {
		metric string
		size   int
		want   int
	}{
		{"a", 3, 2},
		{"a", 7, 6},
		{"cpu.load", 2, 1},
		{"cpu.load", 5, 4},
		{"sys.cpu.user.very.long.metric.name.overflowing", 3, 2},
		{"sys.cpu.user.very.long.metric.name.overflowing", 7, 1},
		{"disk.used", 5, 4},
		{"😀", 5, 1},
		{"", 5, 2},
	}

	for _, tc := range cases {
		if got := SelectShard(tc.metric, tc.size); got != tc.want {
			t.Fatalf("unexpected shard for %q size %d: got %d want %d", tc.metric, tc.size, got, tc.want)
		}
	}
}

// TestSelectShard_DeterministicAndInRange validates stability and bounds.
// Params: testing.T for assertions.
// Returns: none.
func TestSelectShard_DeterministicAndInRange(t *testing.T) {
	metrics := []string{"", "cpu", "mem.free", "ünïcødé.metric", "日本語", "😀.emoji", "x.y.z.w.v.u.t.s.r.q.p.o.n.m.l.k.j.i"}
	for _, metric := range metrics {
		for size := 1; size <= 9; size++ {
			first := SelectShard(metric, size)
			if first < 0 || first >= size {
				t.Fatalf("shard out of range for %q size %d: %d", metric, size, first)
			}
			for i := 0; i < 3; i++ {
				if again := SelectShard(metric, size); again != first {
					t.Fatalf("non-deterministic shard for %q: %d then %d", metric, first, again)
				}
			}
		}
		if got := SelectShard(metric, 1); got != 0 {
			t.Fatalf("single endpoint must map to 0, got %d", got)
		}
	}
}
