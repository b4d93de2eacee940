package eqa

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShardBounds(t *testing.T) {
	cases := []struct {
		name       string
		index      int
		count, n   int
		start, end int
	}{
		{"first of three", 0, 3, 100, 0, 33},
		{"middle of three", 1, 3, 100, 33, 66},
		{"last of three covers the remainder", 2, 3, 100, 66, 100},
		{"single shard", 0, 1, 7, 0, 7},
		{"more shards than questions", 3, 8, 4, 1, 2},
		{"empty question set", 0, 2, 0, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			start, end := ShardBounds(tc.index, tc.count, tc.n)
			assert.Equal(t, tc.start, start)
			assert.Equal(t, tc.end, end)
		})
	}
}

func TestShardBounds_UnionCoversAllQuestions(t *testing.T) {
	for _, n := range []int{1, 10, 99, 100, 101, 1000} {
		for _, count := range []int{1, 2, 3, 4, 7} {
			covered := make([]bool, n)
			prevEnd := 0
			for i := 0; i < count; i++ {
				start, end := ShardBounds(i, count, n)
				assert.Equal(t, prevEnd, start, "n=%d count=%d shard=%d", n, count, i)
				for q := start; q < end; q++ {
					covered[q] = true
				}
				prevEnd = end
			}
			assert.Equal(t, n, prevEnd, "n=%d count=%d", n, count)
			for q, ok := range covered {
				assert.True(t, ok, "question %d uncovered with n=%d count=%d", q, n, count)
			}
		}
	}
}

func TestCheckpointFileName(t *testing.T) {
	assert.Equal(t, "results_0_5.json", CheckpointFileName("0", 5))
	assert.Equal(t, "results_3_120.json", CheckpointFileName("3", 120))
}
