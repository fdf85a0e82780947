package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
)

// testOrderedLog exercises the behavior every backend must share.
func testOrderedLog(t *testing.T, log core.OrderedLog) {
	t.Helper()
	ctx := context.Background()

	t.Run("sequence starts at one and increases", func(t *testing.T) {
		topic, err := log.CreateTopic(ctx, "eval-1")
		require.NoError(t, err)
		require.NotEmpty(t, topic)

		for i := 1; i <= 3; i++ {
			seq, err := log.Publish(ctx, topic, []byte(fmt.Sprintf("m%d", i)))
			require.NoError(t, err)
			assert.Equal(t, int64(i), seq)
		}

		entries, err := log.ReadFrom(ctx, topic, 0)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		for i, e := range entries {
			assert.Equal(t, topic, e.TopicID)
			assert.Equal(t, int64(i+1), e.SequenceNumber)
			assert.Equal(t, fmt.Sprintf("m%d", i+1), string(e.Payload))
			assert.False(t, e.ConsensusTimestamp.IsZero())
		}
	})

	t.Run("read after sequence", func(t *testing.T) {
		topic, err := log.CreateTopic(ctx, "")
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			_, err := log.Publish(ctx, topic, []byte{byte('a' + i)})
			require.NoError(t, err)
		}

		entries, err := log.ReadFrom(ctx, topic, 3)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, int64(4), entries[0].SequenceNumber)
		assert.Equal(t, "e", string(entries[1].Payload))

		entries, err = log.ReadFrom(ctx, topic, 5)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("topics are independent", func(t *testing.T) {
		a, err := log.CreateTopic(ctx, "a")
		require.NoError(t, err)
		b, err := log.CreateTopic(ctx, "b")
		require.NoError(t, err)
		assert.NotEqual(t, a, b)

		_, err = log.Publish(ctx, a, []byte("x"))
		require.NoError(t, err)
		seq, err := log.Publish(ctx, b, []byte("y"))
		require.NoError(t, err)
		assert.Equal(t, int64(1), seq)
	})

	t.Run("unknown topic", func(t *testing.T) {
		_, err := log.Publish(ctx, "missing", []byte("x"))
		require.Error(t, err)
		assert.Equal(t, core.CodeTopicNotFound, core.GetCode(err))
		assert.True(t, core.IsCategory(err, core.ErrCatNotFound))

		_, err = log.ReadFrom(ctx, "missing", 0)
		require.Error(t, err)
		assert.Equal(t, core.CodeTopicNotFound, core.GetCode(err))
	})

	t.Run("concurrent publishers get unique sequences", func(t *testing.T) {
		topic, err := log.CreateTopic(ctx, "")
		require.NoError(t, err)

		const n = 20
		var wg sync.WaitGroup
		seqs := make(chan int64, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				seq, err := log.Publish(ctx, topic, []byte(fmt.Sprintf("%d", i)))
				if err == nil {
					seqs <- seq
				}
			}(i)
		}
		wg.Wait()
		close(seqs)

		seen := make(map[int64]bool)
		for s := range seqs {
			assert.False(t, seen[s], "duplicate sequence %d", s)
			seen[s] = true
		}
		assert.Len(t, seen, n)
		for i := int64(1); i <= n; i++ {
			assert.True(t, seen[i], "missing sequence %d", i)
		}
	})
}
