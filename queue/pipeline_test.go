package queue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDequeuePushPopOrdering(t *testing.T) {
	d := newDequeue()
	d.PushBack(&residency{seqID: 1})
	d.PushBack(&residency{seqID: 2})
	d.PushFront(&residency{seqID: 0})

	require.Equal(t, 3, d.Len())
	require.Equal(t, uint64(0), d.Front().seqID)
	require.Equal(t, uint64(2), d.Back().seqID)

	require.Equal(t, uint64(0), d.PopFront().seqID)
	require.Equal(t, uint64(2), d.PopBack().seqID)
	require.Equal(t, 1, d.Len())
}

func TestDequeuePopEmptyReturnsNil(t *testing.T) {
	d := newDequeue()
	require.Nil(t, d.PopFront())
	require.Nil(t, d.PopBack())
	require.Nil(t, d.Front())
	require.Nil(t, d.Back())
}

func TestDequeueTracksIndexOnDiskCount(t *testing.T) {
	d := newDequeue()
	d.PushBack(&residency{seqID: 1, indexOnDisk: true})
	d.PushBack(&residency{seqID: 2})
	require.Equal(t, 1, d.indexOnDiskCount)

	d.PopFront()
	require.Equal(t, 0, d.indexOnDiskCount)
}

func TestPipelinePublishTargetPrefersQ4UntilQ3Drains(t *testing.T) {
	p := newPipeline()
	require.Same(t, p.q4, p.publishTarget())

	p.q3.PushBack(&residency{seqID: 1})
	require.Same(t, p.q1, p.publishTarget())
}

func TestPipelineEmptyMirrorsQ3AndQ4(t *testing.T) {
	p := newPipeline()
	require.True(t, p.empty())

	p.q2.PushBack(&residency{seqID: 1})
	p.delta = delta{start: 0, end: 1, count: 1}
	require.True(t, p.empty(), "q2/delta content alone doesn't make the queue non-empty by invariant 4")

	p.q4.PushBack(&residency{seqID: 2})
	require.False(t, p.empty())
}

func TestPipelineAllConcatenatesInFetchOrder(t *testing.T) {
	p := newPipeline()
	p.q1.PushBack(&residency{seqID: 4})
	p.q2.PushBack(&residency{seqID: 3})
	p.q3.PushBack(&residency{seqID: 2})
	p.q4.PushBack(&residency{seqID: 1})

	all := p.all()
	require.Len(t, all, 4)
	for i, r := range all {
		require.Equal(t, uint64(i+1), r.seqID)
	}
}

func TestResidencyValidateAllowsEmptyInRAMBody(t *testing.T) {
	r := &residency{seqID: 1}
	require.NoError(t, r.validate(), "a nil body is legal for an in-RAM record")

	r.msgOnDisk = true
	require.NoError(t, r.validate())

	r.msgOnDisk = false
	r.body = []byte("x")
	require.NoError(t, r.validate())

	r.msgOnDisk = false
	r.indexOnDisk = true
	require.Error(t, r.validate(), "index_on_disk without msg_on_disk")
}
