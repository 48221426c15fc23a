package imageop

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/imageop/internal/bitmap"
	"github.com/objectfs/imageop/pkg/errors"
)

func TestFuture_Complete(t *testing.T) {
	b := bitmap.New(image.NewRGBA(image.Rect(0, 0, 2, 2)))
	f := newFuture(context.Background(), nil)

	_, done, _ := f.Result()
	assert.False(t, done)

	assert.True(t, f.complete(b, nil))
	assert.False(t, f.complete(nil, errors.NewError(errors.ErrCodeComputeFailed, "late")))
	assert.Error(t, f.context().Err(), "completion releases the computation context")

	got, err := f.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, b, got)
	assert.False(t, f.Cancel())

	select {
	case <-f.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestFuture_EmptyResult(t *testing.T) {
	_, err := completedFuture(nil, nil).Get(context.Background())
	assert.Equal(t, errors.ErrCodeInternalError, errors.CodeOf(err))
}

func TestFuture_CancelCallback(t *testing.T) {
	calls := 0
	f := newFuture(context.Background(), func(*Future) { calls++ })

	assert.True(t, f.Cancel())
	assert.False(t, f.Cancel())
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, f.context().Err(), context.Canceled)

	_, err := f.GetTimeout(time.Second)
	assert.ErrorIs(t, err, errors.ErrCancelled)
}

func TestRetentionList(t *testing.T) {
	r := newRetention(100)
	a, b, c := &node{}, &node{}, &node{}

	assert.Empty(t, r.push(a, 40))
	assert.Empty(t, r.push(b, 40))
	assert.Equal(t, int64(80), r.size())

	evicted := r.push(c, 40)
	assert.Equal(t, []*node{a}, evicted)
	assert.Nil(t, a.retained)
	assert.Equal(t, 2, r.len())

	r.remove(b)
	assert.Nil(t, b.retained)
	assert.Equal(t, int64(40), r.size())

	huge := &node{}
	assert.Equal(t, []*node{huge}, r.push(huge, 101))
	assert.Nil(t, huge.retained)

	assert.Equal(t, []*node{c}, r.drain())
	assert.Zero(t, r.size())
	assert.False(t, newRetention(0).enabled())
}
