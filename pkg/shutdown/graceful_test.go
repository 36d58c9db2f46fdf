package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeCloser struct {
	called bool
	err    error
}

func (f *fakeCloser) Shutdown(ctx context.Context) error {
	f.called = true
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("no deadline")
	}
	return f.err
}

func TestDrainCallsEveryCloser(t *testing.T) {
	a := &fakeCloser{err: errors.New("boom")}
	b := &fakeCloser{}

	Drain(zap.NewNop(), time.Second, a, b)

	assert.True(t, a.called)
	assert.True(t, b.called)
}

func TestWithSignalsCancelsWithParent(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	ctx, cancel := WithSignals(parent, zap.NewNop())
	defer cancel()

	cancelParent()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled")
	}
}
