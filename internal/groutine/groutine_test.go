package groutine

import (
	"context"
	"runtime/pprof"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGo_NameAndLabel(t *testing.T) {
	done := make(chan struct{})
	var name, label string

	Go(nil, "radio-pump", func(ctx context.Context) {
		defer close(done)
		name = Name(ctx)
		label, _ = pprof.Label(ctx, labelKey)
	})
	<-done

	assert.Equal(t, "radio-pump", name)
	assert.Equal(t, "radio-pump", label)
}

func TestName_Empty(t *testing.T) {
	assert.Equal(t, "", Name(context.Background()))
	//nolint:staticcheck // nil context is part of the contract
	assert.Equal(t, "", Name(nil))
}

func TestGroup_Wait(t *testing.T) {
	var g Group
	var n atomic.Int32
	for i := 0; i < 5; i++ {
		g.Go(context.Background(), "worker", func(ctx context.Context) {
			n.Add(1)
		})
	}
	g.Wait()
	assert.EqualValues(t, 5, n.Load())
}
