// Package groutine starts named goroutines. Names are attached as pprof
// labels and stored in the context so log lines and profiles can tell the
// radio pump, command workers and script runners apart.
package groutine

import (
	"context"
	"runtime/pprof"
	"sync"
)

type ctxKey struct{}

const labelKey = "goroutine_name"

// Go runs fn in a new goroutine labelled with name. A nil parent uses
// context.Background().
func Go(parent context.Context, name string, fn func(ctx context.Context)) {
	if parent == nil {
		parent = context.Background()
	}
	go pprof.Do(parent, pprof.Labels(labelKey, name), func(ctx context.Context) {
		fn(context.WithValue(ctx, ctxKey{}, name))
	})
}

// Name returns the goroutine name stored by Go, or "".
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(ctxKey{}).(string)
	return s
}

// Group tracks named goroutines so their owner can wait for them on shutdown.
type Group struct {
	wg sync.WaitGroup
}

// Go starts fn like the package-level Go and tracks it in the group.
func (g *Group) Go(parent context.Context, name string, fn func(ctx context.Context)) {
	g.wg.Add(1)
	Go(parent, name, func(ctx context.Context) {
		defer g.wg.Done()
		fn(ctx)
	})
}

// Wait blocks until every goroutine started through the group has returned.
func (g *Group) Wait() {
	g.wg.Wait()
}
