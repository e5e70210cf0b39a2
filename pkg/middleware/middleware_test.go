package middleware

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testCtx struct {
	trace *[]string
}

func TestSortConfigs_DescendingStable(t *testing.T) {
	list := []Config[testCtx]{
		{Name: "a", Priority: 1},
		{Name: "b", Priority: 5},
		{Name: "c", Priority: 5},
		{Name: "d", Priority: 0},
	}
	sorted := SortConfigs(list)
	names := make([]string, len(sorted))
	for i, c := range sorted {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"b", "c", "a", "d"}, names)
}

func TestMergeConfigs_PreservesDescendingTiesFavorGlobal(t *testing.T) {
	global := SortConfigs([]Config[testCtx]{{Name: "g-high", Priority: 10}, {Name: "g-tie", Priority: 5}})
	handler := SortConfigs([]Config[testCtx]{{Name: "h-tie", Priority: 5}, {Name: "h-low", Priority: 1}})

	merged := MergeConfigs(global, handler)
	names := make([]string, len(merged))
	for i, c := range merged {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"g-high", "g-tie", "h-tie", "h-low"}, names)
}

func TestBuildPipeline_RunsInOrderThenHandler(t *testing.T) {
	var trace []string
	mws := []Config[testCtx]{
		{Name: "first", Priority: 10, Handler: func(ctx testCtx, next Next) error {
			*ctx.trace = append(*ctx.trace, "first")
			return next()
		}},
		{Name: "second", Priority: 1, Handler: func(ctx testCtx, next Next) error {
			*ctx.trace = append(*ctx.trace, "second")
			return next()
		}},
	}

	pipeline := BuildPipeline(Options[testCtx]{
		Middlewares: mws,
		ContextFactory: func(args ...any) (testCtx, error) {
			return testCtx{trace: &trace}, nil
		},
		Handler: func(ctx testCtx) error {
			*ctx.trace = append(*ctx.trace, "handler")
			return nil
		},
	})

	require.NoError(t, pipeline())
	assert.Equal(t, []string{"first", "second", "handler"}, trace)
}

func TestBuildPipeline_HaltsWhenMiddlewareDoesNotCallNext(t *testing.T) {
	var trace []string
	mws := []Config[testCtx]{
		{Name: "blocker", Priority: 0, Handler: func(ctx testCtx, next Next) error {
			*ctx.trace = append(*ctx.trace, "blocker")
			return nil
		}},
	}

	pipeline := BuildPipeline(Options[testCtx]{
		Middlewares: mws,
		ContextFactory: func(args ...any) (testCtx, error) {
			return testCtx{trace: &trace}, nil
		},
		Handler: func(ctx testCtx) error {
			*ctx.trace = append(*ctx.trace, "handler")
			return nil
		},
	})

	require.NoError(t, pipeline())
	assert.Equal(t, []string{"blocker"}, trace)
}

func TestBuildPipeline_NextIsIdempotent(t *testing.T) {
	var trace []string
	mws := []Config[testCtx]{
		{Name: "double-call", Priority: 0, Handler: func(ctx testCtx, next Next) error {
			_ = next()
			_ = next()
			return nil
		}},
	}

	pipeline := BuildPipeline(Options[testCtx]{
		Middlewares: mws,
		ContextFactory: func(args ...any) (testCtx, error) {
			return testCtx{trace: &trace}, nil
		},
		Handler: func(ctx testCtx) error {
			*ctx.trace = append(*ctx.trace, "handler")
			return nil
		},
	})

	require.NoError(t, pipeline())
	assert.Equal(t, []string{"handler"}, trace)
}

func TestBuildPipeline_ErrorCallsOnErrorAndReraises(t *testing.T) {
	wantErr := errors.New("boom")
	var gotErr error

	pipeline := BuildPipeline(Options[testCtx]{
		Middlewares: []Config[testCtx]{
			{Name: "failing", Priority: 0, Handler: func(ctx testCtx, next Next) error {
				return wantErr
			}},
		},
		ContextFactory: func(args ...any) (testCtx, error) {
			return testCtx{}, nil
		},
		Handler: func(ctx testCtx) error { return nil },
		OnError: func(ctx testCtx, err error) { gotErr = err },
	})

	err := pipeline()
	require.Error(t, err)
	assert.Equal(t, wantErr, err)
	assert.Equal(t, wantErr, gotErr)
}

func TestBuildPipeline_PanicRecoveredAndRoutedToOnError(t *testing.T) {
	var gotErr error

	pipeline := BuildPipeline(Options[testCtx]{
		Middlewares: []Config[testCtx]{
			{Name: "panics", Priority: 0, Handler: func(ctx testCtx, next Next) error {
				panic("kaboom")
			}},
		},
		ContextFactory: func(args ...any) (testCtx, error) {
			return testCtx{}, nil
		},
		Handler: func(ctx testCtx) error { return nil },
		OnError: func(ctx testCtx, err error) { gotErr = err },
	})

	err := pipeline()
	require.Error(t, err)
	assert.Same(t, gotErr, err)
}
