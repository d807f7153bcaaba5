package model

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexera/go-perplex/internal/ports"
	"github.com/lexera/go-perplex/internal/testutils"
)

func TestRegistry_LoadsOnceUnderConcurrency(t *testing.T) {
	var loads atomic.Int32
	shared := testutils.NewStubModel()
	reg, err := NewRegistry(func(context.Context) (ports.LanguageModel, error) {
		loads.Add(1)
		time.Sleep(20 * time.Millisecond)
		return shared, nil
	})
	require.NoError(t, err)

	const callers = 16
	models := make([]ports.LanguageModel, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			models[i], errs[i] = reg.Get(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, shared, models[i])
	}
	assert.Equal(t, int32(1), loads.Load(), "concurrent callers must share one load")
	assert.Equal(t, StateReady, reg.State())
}

func TestRegistry_FailedLoadResetsAndAllowsRetry(t *testing.T) {
	var loads atomic.Int32
	bootErr := errors.New("model file missing")
	reg, err := NewRegistry(func(context.Context) (ports.LanguageModel, error) {
		if loads.Add(1) == 1 {
			return nil, bootErr
		}
		return testutils.NewStubModel(), nil
	})
	require.NoError(t, err)

	_, err = reg.Get(context.Background())
	require.ErrorIs(t, err, bootErr)
	assert.Equal(t, StateUnloaded, reg.State())

	m, err := reg.Get(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, m)
	assert.Equal(t, StateReady, reg.State())
	assert.Equal(t, int32(2), loads.Load())
}

func TestRegistry_WaiterCancellationDoesNotAbortLoad(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	reg, err := NewRegistry(func(context.Context) (ports.LanguageModel, error) {
		close(started)
		<-release
		return testutils.NewStubModel(), nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := reg.Get(ctx)
		errCh <- err
	}()

	<-started
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	close(release)

	m, err := reg.Get(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, m, "the abandoned load must still settle for later callers")
}

func TestRegistry_GetAfterReadyDoesNotReload(t *testing.T) {
	var loads atomic.Int32
	reg, err := NewRegistry(func(context.Context) (ports.LanguageModel, error) {
		loads.Add(1)
		return testutils.NewStubModel(), nil
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := reg.Get(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), loads.Load())
}

func TestRegistry_RequiresLoader(t *testing.T) {
	_, err := NewRegistry(nil)
	assert.Error(t, err)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "unloaded", StateUnloaded.String())
	assert.Equal(t, "loading", StateLoading.String())
	assert.Equal(t, "ready", StateReady.String())
}
