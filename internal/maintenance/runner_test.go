package maintenance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/life2you_mini/bridgesync/internal/alerts"
	"github.com/life2you_mini/bridgesync/internal/mocks"
)

func TestRunnerExecutesJobs(t *testing.T) {
	r := NewRunner(context.Background(), zaptest.NewLogger(t))

	var calls atomic.Int32
	_, err := r.Add("tick", "* * * * * *", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, err)
	_, err = r.Add("panics", "* * * * * *", func(ctx context.Context) error {
		panic("boom")
	})
	require.NoError(t, err)
	assert.Equal(t, 2, r.Entries())

	r.Start()
	require.Eventually(t, func() bool { return calls.Load() > 0 }, 3*time.Second, 20*time.Millisecond)
	r.Stop()
}

func TestRunnerRejectsBadSchedule(t *testing.T) {
	r := NewRunner(context.Background(), zaptest.NewLogger(t))
	_, err := r.Add("bad", "every day", func(ctx context.Context) error { return nil })
	assert.Error(t, err)
	// 不含秒的5段表达式同样无效
	_, err = r.Add("five", "30 3 * * *", func(ctx context.Context) error { return nil })
	assert.Error(t, err)
}

func TestAlertPruneJob(t *testing.T) {
	store := new(mocks.MockAlertStore)
	sink := alerts.NewSink(store, zaptest.NewLogger(t))
	store.On("PruneAlerts", mock.Anything, mock.AnythingOfType("time.Time")).Return(int64(3), nil).Once()
	store.On("PruneAlerts", mock.Anything, mock.Anything).Return(int64(0), errors.New("store down")).Once()

	job := AlertPruneJob(sink, 30*24*time.Hour)
	assert.NoError(t, job(context.Background()))
	assert.Error(t, job(context.Background()))
	store.AssertExpectations(t)
}
