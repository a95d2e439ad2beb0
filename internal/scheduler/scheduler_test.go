package scheduler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"github.com/evetabi/lendpool/internal/config"
	"github.com/evetabi/lendpool/internal/scheduler"
	"github.com/evetabi/lendpool/internal/service"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeOracle struct {
	pull      bool
	refreshes int64
}

func (f *fakeOracle) PullEnabled() bool { return f.pull }
func (f *fakeOracle) Refresh(context.Context) error {
	atomic.AddInt64(&f.refreshes, 1)
	return errors.New("source down")
}

type fakeDispatcher struct {
	gateway  bool
	batches  int64
	backlogs int64
	claimed  int // per batch, until drained
	drainAt  int64
}

func (f *fakeDispatcher) GatewayEnabled() bool { return f.gateway }
func (f *fakeDispatcher) DispatchBatch(context.Context) (service.DispatchStats, error) {
	n := atomic.AddInt64(&f.batches, 1)
	if n >= f.drainAt {
		return service.DispatchStats{}, nil
	}
	return service.DispatchStats{Claimed: f.claimed, Sent: f.claimed}, nil
}
func (f *fakeDispatcher) RefreshBacklog(context.Context) { atomic.AddInt64(&f.backlogs, 1) }

type panickyScanner struct{ scans int64 }

func (p *panickyScanner) Scan(context.Context) (*service.RiskReport, error) {
	if atomic.AddInt64(&p.scans, 1) == 1 {
		panic("boom")
	}
	return &service.RiskReport{}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Oracle:   config.OracleConfig{RefreshInterval: 10 * time.Millisecond},
		Transfer: config.TransferConfig{DispatchInterval: 10 * time.Millisecond, BatchSize: 5},
		Risk:     config.RiskConfig{ScanInterval: 10 * time.Millisecond},
	}
}

func TestScheduler_RunsLoopsAndStops(t *testing.T) {
	oracle := &fakeOracle{pull: true}
	disp := &fakeDispatcher{gateway: true, claimed: 5, drainAt: 3}
	risk := &panickyScanner{}

	ctx, cancel := context.WithCancel(context.Background())
	s := scheduler.NewScheduler(oracle, disp, risk, testConfig(), nil)
	s.Start(ctx)

	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&oracle.refreshes) >= 2 &&
			atomic.LoadInt64(&disp.batches) >= 3 &&
			atomic.LoadInt64(&risk.scans) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	s.Wait()
}

func TestScheduler_FullBatchesDrainInOneTick(t *testing.T) {
	disp := &fakeDispatcher{gateway: true, claimed: 5, drainAt: 4}
	cfg := testConfig()
	cfg.Transfer.DispatchInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	s := scheduler.NewScheduler(nil, disp, nil, cfg, nil)
	s.Start(ctx)

	assert.Eventually(t, func() bool { return atomic.LoadInt64(&disp.batches) == 4 },
		time.Second, 5*time.Millisecond)
	cancel()
	s.Wait()
	assert.Equal(t, int64(4), atomic.LoadInt64(&disp.batches))
}

func TestScheduler_NoGatewayOnlyRefreshesBacklog(t *testing.T) {
	disp := &fakeDispatcher{gateway: false}
	oracle := &fakeOracle{pull: false}

	ctx, cancel := context.WithCancel(context.Background())
	s := scheduler.NewScheduler(oracle, disp, nil, testConfig(), nil)
	s.Start(ctx)

	assert.Eventually(t, func() bool { return atomic.LoadInt64(&disp.backlogs) >= 2 },
		time.Second, 5*time.Millisecond)
	cancel()
	s.Wait()

	assert.Zero(t, atomic.LoadInt64(&disp.batches))
	assert.Zero(t, atomic.LoadInt64(&oracle.refreshes), "push-only oracle must not be polled")
}
