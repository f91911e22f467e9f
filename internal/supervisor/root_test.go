package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hlwatch/engine/internal/ingest"
	"github.com/hlwatch/engine/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// addressFeed records subscriptions per address.
type addressFeed struct {
	mu   sync.Mutex
	subs map[string][]*fakeSub
}

func (f *addressFeed) Subscribe(_ context.Context, address string, _ ingest.Handler) (ingest.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[string][]*fakeSub)
	}
	sub := newFakeSub()
	f.subs[address] = append(f.subs[address], sub)
	return sub, nil
}

func (f *addressFeed) all() map[string][]*fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]*fakeSub, len(f.subs))
	for k, v := range f.subs {
		out[k] = append([]*fakeSub(nil), v...)
	}
	return out
}

func TestRoot_NoAddresses(t *testing.T) {
	root := NewRoot(Deps{Feed: &addressFeed{}, Filter: &scriptedFilter{}}, fastTiming, time.Second)
	assert.ErrorIs(t, root.Run(context.Background(), nil), ErrNoAddresses)
}

func TestRoot_SupervisesEachAddressAndStops(t *testing.T) {
	feed := &addressFeed{}
	root := NewRoot(Deps{Feed: feed, Filter: &scriptedFilter{}}, fastTiming, time.Second)
	addresses := []string{"0xaaa", "0xbbb", "0xccc"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- root.Run(ctx, addresses) }()

	require.Eventually(t, func() bool {
		states := root.States()
		if len(states) != len(addresses) {
			return false
		}
		for _, st := range states {
			if st.State != store.StateRunning {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)

	subs := feed.all()
	for _, a := range addresses {
		require.Len(t, subs[a], 1, a)
	}

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("root did not stop")
	}

	for _, a := range addresses {
		assert.Equal(t, int32(1), subs[a][0].closes.Load(), a)
	}
	for _, st := range root.States() {
		assert.Equal(t, store.StateStopped, st.State)
	}
}

func TestRoot_OneAddressFailingLeavesOthersRunning(t *testing.T) {
	feed := &addressFeed{}
	root := NewRoot(Deps{Feed: feed, Filter: &scriptedFilter{}}, fastTiming, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go root.Run(ctx, []string{"0xaaa", "0xbbb"})

	require.Eventually(t, func() bool {
		subs := feed.all()
		return len(subs["0xaaa"]) == 1 && len(subs["0xbbb"]) == 1
	}, time.Second, 5*time.Millisecond)

	feed.all()["0xaaa"][0].terminate(assert.AnError)

	require.Eventually(t, func() bool { return len(feed.all()["0xaaa"]) == 2 }, time.Second, 5*time.Millisecond)
	assert.Len(t, feed.all()["0xbbb"], 1)
	assert.Equal(t, int32(0), feed.all()["0xbbb"][0].closes.Load())
}
