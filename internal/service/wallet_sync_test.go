package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpluis/flipance-sub000/internal/model"
)

type fakeTokenSource struct {
	tokens map[string][]string
	err    error
}

func (f *fakeTokenSource) GetUserTokens(_ context.Context, address string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tokens[address], nil
}

type fakeWatcherStore struct {
	mu       sync.Mutex
	watchers []*model.Watcher
	updated  map[int64]model.StringList
	calls    int
}

func (f *fakeWatcherStore) GetAll(_ context.Context) ([]*model.Watcher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.watchers, nil
}

func (f *fakeWatcherStore) SetTokens(_ context.Context, id int64, tokens model.StringList) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updated == nil {
		f.updated = make(map[int64]model.StringList)
	}
	f.updated[id] = tokens
	return nil
}

type fakeTargets struct {
	mu       sync.Mutex
	replaced [][]string
}

func (f *fakeTargets) Replace(collections []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaced = append(f.replaced, collections)
}

func (f *fakeTargets) last() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replaced) == 0 {
		return nil
	}
	return f.replaced[len(f.replaced)-1]
}

// TestSyncOnce_UnionsCollections 集合订阅地址与钱包持仓并集灌给轮询器
func TestSyncOnce_UnionsCollections(t *testing.T) {
	tokens := &fakeTokenSource{tokens: map[string][]string{
		"0xwallet": {"0xAAA/1", "0xAAA/2", "0xBBB/7"},
	}}
	store := &fakeWatcherStore{watchers: []*model.Watcher{
		{ID: 1, Type: model.WatcherTypeCollection, Address: "0xCCC"},
		{ID: 2, Type: model.WatcherTypeWallet, Address: "0xwallet"},
	}}
	targets := &fakeTargets{}
	s := NewWalletSyncService(tokens, store, targets, &WalletSyncConfig{})

	s.SyncOnce(context.Background())

	assert.Equal(t, []string{"0xaaa", "0xbbb", "0xccc"}, targets.last())
	assert.Equal(t, model.StringList{"0xAAA/1", "0xAAA/2", "0xBBB/7"}, store.updated[2])
}

// TestSyncOnce_WalletFailureKeepsPreviousTokens 查询失败沿用上一轮持仓
func TestSyncOnce_WalletFailureKeepsPreviousTokens(t *testing.T) {
	tokens := &fakeTokenSource{err: errors.New("api down")}
	store := &fakeWatcherStore{watchers: []*model.Watcher{
		{ID: 1, Type: model.WatcherTypeWallet, Address: "0xwallet",
			Tokens: model.StringList{"0xAAA/1"}},
	}}
	targets := &fakeTargets{}
	s := NewWalletSyncService(tokens, store, targets, &WalletSyncConfig{})

	s.SyncOnce(context.Background())

	assert.Equal(t, []string{"0xaaa"}, targets.last())
	// 失败的钱包不回写
	assert.Empty(t, store.updated)
}

// TestWalletSync_StartStop 启动即跑一轮，启停幂等
func TestWalletSync_StartStop(t *testing.T) {
	store := &fakeWatcherStore{}
	targets := &fakeTargets{}
	s := NewWalletSyncService(&fakeTokenSource{}, store, targets,
		&WalletSyncConfig{Interval: time.Hour})

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.ErrorIs(t, s.Start(context.Background()), ErrWalletSyncAlreadyRunning)

	assert.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.calls >= 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.ErrorIs(t, s.Stop(), ErrWalletSyncNotRunning)
}
