package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/printdesk/internal/common"
	"github.com/noah-isme/printdesk/internal/document"
	"github.com/noah-isme/printdesk/internal/events"
	"github.com/noah-isme/printdesk/internal/lock"
	"github.com/noah-isme/printdesk/internal/remote"
)

func newRedisStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewStore(StoreConfig{
		Repository: RedisRepository{Client: client, Prefix: "test:session:", TTL: time.Hour},
		Locker:     &lock.Redis{R: client, Prefix: "test:lock:", TTL: 5 * time.Second, RetryBackoff: 5 * time.Millisecond},
		Rate:       200,
		Currency:   "INR",
		Now:        func() time.Time { return fixedNow },
	})
	return store, mr
}

func TestRedisRepositoryRoundTripAndTTL(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	st, err := store.Create(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, st.ID)
	require.True(t, mr.Exists("test:session:"+st.ID))
	require.Equal(t, time.Hour, mr.TTL("test:session:"+st.ID))

	mr.FastForward(30 * time.Minute)
	_, err = store.Dispatch(ctx, st.ID, SetDocuments{Documents: sampleDocs()})
	require.NoError(t, err)
	require.Equal(t, time.Hour, mr.TTL("test:session:"+st.ID))

	loaded, err := store.Get(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Documents, 2)
	require.EqualValues(t, 1, loaded.Version)
}

func TestGetExpiredSessionIsUnauthorized(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()
	st, err := store.Create(ctx)
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)
	_, err = store.Get(ctx, st.ID)
	require.True(t, common.HasCode(err, common.CodeUnauthorized))

	_, err = store.Dispatch(ctx, st.ID, RecomputePrice{})
	require.True(t, common.HasCode(err, common.CodeUnauthorized))
}

func TestDispatchFailureLeavesStateUntouched(t *testing.T) {
	store := NewStore(StoreConfig{Rate: 200})
	ctx := context.Background()
	st, err := store.Create(ctx)
	require.NoError(t, err)

	_, err = store.Dispatch(ctx, st.ID, SelectMerchant{MerchantID: "nope"})
	require.True(t, common.HasCode(err, common.CodeValidation))

	loaded, err := store.Get(ctx, st.ID)
	require.NoError(t, err)
	require.Equal(t, st.Version, loaded.Version)
}

func TestDispatchRejectsNilAction(t *testing.T) {
	store := NewStore(StoreConfig{Rate: 200})
	ctx := context.Background()
	st, err := store.Create(ctx)
	require.NoError(t, err)

	_, err = store.Dispatch(ctx, st.ID, nil)
	require.True(t, common.HasCode(err, common.CodeValidation))

	loaded, err := store.Get(ctx, st.ID)
	require.NoError(t, err)
	require.Equal(t, st.Version, loaded.Version)
}

func TestObserversSeeChangesInDispatchOrder(t *testing.T) {
	store := NewStore(StoreConfig{Rate: 200})
	ctx := context.Background()
	st, err := store.Create(ctx)
	require.NoError(t, err)

	var names []string
	var versions []int64
	store.Subscribe(func(_ context.Context, c Change) {
		names = append(names, c.Action.Name())
		versions = append(versions, c.Next.Version)
		require.Equal(t, c.Prev.Version+1, c.Next.Version)
	})

	_, err = store.Dispatch(ctx, st.ID, SetDocuments{Documents: sampleDocs()})
	require.NoError(t, err)
	_, err = store.Dispatch(ctx, st.ID, RecomputePrice{})
	require.NoError(t, err)
	// already fresh, nothing to notify
	_, err = store.Dispatch(ctx, st.ID, RecomputePrice{})
	require.NoError(t, err)
	_, err = store.Dispatch(ctx, st.ID, Reset{})
	require.NoError(t, err)

	require.Equal(t, []string{"set_documents", "recompute_price", "reset"}, names)
	require.Equal(t, []int64{1, 2, 3}, versions)
}

func TestConcurrentDispatchIsSerialised(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()
	st, err := store.Create(ctx)
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			docs := []document.Document{{ID: fmt.Sprintf("doc-%d", i), PageCount: i + 1}}
			_, err := store.Dispatch(ctx, st.ID, SetDocuments{Documents: docs})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	loaded, err := store.Get(ctx, st.ID)
	require.NoError(t, err)
	require.EqualValues(t, workers, loaded.Version)
	require.Len(t, loaded.Documents, 1)
}

func TestEventObserverPublishesTopics(t *testing.T) {
	mem := &events.MemoryStore{}
	bus := &events.Bus{Store: mem}
	store := NewStore(StoreConfig{Rate: 200})
	store.Subscribe(EventObserver(bus))
	ctx := context.Background()
	st, err := store.Create(ctx)
	require.NoError(t, err)

	_, err = store.Dispatch(ctx, st.ID, Authenticate{User: remote.User{Username: "asha"}, Credential: "tok"})
	require.NoError(t, err)
	_, err = store.Dispatch(ctx, st.ID, SetDocuments{Documents: sampleDocs()})
	require.NoError(t, err)
	_, err = store.Dispatch(ctx, st.ID, RecomputePrice{})
	require.NoError(t, err)
	_, err = store.Dispatch(ctx, st.ID, SetMerchants{})
	require.NoError(t, err)
	_, err = store.Dispatch(ctx, st.ID, MerchantSignIn{Account: remote.MerchantAccount{ID: "3"}, Credential: "m-tok"})
	require.NoError(t, err)
	_, err = store.Dispatch(ctx, st.ID, MerchantSignOut{})
	require.NoError(t, err)

	var topics []string
	for _, ev := range mem.Events(st.ID) {
		topics = append(topics, ev.Topic)
	}
	require.Equal(t, []string{
		events.TopicSessionAuthenticated,
		events.TopicDocumentsReplaced,
		events.TopicPriceRecomputed,
		events.TopicMerchantSignedIn,
		events.TopicMerchantSignedOut,
	}, topics)
}

func TestDeleteRemovesSession(t *testing.T) {
	store := NewStore(StoreConfig{})
	ctx := context.Background()
	st, err := store.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, st.ID))
	_, err = store.Get(ctx, st.ID)
	require.ErrorIs(t, err, ErrNotFound)
}
