package redistier_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/sessions/redistier"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func unreachableClient(t *testing.T) redis.UniversalClient {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestKeyLayout(t *testing.T) {
	tier := redistier.New(unreachableClient(t), "", "0901234567")
	require.Equal(t, sessions.DurableTier, tier.Name())
	require.Equal(t, "klb:session:0901234567", tier.Key())
	require.Equal(t, "klb:session:changed:0901234567", tier.Channel())

	custom := redistier.New(unreachableClient(t), "bank:", "p1")
	require.Equal(t, "bank:p1", custom.Key())
}

func TestErrorsAreSurfaced(t *testing.T) {
	ctx := context.Background()
	tier := redistier.New(unreachableClient(t), "", "p1")

	_, err := tier.Read(ctx)
	require.Error(t, err)
	require.Error(t, tier.Write(ctx, map[string]string{sessions.KeyAccessToken: "a"}))
	require.Error(t, tier.Clear(ctx))
	require.Error(t, tier.Watch(ctx, func() {}))
}

var record = map[string]string{
	sessions.KeyAccessToken:  "header.payload.sig",
	sessions.KeyRefreshToken: "r1",
	sessions.KeyUserInfo:     `{"username":"0901234567","roles":["ADMIN"]}`,
}

func localClient(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestWriteReadClear(t *testing.T) {
	ctx := context.Background()
	mr, client := localClient(t)
	tier := redistier.New(client, "", "p1")

	values, err := tier.Read(ctx)
	require.NoError(t, err)
	require.Empty(t, values)

	require.NoError(t, tier.Write(ctx, record))
	values, err = tier.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, record, values)
	require.Equal(t, "r1", mr.HGet(tier.Key(), sessions.KeyRefreshToken))

	require.NoError(t, tier.Clear(ctx))
	require.False(t, mr.Exists(tier.Key()))
	values, err = tier.Read(ctx)
	require.NoError(t, err)
	require.Empty(t, values)
}

func TestWriteReplacesWholeRecord(t *testing.T) {
	ctx := context.Background()
	_, client := localClient(t)
	tier := redistier.New(client, "", "p1")

	require.NoError(t, tier.Write(ctx, record))
	require.NoError(t, tier.Write(ctx, map[string]string{
		sessions.KeyAccessToken: "other.token.sig",
		sessions.KeyUserInfo:    `{"username":"0907654321"}`,
		"unrelated":             "ignored",
	}))

	values, err := tier.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		sessions.KeyAccessToken: "other.token.sig",
		sessions.KeyUserInfo:    `{"username":"0907654321"}`,
	}, values)
}

func TestProfilesDoNotShareRecords(t *testing.T) {
	ctx := context.Background()
	_, client := localClient(t)
	first := redistier.New(client, "", "p1")
	second := redistier.New(client, "", "p2")

	require.NoError(t, first.Write(ctx, record))
	values, err := second.Read(ctx)
	require.NoError(t, err)
	require.Empty(t, values)
}

func waitForNotice(t *testing.T, changed <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatalf("no change notification after %s", what)
	}
}

func TestWatchSeesWritesFromAnotherProcess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, client := localClient(t)
	observer := redistier.New(client, "", "p1")
	writer := redistier.New(client, "", "p1")

	changed := make(chan struct{}, 16)
	require.NoError(t, observer.Watch(ctx, func() { changed <- struct{}{} }))

	require.NoError(t, writer.Write(ctx, record))
	waitForNotice(t, changed, "write")
	require.NoError(t, writer.Clear(ctx))
	waitForNotice(t, changed, "clear")
}

func TestHubDispatchesByProfile(t *testing.T) {
	ctx := context.Background()
	_, client := localClient(t)
	hub := redistier.NewHub(client, "")
	defer hub.Close()
	require.Equal(t, "klb:session:changed:*", hub.Pattern())

	first := hub.Tier("p1")
	second := hub.Tier("p2")
	firstCtx, stopFirst := context.WithCancel(ctx)
	secondCtx, stopSecond := context.WithCancel(ctx)
	defer stopSecond()

	firstChanged := make(chan struct{}, 16)
	secondChanged := make(chan struct{}, 16)
	require.NoError(t, first.Watch(firstCtx, func() { firstChanged <- struct{}{} }))
	require.NoError(t, second.Watch(secondCtx, func() { secondChanged <- struct{}{} }))
	require.Equal(t, 2, hub.Watching())

	require.NoError(t, redistier.New(client, "", "p2").Write(ctx, record))
	waitForNotice(t, secondChanged, "write")
	require.Empty(t, firstChanged)

	stopFirst()
	require.Eventually(t, func() bool { return hub.Watching() == 1 }, time.Second, 10*time.Millisecond)
}
