package filetier_test

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/jrsteele09/go-auth-session/sessions/filetier"
	"github.com/stretchr/testify/require"
)

var record = map[string]string{
	sessions.KeyAccessToken:  "header.payload.sig",
	sessions.KeyRefreshToken: "r1",
	sessions.KeyUserInfo:     `{"username":"0901234567","roles":["ADMIN"]}`,
}

func TestWriteReadClear(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "profile", "session.json")
	tier, err := filetier.New(path)
	require.NoError(t, err)
	require.Equal(t, sessions.DurableTier, tier.Name())

	values, err := tier.Read(ctx)
	require.NoError(t, err)
	require.Empty(t, values)

	require.NoError(t, tier.Write(ctx, record))
	values, err = tier.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, record, values)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, tier.Clear(ctx))
	require.NoError(t, tier.Clear(ctx))
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestWriteReplacesWholeRecord(t *testing.T) {
	ctx := context.Background()
	tier, err := filetier.New(filepath.Join(t.TempDir(), "session.json"))
	require.NoError(t, err)

	require.NoError(t, tier.Write(ctx, record))
	require.NoError(t, tier.Write(ctx, map[string]string{
		sessions.KeyAccessToken: "other.token.sig",
		sessions.KeyUserInfo:    `{"username":"0907654321"}`,
		"unrelated":             "ignored",
	}))

	values, err := tier.Read(ctx)
	require.NoError(t, err)
	require.NotContains(t, values, sessions.KeyRefreshToken)
	require.NotContains(t, values, "unrelated")
	require.Equal(t, "other.token.sig", values[sessions.KeyAccessToken])
}

func TestEncryptedAtRest(t *testing.T) {
	ctx := context.Background()
	key, err := filetier.ParseKey(strings.Repeat("ab", 32))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "session.json")
	tier, err := filetier.New(path, filetier.WithKey(key))
	require.NoError(t, err)
	require.NoError(t, tier.Write(ctx, record))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "header.payload.sig")

	values, err := tier.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, record, values)

	otherKey, err := filetier.ParseKey(hex.EncodeToString(make([]byte, 32)))
	require.NoError(t, err)
	wrong, err := filetier.New(path, filetier.WithKey(otherKey))
	require.NoError(t, err)
	_, err = wrong.Read(ctx)
	require.Error(t, err)
}

func TestParseKeyRejectsBadKeys(t *testing.T) {
	_, err := filetier.ParseKey("zz")
	require.Error(t, err)
	_, err = filetier.ParseKey("abcd")
	require.Error(t, err)
}

func TestReadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))
	tier, err := filetier.New(path)
	require.NoError(t, err)

	_, err = tier.Read(context.Background())
	require.Error(t, err)
}

func TestWatchSeesWritesFromAnotherTier(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "session.json")
	observer, err := filetier.New(path)
	require.NoError(t, err)
	writer, err := filetier.New(path)
	require.NoError(t, err)

	changed := make(chan struct{}, 16)
	require.NoError(t, observer.Watch(ctx, func() { changed <- struct{}{} }))

	require.NoError(t, writer.Write(ctx, record))
	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification after write")
	}

	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "unrelated.txt"), []byte("x"), 0o600))
	require.NoError(t, writer.Clear(ctx))
	require.Eventually(t, func() bool {
		values, err := observer.Read(ctx)
		return err == nil && len(values) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDirSharesOneWatcherAcrossRecords(t *testing.T) {
	ctx := context.Background()
	dir, err := filetier.NewDir(t.TempDir())
	require.NoError(t, err)
	defer dir.Close()

	first, err := dir.Tier("p1")
	require.NoError(t, err)
	second, err := dir.Tier("p2")
	require.NoError(t, err)

	firstCtx, stopFirst := context.WithCancel(ctx)
	secondCtx, stopSecond := context.WithCancel(ctx)
	defer stopSecond()

	firstChanged := make(chan struct{}, 16)
	secondChanged := make(chan struct{}, 16)
	require.NoError(t, first.Watch(firstCtx, func() { firstChanged <- struct{}{} }))
	require.NoError(t, second.Watch(secondCtx, func() { secondChanged <- struct{}{} }))
	require.Equal(t, 2, dir.Watching())

	require.NoError(t, second.Write(ctx, record))
	select {
	case <-secondChanged:
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification for the written record")
	}
	require.Empty(t, firstChanged)

	stopFirst()
	require.Eventually(t, func() bool { return dir.Watching() == 1 }, time.Second, 10*time.Millisecond)
}

func TestDirRejectsPathNames(t *testing.T) {
	dir, err := filetier.NewDir(t.TempDir())
	require.NoError(t, err)
	defer dir.Close()

	_, err = dir.Tier("../escape")
	require.Error(t, err)
	_, err = dir.Tier("")
	require.Error(t, err)
}
