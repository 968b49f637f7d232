// Package storetest holds behaviour checks every store.Store backend must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/chatrelay/internal/store"
)

// Factory opens an empty store whose journal reads time from now.
type Factory func(t *testing.T, now func() time.Time) store.Store

// Run executes the suite against the backend produced by open.
func Run(t *testing.T, open Factory) {
	t.Run("Identities", func(t *testing.T) { testIdentities(t, open) })
	t.Run("AppendValidation", func(t *testing.T) { testAppendValidation(t, open) })
	t.Run("SameMillisecond", func(t *testing.T) { testSameMillisecond(t, open) })
	t.Run("ClockStepBack", func(t *testing.T) { testClockStepBack(t, open) })
	t.Run("ListFilter", func(t *testing.T) { testListFilter(t, open) })
	t.Run("ConcurrentAppend", func(t *testing.T) { testConcurrentAppend(t, open) })
}

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

func mustIdentity(t *testing.T, st store.Store, username string) *store.Identity {
	t.Helper()
	identity := &store.Identity{
		Username:         username,
		DisplayName:      username,
		AvatarURI:        "https://example.test/" + username + ".png",
		CredentialDigest: []byte("digest-" + username),
		CredentialSalt:   []byte("salt-" + username),
	}
	require.NoError(t, st.CreateIdentity(context.Background(), identity))
	require.NotEmpty(t, identity.ID)
	return identity
}

func testIdentities(t *testing.T, open Factory) {
	req := require.New(t)
	ctx := context.Background()
	st := open(t, nil)

	alice := mustIdentity(t, st, "alice")
	bob := mustIdentity(t, st, "bob")

	err := st.CreateIdentity(ctx, &store.Identity{Username: "alice"})
	req.ErrorIs(err, store.ErrConflict)

	got, err := st.GetIdentity(ctx, alice.ID)
	req.NoError(err)
	req.Equal("alice", got.Username)
	req.Equal(alice.AvatarURI, got.AvatarURI)
	req.Equal(alice.CredentialDigest, got.CredentialDigest)
	req.Equal(alice.CredentialSalt, got.CredentialSalt)

	got, err = st.GetIdentityByUsername(ctx, "bob")
	req.NoError(err)
	req.Equal(bob.ID, got.ID)

	_, err = st.GetIdentity(ctx, "missing")
	req.ErrorIs(err, store.ErrNotFound)
	_, err = st.GetIdentityByUsername(ctx, "missing")
	req.ErrorIs(err, store.ErrNotFound)

	all, err := st.ListIdentities(ctx)
	req.NoError(err)
	req.ElementsMatch([]string{alice.ID, bob.ID}, lo.Map(all, func(i *store.Identity, _ int) string { return i.ID }))

	req.NoError(st.SetCredentials(ctx, bob.ID, []byte("new-digest"), []byte("new-salt")))
	got, err = st.GetIdentity(ctx, bob.ID)
	req.NoError(err)
	req.Equal([]byte("new-digest"), got.CredentialDigest)
	req.Equal([]byte("new-salt"), got.CredentialSalt)
	req.ErrorIs(st.SetCredentials(ctx, "missing", nil, nil), store.ErrNotFound)
}

func testAppendValidation(t *testing.T, open Factory) {
	req := require.New(t)
	ctx := context.Background()
	st := open(t, nil)
	alice := mustIdentity(t, st, "alice")

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := st.Append(ctx, alice.ID, text)
		var verr *store.ValidationError
		req.True(errors.As(err, &verr), "text %q: expected ValidationError, got %v", text, err)
		req.NotErrorIs(err, store.ErrNotFound)
	}

	_, err := st.Append(ctx, "ghost", "hello")
	var verr *store.ValidationError
	req.True(errors.As(err, &verr), "expected ValidationError, got %v", err)
	req.ErrorIs(err, store.ErrNotFound)

	messages, err := st.List(ctx, "")
	req.NoError(err)
	req.Empty(messages)
}

func testSameMillisecond(t *testing.T, open Factory) {
	req := require.New(t)
	ctx := context.Background()
	st := open(t, fixedClock(1000))
	a := mustIdentity(t, st, "a")

	hi, err := st.Append(ctx, a.ID, "hi")
	req.NoError(err)
	ho, err := st.Append(ctx, a.ID, "ho")
	req.NoError(err)

	req.NotEqual(hi.ID, ho.ID)
	req.Equal(int64(1000), hi.CreatedAt)
	req.Equal(int64(1000), ho.CreatedAt)
	req.Less(hi.Seq, ho.Seq)

	listed, err := st.List(ctx, a.ID)
	req.NoError(err)
	req.Equal([]store.Message{hi, ho}, listed)
}

func testClockStepBack(t *testing.T, open Factory) {
	req := require.New(t)
	ctx := context.Background()
	now := int64(5000)
	st := open(t, func() time.Time { return time.UnixMilli(now) })
	a := mustIdentity(t, st, "a")

	first, err := st.Append(ctx, a.ID, "first")
	req.NoError(err)
	now = 4000
	second, err := st.Append(ctx, a.ID, "second")
	req.NoError(err)

	req.Equal(first.CreatedAt, second.CreatedAt)
}

func testListFilter(t *testing.T, open Factory) {
	req := require.New(t)
	ctx := context.Background()
	st := open(t, nil)
	alice := mustIdentity(t, st, "alice")
	bob := mustIdentity(t, st, "bob")

	var all []store.Message
	for i, sender := range []string{alice.ID, bob.ID, alice.ID, bob.ID, alice.ID} {
		msg, err := st.Append(ctx, sender, fmt.Sprintf("message %d", i))
		req.NoError(err)
		all = append(all, msg)
	}

	listed, err := st.List(ctx, "")
	req.NoError(err)
	req.Equal(all, listed)

	fromAlice, err := st.List(ctx, alice.ID)
	req.NoError(err)
	req.Equal([]store.Message{all[0], all[2], all[4]}, fromAlice)

	none, err := st.List(ctx, "nobody")
	req.NoError(err)
	req.Empty(none)

	for i := 1; i < len(listed); i++ {
		req.LessOrEqual(listed[i-1].CreatedAt, listed[i].CreatedAt)
	}
}

func testConcurrentAppend(t *testing.T, open Factory) {
	req := require.New(t)
	ctx := context.Background()
	st := open(t, fixedClock(42))
	a := mustIdentity(t, st, "a")

	const workers, perWorker = 8, 25
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[string]struct{})
	)
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWorker {
				msg, err := st.Append(ctx, a.ID, fmt.Sprintf("w%d-%d", w, i))
				if err != nil {
					t.Errorf("append: %v", err)
					return
				}
				mu.Lock()
				ids[msg.ID] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	req.Len(ids, workers*perWorker)

	listed, err := st.List(ctx, a.ID)
	req.NoError(err)
	req.Len(listed, workers*perWorker)
	seqs := lo.Map(listed, func(m store.Message, _ int) int64 { return m.Seq })
	req.Len(lo.Uniq(seqs), len(seqs))
	req.IsIncreasing(seqs)
}
