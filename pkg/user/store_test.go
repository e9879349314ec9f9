package user

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type profile struct {
	Name   string
	Visits int
}

func TestGetReturnsEmptyRecordWithoutRetriever(t *testing.T) {
	s := NewStore[profile]()

	got, err := s.Get(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, profile{}, got)

	// The lazily created record is cached.
	_, ok := s.Peek("u1")
	require.True(t, ok)
}

func TestGetUsesRetrieverOnceAndCaches(t *testing.T) {
	s := NewStore[profile]()

	calls := 0
	s.SetRetriever(func(_ context.Context, userID string) (profile, error) {
		calls++
		return profile{Name: "loaded-" + userID}, nil
	})

	first, err := s.Get(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, "loaded-u1", first.Name)

	second, err := s.Get(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, calls)
}

func TestGetRetrieverFailure(t *testing.T) {
	s := NewStore[profile]()
	s.SetRetriever(func(context.Context, string) (profile, error) {
		return profile{}, errors.New("backend down")
	})

	_, err := s.Get(context.Background(), "u1")
	require.ErrorContains(t, err, "retrieve user u1")

	// A failed retrieval must not poison the cache.
	_, ok := s.Peek("u1")
	require.False(t, ok)
}

func TestDispatchValueReplacesRecord(t *testing.T) {
	s := NewStore[profile]()

	got, err := s.Dispatch(context.Background(), "u1", Value(profile{Name: "alice"}))
	require.NoError(t, err)
	require.Equal(t, "alice", got.Name)

	cached, ok := s.Peek("u1")
	require.True(t, ok)
	require.Equal(t, "alice", cached.Name)
}

func TestDispatchApplySeesLatestCommittedValue(t *testing.T) {
	s := NewStore[profile]()

	increment := Apply(func(prev profile) profile {
		prev.Visits++
		return prev
	})

	for i := 0; i < 3; i++ {
		_, err := s.Dispatch(context.Background(), "u1", increment)
		require.NoError(t, err)
	}

	cached, _ := s.Peek("u1")
	require.Equal(t, 3, cached.Visits)
}

func TestDispatchInvokesPersisterWithNewValue(t *testing.T) {
	s := NewStore[profile]()

	var persisted []profile
	s.SetPersister(func(_ context.Context, userID string, data profile) error {
		require.Equal(t, "u1", userID)
		persisted = append(persisted, data)
		return nil
	})

	_, err := s.Dispatch(context.Background(), "u1", Value(profile{Visits: 1}))
	require.NoError(t, err)
	_, err = s.Dispatch(context.Background(), "u1", Apply(func(prev profile) profile {
		prev.Visits++
		return prev
	}))
	require.NoError(t, err)

	require.Len(t, persisted, 2)
	require.Equal(t, 1, persisted[0].Visits)
	require.Equal(t, 2, persisted[1].Visits)
}

func TestDispatchPersisterFailureStillCommits(t *testing.T) {
	s := NewStore[profile]()
	s.SetPersister(func(context.Context, string, profile) error {
		return errors.New("disk full")
	})

	_, err := s.Dispatch(context.Background(), "u1", Value(profile{Name: "bob"}))
	require.ErrorContains(t, err, "persist user u1")

	// The in-memory commit holds even when persistence fails.
	cached, ok := s.Peek("u1")
	require.True(t, ok)
	require.Equal(t, "bob", cached.Name)
}
