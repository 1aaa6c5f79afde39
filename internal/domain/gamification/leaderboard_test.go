package gamification

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

type leaderboardSourceStub struct {
	entries []LeaderboardEntry
	calls   int
}

func (s *leaderboardSourceStub) Coins(_ context.Context, _, limit int) ([]LeaderboardEntry, error) {
	s.calls++
	if limit < len(s.entries) {
		return s.entries[:limit], nil
	}
	return s.entries, nil
}

func (s *leaderboardSourceStub) TestScores(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	return s.Coins(ctx, 0, limit)
}

func (s *leaderboardSourceStub) Attendance(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	return s.Coins(ctx, 0, limit)
}

func TestRankAssignsPositions(t *testing.T) {
	// Repository ordering: metric desc, ties by ascending user id.
	source := &leaderboardSourceStub{entries: []LeaderboardEntry{
		{UserID: uuid.New(), Metric: 50},
		{UserID: uuid.New(), Metric: 30},
		{UserID: uuid.New(), Metric: 30},
		{UserID: uuid.New(), Metric: 10},
	}}
	svc := NewLeaderboardService(source, nil, 0)

	entries, err := svc.Rank(context.Background(), LeaderboardCoins, 0, 10)
	if err != nil {
		t.Fatalf("rank failed: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	for i, entry := range entries {
		if entry.Rank != i+1 {
			t.Fatalf("entry %d: expected rank %d, got %d", i, i+1, entry.Rank)
		}
	}
	if entries[1].Metric != 30 || entries[2].Metric != 30 {
		t.Fatalf("tied entries reordered: %+v", entries)
	}
}

func TestRankUnknownKind(t *testing.T) {
	svc := NewLeaderboardService(&leaderboardSourceStub{}, nil, 0)

	_, err := svc.Rank(context.Background(), LeaderboardKind("push_ups"), 0, 10)
	if !errors.Is(err, ErrUnknownLeaderboardKind) {
		t.Fatalf("expected ErrUnknownLeaderboardKind, got %v", err)
	}
}

func TestRankClampsLimit(t *testing.T) {
	entries := make([]LeaderboardEntry, maxLeaderboardLimit+20)
	for i := range entries {
		entries[i] = LeaderboardEntry{UserID: uuid.New(), Metric: float64(len(entries) - i)}
	}
	source := &leaderboardSourceStub{entries: entries}
	svc := NewLeaderboardService(source, nil, 0)

	got, err := svc.Rank(context.Background(), LeaderboardCoins, 0, maxLeaderboardLimit+20)
	if err != nil {
		t.Fatalf("rank failed: %v", err)
	}
	if len(got) != maxLeaderboardLimit {
		t.Fatalf("expected limit clamped to %d, got %d", maxLeaderboardLimit, len(got))
	}

	if _, err := svc.Rank(context.Background(), LeaderboardCoins, 0, 0); err != nil {
		t.Fatalf("default limit failed: %v", err)
	}
}

func TestRankWithoutCacheHitsSourceEveryCall(t *testing.T) {
	source := &leaderboardSourceStub{entries: []LeaderboardEntry{{UserID: uuid.New(), Metric: 5}}}
	svc := NewLeaderboardService(source, nil, 0)

	for i := 0; i < 3; i++ {
		if _, err := svc.Rank(context.Background(), LeaderboardCoins, 7, 10); err != nil {
			t.Fatalf("rank %d failed: %v", i, err)
		}
	}
	if source.calls != 3 {
		t.Fatalf("expected 3 source calls with no cache, got %d", source.calls)
	}
}
