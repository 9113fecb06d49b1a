package summary

import (
	"strings"
	"testing"
	"time"

	"whisperchat/internal/models"
)

func TestParseSchedule(t *testing.T) {
	day, hour, minute, err := parseSchedule("7:09:30")
	if err != nil {
		t.Fatalf("parseSchedule failed: %v", err)
	}
	if day != 7 || hour != 9 || minute != 30 {
		t.Errorf("Expected (7, 9, 30), got (%d, %d, %d)", day, hour, minute)
	}

	for _, bad := range []string{"", "7:09", "8:00:00", "0:00:00", "7:24:00", "7:00:60", "x:y:z"} {
		if _, _, _, err := parseSchedule(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

func TestNextRun(t *testing.T) {
	// A Wednesday at noon.
	now := time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC)
	if now.Weekday() != time.Wednesday {
		t.Fatal("Test anchor must be a Wednesday")
	}

	// Day 7 means Sunday.
	next := nextRun(now, 7, 9, 0)
	if next.Weekday() != time.Sunday || next.Hour() != 9 {
		t.Errorf("Expected Sunday 09:00, got %s", next)
	}
	if !next.After(now) || next.Sub(now) > 7*24*time.Hour {
		t.Errorf("Expected the next occurrence within a week, got %s", next)
	}

	// A slot earlier today moves to next week.
	next = nextRun(now, 3, 11, 0)
	if next.Weekday() != time.Wednesday || next.Sub(now) < 6*24*time.Hour {
		t.Errorf("Expected next Wednesday, got %s", next)
	}

	// A slot later today stays today.
	next = nextRun(now, 3, 13, 0)
	if next.Day() != now.Day() || next.Hour() != 13 {
		t.Errorf("Expected today 13:00, got %s", next)
	}
}

func TestBuildDigest(t *testing.T) {
	users := []models.ActivityCount{{Name: "alice", Count: 12}, {Name: "bob", Count: 7}}
	chats := []models.ActivityCount{{Name: "General", Count: 19}}

	digest := buildDigest(users, chats, time.Now().Add(-7*24*time.Hour))
	for _, want := range []string{"alice: 12 messages", "bob: 7 messages", "General: 19 messages"} {
		if !strings.Contains(digest, want) {
			t.Errorf("Expected digest to contain %q:\n%s", want, digest)
		}
	}
}
