// Package summary generates the weekly activity digest and pushes it to every
// connected session. It only consumes read-only aggregate queries.
package summary

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"whisperchat/internal/models"
	"whisperchat/internal/store"
	"whisperchat/internal/ws"
)

// Broadcaster delivers the digest to all connected sessions.
type Broadcaster interface {
	Broadcast(ev ws.Event)
}

type Service struct {
	store       store.Store
	broadcaster Broadcaster
	schedule    string // "D:HH:mm", D 1-7 with 7 = Sunday
}

func New(st store.Store, b Broadcaster, schedule string) *Service {
	return &Service{store: st, broadcaster: b, schedule: schedule}
}

// Run sleeps until each scheduled slot and sends the digest, until the context
// is cancelled.
func (s *Service) Run(ctx context.Context) {
	for {
		day, hour, minute, err := parseSchedule(s.schedule)
		if err != nil {
			log.Printf("summary: invalid schedule %q, retrying in 1h", s.schedule)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Hour):
				continue
			}
		}

		next := nextRun(time.Now(), day, hour, minute)
		log.Printf("summary: next digest at %s", next.Format(time.RFC3339))
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}

		if err := s.SendDigest(); err != nil {
			log.Printf("summary: send digest: %v", err)
		}
	}
}

// SendDigest builds the trailing-week digest and broadcasts it.
func (s *Service) SendDigest() error {
	oneWeekAgo := time.Now().Add(-7 * 24 * time.Hour)
	topUsers, err := s.store.TopActiveUsers(oneWeekAgo)
	if err != nil {
		return err
	}
	topChats, err := s.store.TopActiveChats(oneWeekAgo)
	if err != nil {
		return err
	}

	s.broadcaster.Broadcast(ws.Event{
		"packet":  "weekly_summary",
		"summary": buildDigest(topUsers, topChats, oneWeekAgo),
	})
	return nil
}

func parseSchedule(schedule string) (day, hour, minute int, err error) {
	parts := strings.Split(schedule, ":")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("expected D:HH:mm, got %q", schedule)
	}
	day, err1 := strconv.Atoi(parts[0])
	hour, err2 := strconv.Atoi(parts[1])
	minute, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil ||
		day < 1 || day > 7 || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, 0, fmt.Errorf("expected D:HH:mm, got %q", schedule)
	}
	return day, hour, minute, nil
}

// nextRun finds the first instant after now matching the schedule. Day 7 maps
// to time.Sunday (0).
func nextRun(now time.Time, day, hour, minute int) time.Time {
	targetWeekday := time.Weekday(day % 7)
	t := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	for t.Weekday() != targetWeekday || !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

func buildDigest(topUsers, topChats []models.ActivityCount, start time.Time) string {
	var sb strings.Builder
	sb.WriteString("Weekly summary\n")
	fmt.Fprintf(&sb, "Period: %s to %s\n\n", start.Format("2006-01-02"), time.Now().Format("2006-01-02"))

	sb.WriteString("Most active users:\n")
	for i, u := range topUsers {
		fmt.Fprintf(&sb, "  %d. %s: %d messages\n", i+1, u.Name, u.Count)
	}
	sb.WriteString("\nMost active group chats:\n")
	for i, c := range topChats {
		fmt.Fprintf(&sb, "  %d. %s: %d messages\n", i+1, c.Name, c.Count)
	}
	return sb.String()
}
