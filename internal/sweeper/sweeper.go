// Package sweeper deletes burn-after-read messages once their deadline
// passes. It polls on a fixed interval rather than arming one timer per
// message; burn windows are short and user-facing, so the default interval is
// a few seconds.
package sweeper

import (
	"context"
	"log"
	"time"

	"whisperchat/internal/files"
	"whisperchat/internal/store"
)

// Notifier tells chat members a message was removed so open views drop it.
type Notifier interface {
	NotifyMessageDeleted(chatID, messageID int64)
}

type Sweeper struct {
	store    store.Store
	files    *files.Storage
	notifier Notifier
	interval time.Duration
}

func New(st store.Store, storage *files.Storage, notifier Notifier, interval time.Duration) *Sweeper {
	return &Sweeper{store: st, files: storage, notifier: notifier, interval: interval}
}

// Run polls until the context is cancelled. Failures are logged and the next
// tick retries; a bad row never halts the sweep.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(time.Now())
		}
	}
}

// Sweep deletes every message whose burn deadline is before now.
func (s *Sweeper) Sweep(now time.Time) {
	expired, err := s.store.ExpiredMessages(now)
	if err != nil {
		log.Printf("sweeper: scan: %v", err)
		return
	}

	for _, e := range expired {
		if e.Type.HasFile() {
			if err := s.files.DeleteFile(e.MessageID); err != nil {
				log.Printf("sweeper: delete file for message %d: %v", e.MessageID, err)
			}
		}
		if err := s.store.DeleteMessage(e.MessageID); err != nil {
			log.Printf("sweeper: delete message %d: %v", e.MessageID, err)
			continue
		}
		s.notifier.NotifyMessageDeleted(e.ChatID, e.MessageID)
	}
}
