// Package journal records connection state transitions per session in a SQL
// database. Events are queued by the observer callback and written in
// batches by a background goroutine, so the connection notifier is never
// blocked on I/O.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/hudlink/hudlink/internal/queue"
	"github.com/hudlink/hudlink/pkg/core"
)

// DefaultFlushInterval is how often queued events are written.
const DefaultFlushInterval = 2 * time.Second

// Options configures a Journal.
type Options struct {
	FlushInterval time.Duration
	Version       string
	// Config is stored with the session row as JSON.
	Config any
	Logger *slog.Logger
}

// Journal is a connection.Observer that persists transitions.
type Journal struct {
	db      *gorm.DB
	session Session
	log     *slog.Logger

	pending  *queue.Queue[ConnectionEvent]
	interval time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	writeMu sync.Mutex
}

// Open migrates the schema, creates a new session row and starts the
// background writer.
func Open(db *gorm.DB, opts Options) (*Journal, error) {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	if err := db.AutoMigrate(Models...); err != nil {
		return nil, fmt.Errorf("failed to migrate journal schema: %w", err)
	}

	host, _ := os.Hostname()
	session := Session{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Host:      host,
		Version:   opts.Version,
	}
	if opts.Config != nil {
		raw, err := json.Marshal(opts.Config)
		if err != nil {
			return nil, fmt.Errorf("failed to encode session config: %w", err)
		}
		session.Config = datatypes.JSON(raw)
	}
	if err := db.Create(&session).Error; err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	j := &Journal{
		db:       db,
		session:  session,
		log:      opts.Logger,
		pending:  queue.New[ConnectionEvent](),
		interval: opts.FlushInterval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go j.run()

	j.log.Info("Journal session started", "session", session.ID)
	return j, nil
}

// SessionID returns the id of the session this journal writes to.
func (j *Journal) SessionID() string {
	return j.session.ID
}

// OnConnectionStateChanged queues the transition for the next flush.
func (j *Journal) OnConnectionStateChanged(c core.StateChange) {
	details, _ := json.Marshal(map[string]any{
		"raw":  c.Endpoint.Raw,
		"host": c.Endpoint.Host,
		"port": c.Endpoint.Port,
	})

	addr := ""
	if !c.Endpoint.IsZero() {
		addr = c.Endpoint.Address()
	}

	at := c.At
	if at.IsZero() {
		at = time.Now()
	}

	j.pending.Push(ConnectionEvent{
		SessionID:    j.session.ID,
		Time:         at.UTC(),
		State:        c.State.String(),
		Previous:     c.Previous.String(),
		EndpointKind: c.Endpoint.Kind.String(),
		Endpoint:     addr,
		Reason:       c.Reason(),
		Details:      datatypes.JSON(details),
	})
}

func (j *Journal) run() {
	defer close(j.done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := j.Flush(); err != nil {
				j.log.Error("Journal write failed", "error", err)
			}
		case <-j.stop:
			return
		}
	}
}

// Flush writes all queued events in one transaction. Events are requeued in
// order when the write fails.
func (j *Journal) Flush() error {
	j.writeMu.Lock()
	defer j.writeMu.Unlock()

	items := j.pending.GetAndEmpty()
	if len(items) == 0 {
		return nil
	}

	err := j.db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&items).Error
	})
	if err != nil {
		// ids assigned by a failed insert must not survive the retry
		for i := range items {
			items[i].ID = 0
		}
		j.pending.Requeue(items...)
		return fmt.Errorf("error writing %d connection events: %w", len(items), err)
	}
	return nil
}

// Events returns this session's events in insertion order.
func (j *Journal) Events(ctx context.Context) ([]ConnectionEvent, error) {
	var events []ConnectionEvent
	err := j.db.WithContext(ctx).
		Where("session_id = ?", j.session.ID).
		Order("id").
		Find(&events).Error
	return events, err
}

// Close stops the writer, flushes what is left and marks the session ended.
func (j *Journal) Close() error {
	var err error
	j.stopOnce.Do(func() {
		close(j.stop)
		<-j.done

		var errs []error
		if ferr := j.Flush(); ferr != nil {
			errs = append(errs, ferr)
		}
		ended := time.Now().UTC()
		if uerr := j.db.Model(&Session{}).Where("id = ?", j.session.ID).
			Update("ended_at", ended).Error; uerr != nil {
			errs = append(errs, fmt.Errorf("failed to close session: %w", uerr))
		}
		err = errors.Join(errs...)
	})
	return err
}
