package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"bankrecon/internal/domain/connection"
)

const (
	channelName       = "connection_status"
	reconnectInterval = 5 * time.Second
	pingInterval      = 90 * time.Second
)

// StatusChange is the payload of a connection_status NOTIFY.
type StatusChange struct {
	ConnectionID string            `json:"id"`
	TenantID     string            `json:"tenantId"`
	Status       connection.Status `json:"status"`
	Version      int64             `json:"version"`
}

// Handler reacts to a status change. It runs on its own goroutine.
type Handler func(ctx context.Context, change StatusChange)

// StatusListener relays connection status changes broadcast by the
// bank_connections trigger.
type StatusListener struct {
	connStr    string
	handler    Handler
	log        zerolog.Logger
	shutdownCh chan struct{}
	done       chan struct{}
}

func NewStatusListener(connStr string, handler Handler, log zerolog.Logger) *StatusListener {
	return &StatusListener{
		connStr:    connStr,
		handler:    handler,
		log:        log.With().Str("component", "status_listener").Logger(),
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins listening in a background goroutine.
func (l *StatusListener) Start(ctx context.Context) {
	go l.listen(ctx)
	l.log.Info().Str("channel", channelName).Msg("status listener started")
}

// Stop shuts the listener down and waits for it to exit.
func (l *StatusListener) Stop() {
	close(l.shutdownCh)
	<-l.done
	l.log.Info().Msg("status listener stopped")
}

func (l *StatusListener) listen(ctx context.Context) {
	defer close(l.done)

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		default:
			l.connectAndListen(ctx)
		}

		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(reconnectInterval):
			l.log.Info().Msg("reconnecting to notification channel")
		}
	}
}

func (l *StatusListener) connectAndListen(ctx context.Context) {
	listener := pq.NewListener(l.connStr, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			l.log.Debug().Msg("connected to notification channel")
		case pq.ListenerEventDisconnected:
			l.log.Warn().Err(err).Msg("disconnected from notification channel")
		case pq.ListenerEventReconnected:
			l.log.Info().Msg("reconnected to notification channel")
		case pq.ListenerEventConnectionAttemptFailed:
			l.log.Warn().Err(err).Msg("notification channel connection attempt failed")
		}
	})
	defer listener.Close()

	if err := listener.Listen(channelName); err != nil {
		l.log.Error().Err(err).Str("channel", channelName).Msg("failed to listen")
		return
	}

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case n := <-listener.Notify:
			if n == nil {
				// connection lost
				return
			}
			l.dispatch(ctx, n.Extra)
		case <-time.After(pingInterval):
			go func() {
				if err := listener.Ping(); err != nil {
					l.log.Warn().Err(err).Msg("listener ping failed")
				}
			}()
		}
	}
}

func (l *StatusListener) dispatch(ctx context.Context, payload string) {
	change, err := DecodeStatusChange(payload)
	if err != nil {
		l.log.Warn().Err(err).Msg("dropping malformed status notification")
		return
	}
	l.log.Debug().
		Str("connection_id", change.ConnectionID).
		Str("status", string(change.Status)).
		Msg("connection status changed")

	// The handler outlives a cancelled listener context during shutdown.
	go l.handler(context.WithoutCancel(ctx), change)
}

// DecodeStatusChange parses and checks a notification payload.
func DecodeStatusChange(payload string) (StatusChange, error) {
	var change StatusChange
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		return StatusChange{}, fmt.Errorf("failed to parse status notification: %w", err)
	}
	if change.ConnectionID == "" {
		return StatusChange{}, fmt.Errorf("status notification without connection id")
	}
	if _, err := connection.ParseStatus(string(change.Status)); err != nil {
		return StatusChange{}, err
	}
	return change, nil
}
