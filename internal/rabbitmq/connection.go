package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ConnectionStateListener receives connection state change notifications
type ConnectionStateListener interface {
	OnConnected()
	OnDisconnected(err error)
	OnReconnecting(attempt int)
}

// DialFunc opens a new broker connection.
type DialFunc func(url string) (*amqp.Connection, error)

// ConnectionManager owns the single broker connection of a process and
// replaces it with a new one when the broker drops it.
type ConnectionManager struct {
	url            string
	conn           *amqp.Connection
	mu             sync.RWMutex
	dial           DialFunc
	dialTimeout    time.Duration
	reconnectDelay time.Duration
	maxRetries     int
	logger         *slog.Logger
	notifyClose    chan *amqp.Error
	isConnected    bool
	done           chan struct{}
	closeOnce      sync.Once
	stateListeners []ConnectionStateListener
	listenersMu    sync.RWMutex
}

// ConnectionOption configures the ConnectionManager
type ConnectionOption func(*ConnectionManager)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.logger = logger
	}
}

// WithReconnectDelay sets the base reconnection delay
func WithReconnectDelay(delay time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.reconnectDelay = delay
	}
}

// WithMaxRetries sets the maximum number of reconnection attempts.
// A negative value retries forever.
func WithMaxRetries(retries int) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.maxRetries = retries
	}
}

// WithDialTimeout bounds a single dial attempt
func WithDialTimeout(timeout time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.dialTimeout = timeout
	}
}

// WithDialFunc replaces amqp.Dial
func WithDialFunc(dial DialFunc) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.dial = dial
	}
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(url string, options ...ConnectionOption) *ConnectionManager {
	cm := &ConnectionManager{
		url:            url,
		dial:           amqp.Dial,
		dialTimeout:    30 * time.Second,
		reconnectDelay: 5 * time.Second,
		maxRetries:     -1,
		logger:         slog.Default(),
		done:           make(chan struct{}),
	}

	for _, opt := range options {
		opt(cm)
	}

	return cm
}

// Connect establishes the initial connection. A failure is returned to the
// caller as a *ConnectionError; there is no retry loop for the first dial.
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.isConnected {
		return nil
	}

	conn, err := cm.dialWithTimeout(ctx)
	if err != nil {
		cm.logger.Error("failed to connect to RabbitMQ",
			"url", SanitizeURL(cm.url),
			"error", err)
		return &ConnectionError{
			Op:        "connect",
			URL:       SanitizeURL(cm.url),
			Err:       err,
			Timestamp: time.Now(),
			Attempts:  1,
		}
	}

	cm.setConnection(conn)
	cm.logger.Info("connected to RabbitMQ", "url", SanitizeURL(cm.url))
	cm.notifyConnected()

	go cm.handleReconnect(cm.notifyClose)

	return nil
}

// Channel opens a fresh channel on the current connection.
func (cm *ConnectionManager) Channel() (Channel, error) {
	conn, err := cm.GetConnection()
	if err != nil {
		return nil, &ChannelError{Op: "open channel", Err: err, Timestamp: time.Now()}
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, &ChannelError{Op: "open channel", Err: fmt.Errorf("%w: %v", ErrChannelCreationFailed, err), Timestamp: time.Now()}
	}
	return ch, nil
}

// GetConnection returns the current connection
func (cm *ConnectionManager) GetConnection() (*amqp.Connection, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if !cm.isConnected || cm.conn == nil {
		return nil, ErrConnectionNotReady
	}
	if cm.conn.IsClosed() {
		return nil, ErrConnectionClosed
	}

	return cm.conn, nil
}

// IsConnected returns the connection status
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.isConnected
}

// Close stops the reconnect watcher and closes the connection.
func (cm *ConnectionManager) Close() error {
	cm.closeOnce.Do(func() { close(cm.done) })

	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.isConnected = false
	if cm.conn != nil {
		err := cm.conn.Close()
		cm.conn = nil
		if err != nil && err != amqp.ErrClosed {
			return err
		}
	}

	cm.logger.Info("connection manager closed")
	return nil
}

// setConnection must be called with mu held.
func (cm *ConnectionManager) setConnection(conn *amqp.Connection) {
	cm.conn = conn
	cm.isConnected = true
	cm.notifyClose = conn.NotifyClose(make(chan *amqp.Error, 1))
}

func (cm *ConnectionManager) dialWithTimeout(ctx context.Context) (*amqp.Connection, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cm.dialTimeout)
	defer cancel()

	type result struct {
		conn *amqp.Connection
		err  error
	}
	resCh := make(chan result, 1)

	go func() {
		conn, err := cm.dial(cm.url)
		resCh <- result{conn: conn, err: err}
	}()

	select {
	case res := <-resCh:
		return res.conn, res.err
	case <-dialCtx.Done():
		go func() {
			// close a connection that completes after we gave up on it
			if res := <-resCh; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, ErrConnectionTimeout
	}
}

// handleReconnect waits for the connection to drop and replaces it
func (cm *ConnectionManager) handleReconnect(notifyClose chan *amqp.Error) {
	for {
		select {
		case amqpErr, ok := <-notifyClose:
			select {
			case <-cm.done:
				return
			default:
			}

			var err error
			if ok && amqpErr != nil {
				err = amqpErr
				cm.logger.Error("connection closed", "error", amqpErr)
			}

			cm.mu.Lock()
			cm.isConnected = false
			cm.conn = nil
			cm.mu.Unlock()

			cm.notifyDisconnected(err)

			next, ok := cm.reconnect()
			if !ok {
				return
			}
			notifyClose = next

		case <-cm.done:
			cm.logger.Info("connection manager shutting down")
			return
		}
	}
}

// reconnect dials until it succeeds, the retry budget runs out or the
// manager is closed. It returns the close notifier of the new connection.
func (cm *ConnectionManager) reconnect() (chan *amqp.Error, bool) {
	startTime := time.Now()

	for attempt := 0; ; attempt++ {
		if cm.maxRetries >= 0 && attempt >= cm.maxRetries {
			cm.logger.Error("max reconnection attempts reached",
				"attempts", attempt,
				"duration", time.Since(startTime))
			cm.notifyDisconnected(&ConnectionError{
				Op:        "reconnect",
				URL:       SanitizeURL(cm.url),
				Err:       ErrMaxRetriesExceeded,
				Timestamp: time.Now(),
				Attempts:  attempt,
			})
			return nil, false
		}

		delay := cm.calculateBackoff(attempt)
		cm.logger.Info("attempting to reconnect",
			"attempt", attempt+1,
			"maxRetries", cm.maxRetries,
			"delay", delay)
		cm.notifyReconnecting(attempt + 1)

		select {
		case <-time.After(delay):
		case <-cm.done:
			return nil, false
		}

		conn, err := cm.dialWithTimeout(context.Background())
		if err != nil {
			cm.logger.Error("reconnection failed",
				"error", err,
				"attempt", attempt+1)
			continue
		}

		cm.mu.Lock()
		select {
		case <-cm.done:
			cm.mu.Unlock()
			conn.Close()
			return nil, false
		default:
		}
		cm.setConnection(conn)
		notifyClose := cm.notifyClose
		cm.mu.Unlock()

		cm.logger.Info("successfully reconnected to RabbitMQ",
			"attempts", attempt+1,
			"duration", time.Since(startTime))
		cm.notifyConnected()

		return notifyClose, true
	}
}

// AddStateListener adds a connection state listener
func (cm *ConnectionManager) AddStateListener(listener ConnectionStateListener) {
	cm.listenersMu.Lock()
	defer cm.listenersMu.Unlock()
	cm.stateListeners = append(cm.stateListeners, listener)
}

// RemoveStateListener removes a connection state listener
func (cm *ConnectionManager) RemoveStateListener(listener ConnectionStateListener) {
	cm.listenersMu.Lock()
	defer cm.listenersMu.Unlock()

	for i, l := range cm.stateListeners {
		if l == listener {
			cm.stateListeners = append(cm.stateListeners[:i], cm.stateListeners[i+1:]...)
			break
		}
	}
}

func (cm *ConnectionManager) notifyConnected() {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()

	for _, listener := range cm.stateListeners {
		go listener.OnConnected()
	}
}

func (cm *ConnectionManager) notifyDisconnected(err error) {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()

	for _, listener := range cm.stateListeners {
		go listener.OnDisconnected(err)
	}
}

func (cm *ConnectionManager) notifyReconnecting(attempt int) {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()

	for _, listener := range cm.stateListeners {
		go listener.OnReconnecting(attempt)
	}
}

// calculateBackoff returns base*2^attempt capped at 5 minutes, with ±25% jitter
func (cm *ConnectionManager) calculateBackoff(attempt int) time.Duration {
	base := cm.reconnectDelay
	if base <= 0 {
		base = 5 * time.Second
	}

	maxDelay := 5 * time.Minute
	if attempt > 16 {
		attempt = 16
	}

	delay := base * time.Duration(1<<uint(attempt))
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}

	jitter := time.Duration(float64(delay) * 0.25)
	if jitter > 0 {
		delay = delay - jitter/2 + time.Duration(rand.Int63n(int64(jitter)))
	}

	return delay
}
