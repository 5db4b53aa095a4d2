package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/annel0/voxelnav/internal/logging"
)

// NATSInvalidator уведомляет другие экземпляры сервиса о том, что в кеше
// появился новый скан источника, чтобы они перечитали карту.
type NATSInvalidator struct {
	conn    *nats.Conn
	config  InvalidatorConfig
	nodeID  string
	ownConn bool

	mu           sync.Mutex
	subscription *nats.Subscription

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	// Дедупликация по ID сообщения (повторная доставка после реконнекта)
	recent   map[string]time.Time
	recentMu sync.Mutex

	publishedCount atomic.Int64
	receivedCount  atomic.Int64
	errorsCount    atomic.Int64
}

// InvalidatorConfig конфигурация NATS invalidator.
type InvalidatorConfig struct {
	NATSURL       string        `yaml:"nats_url"`
	Subject       string        `yaml:"subject"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	DedupeWindow  time.Duration `yaml:"dedupe_window"`
}

// InvalidationMessage уведомление об обновлении ключа.
type InvalidationMessage struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id"`
}

func (c *InvalidatorConfig) applyDefaults() {
	if c.Subject == "" {
		c.Subject = "voxelnav.scan.invalidate"
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 10
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.DedupeWindow == 0 {
		c.DedupeWindow = 30 * time.Second
	}
}

// NewNATSInvalidator подключается к NATS. Пустой nodeID заменяется случайным.
func NewNATSInvalidator(config InvalidatorConfig, nodeID string) (*NATSInvalidator, error) {
	config.applyDefaults()

	opts := []nats.Option{
		nats.Name("voxelnav-invalidator"),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.Warn("⚠️ NATS отключён: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("📡 NATS переподключён к %s", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(config.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	inv := NewNATSInvalidatorWithConn(conn, config, nodeID)
	inv.ownConn = true
	logging.Info("📡 NATS invalidator: %s (subject: %s)", config.NATSURL, inv.config.Subject)
	return inv, nil
}

// NewNATSInvalidatorWithConn использует существующее соединение; Close его не закрывает.
func NewNATSInvalidatorWithConn(conn *nats.Conn, config InvalidatorConfig, nodeID string) *NATSInvalidator {
	config.applyDefaults()
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	inv := &NATSInvalidator{
		conn:   conn,
		config: config,
		nodeID: nodeID,
		stopCh: make(chan struct{}),
		recent: make(map[string]time.Time),
	}
	inv.startDedupeCleanup()
	return inv
}

// NodeID идентификатор узла
func (n *NATSInvalidator) NodeID() string {
	return n.nodeID
}

// PublishInvalidation рассылает уведомление об обновлении ключа.
func (n *NATSInvalidator) PublishInvalidation(ctx context.Context, key string) error {
	msg := InvalidationMessage{
		ID:        uuid.NewString(),
		Key:       key,
		Timestamp: time.Now(),
		NodeID:    n.nodeID,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		n.errorsCount.Add(1)
		return fmt.Errorf("failed to marshal invalidation message: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := n.conn.Publish(n.config.Subject, data); err != nil {
		n.errorsCount.Add(1)
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}
	n.publishedCount.Add(1)
	return nil
}

// SubscribeInvalidations подписывается на уведомления других узлов.
// Подписка снимается при отмене ctx или Close.
func (n *NATSInvalidator) SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subscription != nil {
		return fmt.Errorf("already subscribed to invalidations")
	}

	sub, err := n.conn.Subscribe(n.config.Subject, func(msg *nats.Msg) {
		n.handleMessage(msg.Data, handler)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to invalidations: %w", err)
	}
	n.subscription = sub

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		select {
		case <-ctx.Done():
		case <-n.stopCh:
		}
		n.unsubscribe()
	}()

	logging.Info("📡 Подписка на инвалидации: %s", n.config.Subject)
	return nil
}

// handleMessage разбирает уведомление, отбрасывает свои и повторные
func (n *NATSInvalidator) handleMessage(data []byte, handler InvalidationHandler) {
	n.receivedCount.Add(1)

	var msg InvalidationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		n.errorsCount.Add(1)
		logging.Error("❌ Некорректное сообщение инвалидации: %v", err)
		return
	}
	if msg.NodeID == n.nodeID {
		return
	}
	if n.seen(msg.ID) {
		return
	}
	if handler == nil {
		return
	}
	if err := handler(msg.Key); err != nil {
		n.errorsCount.Add(1)
		logging.Error("❌ Обработчик инвалидации %s: %v", msg.Key, err)
	}
}

// seen отмечает ID и сообщает, встречался ли он в окне дедупликации
func (n *NATSInvalidator) seen(id string) bool {
	if id == "" {
		return false
	}
	n.recentMu.Lock()
	defer n.recentMu.Unlock()
	if ts, ok := n.recent[id]; ok && time.Since(ts) < n.config.DedupeWindow {
		return true
	}
	n.recent[id] = time.Now()
	return false
}

func (n *NATSInvalidator) unsubscribe() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subscription == nil {
		return
	}
	if err := n.subscription.Unsubscribe(); err != nil {
		logging.Warn("⚠️ Ошибка отписки от инвалидаций: %v", err)
	}
	n.subscription = nil
}

func (n *NATSInvalidator) startDedupeCleanup() {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ticker := time.NewTicker(n.config.DedupeWindow)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n.recentMu.Lock()
				for id, ts := range n.recent {
					if time.Since(ts) > n.config.DedupeWindow {
						delete(n.recent, id)
					}
				}
				n.recentMu.Unlock()
			case <-n.stopCh:
				return
			}
		}
	}()
}

// Close останавливает фоновые горутины и закрывает собственное соединение.
func (n *NATSInvalidator) Close() error {
	n.closeOnce.Do(func() {
		close(n.stopCh)
		n.wg.Wait()
		n.unsubscribe()
		if n.ownConn {
			n.conn.Close()
		}
	})
	return nil
}

// GetMetrics счётчики invalidator
func (n *NATSInvalidator) GetMetrics() map[string]int64 {
	return map[string]int64{
		"published": n.publishedCount.Load(),
		"received":  n.receivedCount.Load(),
		"errors":    n.errorsCount.Load(),
	}
}
