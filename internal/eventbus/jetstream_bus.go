package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	nats "github.com/nats-io/nats.go"

	"github.com/annel0/voxelnav/internal/logging"
)

// JetStreamConfig параметры подключения к JetStream
type JetStreamConfig struct {
	URL           string
	Stream        string
	SubjectPrefix string
	Retention     time.Duration
	// Durable префикс имён durable-консьюмеров; пусто: эфемерные подписки
	Durable string
}

// JetStreamBus реализует EventBus поверх NATS JetStream.
// Сканы приходят в <prefix>.ScanReceived, результаты уходят в <prefix>.PathPlanned.
type JetStreamBus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config JetStreamConfig

	published atomic.Uint64
	consumed  atomic.Uint64
	dropped   atomic.Uint64
}

func (c *JetStreamConfig) applyDefaults() {
	if c.Stream == "" {
		c.Stream = "VOXELNAV"
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "voxelnav"
	}
	if c.Retention == 0 {
		c.Retention = time.Hour
	}
}

// NewJetStreamBus подключается к NATS и гарантирует наличие стрима.
func NewJetStreamBus(config JetStreamConfig) (*JetStreamBus, error) {
	config.applyDefaults()

	nc, err := nats.Connect(config.URL, nats.Name("voxelnav-eventbus"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Drain()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	if _, err := js.StreamInfo(config.Stream); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      config.Stream,
			Subjects:  []string{config.SubjectPrefix + ".*"},
			Retention: nats.LimitsPolicy,
			MaxAge:    config.Retention,
			Storage:   nats.FileStorage,
		})
		if err != nil {
			nc.Drain()
			return nil, fmt.Errorf("add stream: %w", err)
		}
		logging.Info("📡 JetStream: создан стрим %s (%s.*)", config.Stream, config.SubjectPrefix)
	}

	return &JetStreamBus{nc: nc, js: js, config: config}, nil
}

// Subject возвращает subject для типа события
func (jb *JetStreamBus) Subject(eventType string) string {
	return jb.config.SubjectPrefix + "." + eventType
}

// Publish сериализует Envelope в JSON и публикует в <prefix>.<type>.
func (jb *JetStreamBus) Publish(ctx context.Context, ev *Envelope) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := jb.js.Publish(jb.Subject(ev.EventType), data, nats.Context(ctx), nats.MsgId(ev.ID)); err != nil {
		jb.dropped.Add(1)
		return fmt.Errorf("jetstream publish %s: %w", ev.EventType, err)
	}
	jb.published.Add(1)
	return nil
}

// Subscribe создаёт консьюмера и вызывает handler для подходящих событий.
// Сообщения, которые не разбираются как Envelope, подтверждаются и пропускаются.
func (jb *JetStreamBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	subj := jb.config.SubjectPrefix + ".*"
	if len(f.Types) == 1 {
		subj = jb.Subject(f.Types[0])
	}

	opts := []nats.SubOpt{nats.ManualAck(), nats.AckWait(30 * time.Second), nats.DeliverNew()}
	if jb.config.Durable != "" {
		name := jb.config.Durable + "_" + strings.Join(f.Types, "_")
		opts = append(opts, nats.Durable(sanitizeDurable(name)))
	}

	natSub, err := jb.js.Subscribe(subj, func(msg *nats.Msg) {
		defer func() { _ = msg.Ack() }()

		var ev Envelope
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			jb.dropped.Add(1)
			logging.Warn("⚠️ JetStream: некорректное событие в %s: %v", msg.Subject, err)
			return
		}
		if !matchFilter(&ev, f) {
			return
		}
		if !invokeHandler(ctx, h, &ev) {
			jb.dropped.Add(1)
			return
		}
		jb.consumed.Add(1)
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("jetstream subscribe %s: %w", subj, err)
	}

	return &jetSub{natSub}, nil
}

// sanitizeDurable имена durable не допускают точек и пробелов
func sanitizeDurable(name string) string {
	return strings.NewReplacer(".", "_", " ", "_", "*", "all", ">", "all").Replace(name)
}

// jetSub обёртка вокруг *nats.Subscription чтобы удовлетворить наш интерфейс.
type jetSub struct {
	s *nats.Subscription
}

func (j *jetSub) Unsubscribe() {
	_ = j.s.Unsubscribe()
}

// Metrics возвращает текущие метрики.
func (jb *JetStreamBus) Metrics() Stats {
	return Stats{
		Published: jb.published.Load(),
		Consumed:  jb.consumed.Load(),
		Dropped:   jb.dropped.Load(),
	}
}

// Conn соединение NATS (используется инвалидатором кеша)
func (jb *JetStreamBus) Conn() *nats.Conn {
	return jb.nc
}

// Close дожидается обработки и закрывает соединение
func (jb *JetStreamBus) Close() error {
	return jb.nc.Drain()
}
