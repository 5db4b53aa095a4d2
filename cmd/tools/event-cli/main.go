package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/annel0/voxelnav/internal/eventbus"
	"github.com/annel0/voxelnav/internal/terrain"
)

const timeFormat = "2006-01-02T15:04:05Z"

func main() {
	var (
		natsURL = flag.String("nats", envOr("VOXELNAV_NATS_URL", "nats://localhost:4222"), "адрес NATS")
		stream  = flag.String("stream", "VOXELNAV", "имя JetStream потока")
		prefix  = flag.String("prefix", "voxelnav", "префикс субъектов")
		command = flag.String("cmd", "tail", "команда: tail, publish")
		types   = flag.String("types", "", "фильтр типов событий через запятую")
		file    = flag.String("file", "", "publish: JSON скана (без файла: рельеф Перлина)")
		seed    = flag.Int64("seed", 1, "publish: seed рельефа")
		source  = flag.String("source", "radar", "publish: источник скана")
		limit   = flag.Int("limit", 0, "tail: остановиться после N событий (0: бесконечно)")
	)
	flag.Parse()

	bus, err := eventbus.NewJetStreamBus(eventbus.JetStreamConfig{
		URL:           *natsURL,
		Stream:        *stream,
		SubjectPrefix: *prefix,
	})
	if err != nil {
		log.Fatalf("❌ Не удалось подключиться к NATS: %v", err)
	}
	defer bus.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch *command {
	case "tail":
		if err := tailEvents(ctx, bus, parseStringList(*types), *limit); err != nil {
			log.Fatalf("❌ Tail failed: %v", err)
		}
	case "publish":
		if err := publishScan(ctx, bus, *file, *seed, *source); err != nil {
			log.Fatalf("❌ Publish failed: %v", err)
		}
	default:
		log.Fatalf("❌ Неизвестная команда %q", *command)
	}
}

// tailEvents печатает события шины, пока не придёт сигнал или не наберётся limit
func tailEvents(ctx context.Context, bus eventbus.EventBus, types []string, limit int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan *eventbus.Envelope, 64)
	sub, err := bus.Subscribe(ctx, eventbus.Filter{Types: types}, func(_ context.Context, ev *eventbus.Envelope) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	fmt.Printf("📡 Ожидание событий %v...\n", types)
	count := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			printEvent(ev)
			count++
			if limit > 0 && count >= limit {
				return nil
			}
		}
	}
}

func printEvent(ev *eventbus.Envelope) {
	fmt.Printf("[%s] %-14s %-10s id=%s\n", ev.Timestamp.Format(timeFormat), ev.EventType, ev.Source, ev.ID)
	switch ev.EventType {
	case eventbus.EventPathPlanned:
		var p eventbus.PathPlannedPayload
		if err := ev.Decode(&p); err == nil {
			fmt.Printf("    plan=%s found=%v nodes=%d cost=%.3f expanded=%d %s\n",
				p.PlanID, p.Found, len(p.Path), p.Cost, p.Expanded, p.Error)
		}
	case eventbus.EventScanIngested:
		var p eventbus.ScanIngestedPayload
		if err := ev.Decode(&p); err == nil {
			fmt.Printf("    size=%v occupied=%d dropped=%d contacts=%d\n", p.Size, p.Occupied, p.Dropped, p.Contacts)
		}
	default:
		fmt.Printf("    %d байт\n", len(ev.Payload))
	}
}

// publishScan отправляет скан в <prefix>.ScanReceived
func publishScan(ctx context.Context, bus eventbus.EventBus, file string, seed int64, source string) error {
	var (
		data []byte
		err  error
	)
	if file != "" {
		data, err = os.ReadFile(file)
	} else {
		var gen *terrain.Generator
		gen, err = terrain.NewGenerator(terrain.DefaultConfig(seed))
		if err == nil {
			p := gen.Payload()
			rev := time.Now().Unix()
			p.Rev = &rev
			data, err = p.Marshal()
		}
	}
	if err != nil {
		return err
	}

	ev, err := eventbus.NewEnvelope(eventbus.EventScanReceived, source, data)
	if err != nil {
		return err
	}
	ev.Priority = 5
	if err := bus.Publish(ctx, ev); err != nil {
		return err
	}
	fmt.Printf("✅ Скан %s (%d байт) опубликован, id=%s\n", source, len(data), ev.ID)
	return nil
}

func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
