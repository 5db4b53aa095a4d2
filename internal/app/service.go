package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/annel0/voxelnav/internal/cache"
	"github.com/annel0/voxelnav/internal/eventbus"
	"github.com/annel0/voxelnav/internal/logging"
	"github.com/annel0/voxelnav/internal/navigation"
	"github.com/annel0/voxelnav/internal/observability"
	"github.com/annel0/voxelnav/internal/vec"
	"github.com/annel0/voxelnav/internal/voxelmap"
)

var (
	// ErrNoMap ни один скан ещё не принят
	ErrNoMap = errors.New("no occupancy map ingested yet")
	// ErrStaleRevision ревизия скана старше текущей карты
	ErrStaleRevision = errors.New("scan revision is older than the current map")
	// ErrNoStore сервис создан без хранилища сканов
	ErrNoStore = errors.New("scan store is not configured")
)

// Options параметры NavigationService
type Options struct {
	Profile       navigation.PassabilityProfile
	Presets       map[string]navigation.PassabilityProfile
	SurfaceRadius int
	// MaxExpansions лимит раскрытий A* на запрос; 0: без лимита
	MaxExpansions int
	// PlanTimeout 0: без таймаута
	PlanTimeout   time.Duration
	// MaxSamples лимит точек одного SampleSurface; 0: DefaultMaxSamples
	MaxSamples    int
	RejectStale   bool
	DefaultSource string

	Store *cache.ScanStore
	Bus   eventbus.EventBus
	// Registerer nil: метрики не регистрируются
	Registerer prometheus.Registerer
}

// snapshot текущая карта вместе с кешем поисковиков для неё
type snapshot struct {
	m          *voxelmap.OccupancyMap
	source     string
	ingestedAt time.Time

	mu      sync.Mutex
	finders map[navigation.PassabilityProfile]*navigation.PathFinder
}

// maxCachedFinders предел кеша поисковиков одного снимка
const maxCachedFinders = 64

// finderKey профиль, в котором радиус заменён числом ячеек раздувания:
// радиусы с одинаковым radiusCells дают одинаковый поиск.
func (s *snapshot) finderKey(profile navigation.PassabilityProfile) navigation.PassabilityProfile {
	profile.RobotRadius = float64(s.m.RadiusCells(profile.RobotRadius))
	return profile
}

// finder возвращает PathFinder для профиля, строя раздутую сетку один раз.
// Сверх maxCachedFinders поисковик строится без кеширования.
func (s *snapshot) finder(profile navigation.PassabilityProfile) (*navigation.PathFinder, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	key := s.finderKey(profile)
	s.mu.Lock()
	defer s.mu.Unlock()
	if pf, ok := s.finders[key]; ok {
		return pf, nil
	}
	pf, err := navigation.NewPathFinder(s.m, profile)
	if err != nil {
		return nil, err
	}
	if len(s.finders) < maxCachedFinders {
		s.finders[key] = pf
	}
	return pf, nil
}

// NavigationService держит актуальную карту и обслуживает запросы к ней.
// Карта заменяется атомарно; читатели не блокируются.
type NavigationService struct {
	opts    Options
	current atomic.Pointer[snapshot]
	metrics *serviceMetrics
	log     *logging.Logger

	subsMu sync.Mutex
	subs   []eventbus.Subscription
}

// NewNavigationService проверяет профили и создаёт сервис
func NewNavigationService(opts Options) (*NavigationService, error) {
	if err := opts.Profile.Validate(); err != nil {
		return nil, err
	}
	for name, p := range opts.Presets {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("preset %s: %w", name, err)
		}
	}
	if opts.SurfaceRadius <= 0 {
		opts.SurfaceRadius = voxelmap.DefaultSurfaceSearchRadius
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = DefaultMaxSamples
	}
	if opts.DefaultSource == "" {
		opts.DefaultSource = "radar"
	}
	s := &NavigationService{
		opts: opts,
		log:  logging.GetNavigationLogger(),
	}
	s.metrics = newServiceMetrics(opts.Registerer, s.occupiedGauge, s.inflationGauge)
	return s, nil
}

func (s *NavigationService) occupiedGauge() float64 {
	if snap := s.current.Load(); snap != nil {
		return float64(snap.m.OccupiedCount())
	}
	return 0
}

func (s *NavigationService) inflationGauge() float64 {
	if snap := s.current.Load(); snap != nil {
		_, computed := snap.m.InflationStats()
		return float64(computed)
	}
	return 0
}

// Ingest строит карту из сырого скана и делает её текущей
func (s *NavigationService) Ingest(ctx context.Context, source string, raw []byte) (*voxelmap.OccupancyMap, error) {
	return s.ingest(ctx, source, raw, true)
}

func (s *NavigationService) ingest(ctx context.Context, source string, raw []byte, persist bool) (m *voxelmap.OccupancyMap, err error) {
	if source == "" {
		source = s.opts.DefaultSource
	}
	ctx, span := observability.StartSpan(ctx, "voxelnav.ingest",
		attribute.String("scan.source", source), attribute.Int("scan.bytes", len(raw)))
	defer func() { observability.EndSpan(span, err) }()

	m, err = voxelmap.BuildJSON(raw)
	if err != nil {
		s.metrics.scans.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("build scan %s: %w", source, err)
	}

	next := &snapshot{
		m:          m,
		source:     source,
		ingestedAt: time.Now(),
		finders:    make(map[navigation.PassabilityProfile]*navigation.PathFinder),
	}
	for {
		cur := s.current.Load()
		if s.opts.RejectStale && cur != nil && isStale(cur.m, m) {
			s.metrics.scans.WithLabelValues("stale").Inc()
			curRev, _ := cur.m.Revision()
			newRev, _ := m.Revision()
			return nil, fmt.Errorf("scan %s rev=%d, current rev=%d: %w", source, newRev, curRev, ErrStaleRevision)
		}
		if s.current.CompareAndSwap(cur, next) {
			break
		}
	}

	stats := m.Stats()
	s.metrics.scans.WithLabelValues("accepted").Inc()
	s.metrics.pointsDropped.Add(float64(stats.Dropped()))
	size := m.Size()
	rev, hasRev := m.Revision()
	logging.LogScanIngested(source, rev, [3]int{size.X, size.Y, size.Z}, m.OccupiedCount(), stats.Dropped())
	span.SetAttributes(attribute.Int("scan.occupied", m.OccupiedCount()))

	// Сохранение и события не отменяют принятие карты
	if persist && s.opts.Store != nil {
		if serr := s.opts.Store.Save(ctx, source, raw); serr != nil {
			s.log.Warn("⚠️ Скан %s не сохранён в кеш: %v", source, serr)
		}
	}
	payload := eventbus.ScanIngestedPayload{
		Source:   source,
		Size:     [3]int{size.X, size.Y, size.Z},
		Occupied: m.OccupiedCount(),
		Dropped:  stats.Dropped(),
		Contacts: len(m.Contacts()),
	}
	if hasRev {
		payload.Revision = &rev
	}
	if ts, ok := m.TimestampMs(); ok {
		payload.TimestampMs = &ts
	}
	_, payload.HasGravity = m.Gravity()
	s.publish(ctx, eventbus.EventScanIngested, source, payload)
	return m, nil
}

// isStale новая карта старше текущей; без ревизии у любой из карт скан принимается
func isStale(cur, next *voxelmap.OccupancyMap) bool {
	curRev, ok := cur.Revision()
	if !ok {
		return false
	}
	nextRev, ok := next.Revision()
	if !ok {
		return false
	}
	return nextRev < curRev
}

func (s *NavigationService) publish(ctx context.Context, eventType, source string, payload any) {
	if s.opts.Bus == nil {
		return
	}
	ev, err := eventbus.NewEnvelope(eventType, source, payload)
	if err != nil {
		s.log.Warn("⚠️ Событие %s не сформировано: %v", eventType, err)
		return
	}
	if err := s.opts.Bus.Publish(ctx, ev); err != nil {
		s.log.Warn("⚠️ Событие %s не опубликовано: %v", eventType, err)
	}
}

// Current возвращает текущую карту
func (s *NavigationService) Current() (*voxelmap.OccupancyMap, error) {
	snap := s.current.Load()
	if snap == nil {
		return nil, ErrNoMap
	}
	return snap.m, nil
}

// MapInfo сводка о текущей карте
type MapInfo struct {
	Source      string              `json:"source"`
	IngestedAt  time.Time           `json:"ingestedAt"`
	Revision    *int64              `json:"rev,omitempty"`
	TimestampMs *int64              `json:"tsMs,omitempty"`
	Size        vec.Vec3            `json:"size"`
	Origin      vec.Vec3Float       `json:"origin"`
	CellSize    float64             `json:"cellSize"`
	Occupied    int                 `json:"occupied"`
	Gravity     *vec.Vec3Float      `json:"gravity,omitempty"`
	Contacts    []voxelmap.Contact  `json:"contacts"`
	Stats       voxelmap.BuildStats `json:"stats"`
	Inflations  int                 `json:"inflations"`
}

// Info возвращает сводку о текущей карте
func (s *NavigationService) Info() (MapInfo, error) {
	snap := s.current.Load()
	if snap == nil {
		return MapInfo{}, ErrNoMap
	}
	m := snap.m
	info := MapInfo{
		Source:     snap.source,
		IngestedAt: snap.ingestedAt,
		Size:       m.Size(),
		Origin:     m.Origin(),
		CellSize:   m.CellSize(),
		Occupied:   m.OccupiedCount(),
		Contacts:   m.Contacts(),
		Stats:      m.Stats(),
	}
	if rev, ok := m.Revision(); ok {
		info.Revision = &rev
	}
	if ts, ok := m.TimestampMs(); ok {
		info.TimestampMs = &ts
	}
	if g, ok := m.Gravity(); ok {
		info.Gravity = &g
	}
	info.Inflations, _ = m.InflationStats()
	return info, nil
}

// SurfaceHeight высота поверхности с радиусом поиска из настроек
func (s *NavigationService) SurfaceHeight(x, z float64) (float64, bool, error) {
	return s.SurfaceHeightWithin(x, z, s.opts.SurfaceRadius)
}

// SurfaceHeightWithin высота поверхности с явным радиусом поиска
func (s *NavigationService) SurfaceHeightWithin(x, z float64, radius int) (float64, bool, error) {
	m, err := s.Current()
	if err != nil {
		return 0, false, err
	}
	h, ok := m.SurfaceHeightWithin(x, z, radius)
	if ok {
		s.metrics.surfaceQueries.WithLabelValues("hit").Inc()
	} else {
		s.metrics.surfaceQueries.WithLabelValues("miss").Inc()
	}
	return h, ok, nil
}

// DefaultMaxSamples лимит точек профиля поверхности по умолчанию
const DefaultMaxSamples = 10_000

// SampleSurface профиль поверхности вдоль горизонтального направления.
// step должен быть положительным, distance/step не больше MaxSamples.
func (s *NavigationService) SampleSurface(start, dir vec.Vec3Float, distance, step float64) (voxelmap.SurfaceSample, error) {
	if !(step > 0) || math.IsInf(step, 0) {
		return voxelmap.SurfaceSample{}, voxelmap.NewConfigurationError("step", "must be a finite number > 0")
	}
	if !(distance >= 0) || math.IsInf(distance, 0) {
		return voxelmap.SurfaceSample{}, voxelmap.NewConfigurationError("distance", "must be a finite number >= 0")
	}
	if distance/step > float64(s.opts.MaxSamples) {
		return voxelmap.SurfaceSample{}, voxelmap.NewConfigurationError("distance",
			fmt.Sprintf("distance/step exceeds %d samples", s.opts.MaxSamples))
	}
	m, err := s.Current()
	if err != nil {
		return voxelmap.SurfaceSample{}, err
	}
	return m.SampleSurfaceAlongPath(start, dir, distance, step), nil
}

// PlanRequest запрос пути. Profile важнее Preset; без обоих берётся профиль по умолчанию.
type PlanRequest struct {
	Start   vec.Vec3Float                  `json:"start"`
	Goal    vec.Vec3Float                  `json:"goal"`
	Profile *navigation.PassabilityProfile `json:"profile,omitempty"`
	Preset  string                         `json:"preset,omitempty"`
	// MaxExpansions 0: лимит сервиса
	MaxExpansions int `json:"maxExpansions,omitempty"`
}

// PlanResult результат планирования
type PlanResult struct {
	ID       string          `json:"id"`
	Found    bool            `json:"found"`
	Path     []vec.Vec3Float `json:"path"`
	Indices  []vec.Vec3      `json:"indices"`
	Cost     float64         `json:"cost"`
	Expanded int             `json:"expanded"`
	Elapsed  time.Duration   `json:"elapsedNs"`
	Revision *int64          `json:"rev,omitempty"`
}

// ResolveProfile выбирает профиль запроса
func (s *NavigationService) ResolveProfile(req PlanRequest) (navigation.PassabilityProfile, error) {
	if req.Profile != nil {
		return *req.Profile, req.Profile.Validate()
	}
	if req.Preset != "" {
		p, ok := s.opts.Presets[req.Preset]
		if !ok {
			return navigation.PassabilityProfile{}, voxelmap.NewConfigurationError("preset", fmt.Sprintf("unknown preset %q", req.Preset))
		}
		return p, nil
	}
	return s.opts.Profile, nil
}

// Plan ищет путь по текущей карте и публикует PathPlanned.
// Недостижимая цель не ошибка: Found == false и пустой путь.
func (s *NavigationService) Plan(ctx context.Context, req PlanRequest) (res *PlanResult, err error) {
	res = &PlanResult{ID: uuid.NewString(), Path: []vec.Vec3Float{}, Indices: []vec.Vec3{}}
	ctx, span := observability.StartSpan(ctx, "voxelnav.plan", attribute.String("plan.id", res.ID))
	started := time.Now()
	defer func() {
		res.Elapsed = time.Since(started)
		s.finishPlan(ctx, res, err)
		observability.EndSpan(span, err)
	}()

	snap := s.current.Load()
	if snap == nil {
		return res, ErrNoMap
	}
	if rev, ok := snap.m.Revision(); ok {
		res.Revision = &rev
	}
	profile, err := s.ResolveProfile(req)
	if err != nil {
		return res, err
	}
	pf, err := snap.finder(profile)
	if err != nil {
		return res, err
	}

	startIdx, okStart := snap.m.WorldToIndex(req.Start)
	goalIdx, okGoal := snap.m.WorldToIndex(req.Goal)
	if !okStart || !okGoal {
		return res, nil
	}

	if s.opts.PlanTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.PlanTimeout)
		defer cancel()
	}
	limit := s.opts.MaxExpansions
	if req.MaxExpansions > 0 && (limit == 0 || req.MaxExpansions < limit) {
		limit = req.MaxExpansions
	}

	found, err := pf.FindPathContext(ctx, startIdx, goalIdx, navigation.SearchOptions{MaxExpansions: limit})
	res.Expanded = found.Expanded
	if err != nil {
		return res, fmt.Errorf("plan %s: %w", res.ID, err)
	}
	if found.Found() {
		res.Found = true
		res.Indices = found.Path
		res.Path = pf.ToWorld(found.Path)
		res.Cost = found.Cost
	}
	return res, nil
}

func (s *NavigationService) finishPlan(ctx context.Context, res *PlanResult, err error) {
	outcome := "not_found"
	switch {
	case err != nil:
		outcome = "error"
	case res.Found:
		outcome = "found"
	}
	s.metrics.plans.WithLabelValues(outcome).Inc()
	s.metrics.planDuration.Observe(res.Elapsed.Seconds())
	s.metrics.planExpanded.Observe(float64(res.Expanded))
	logging.LogPlan(res.ID, res.Found, len(res.Path), res.Expanded, res.Elapsed)

	if errors.Is(err, ErrNoMap) {
		return
	}
	payload := eventbus.PathPlannedPayload{
		PlanID:   res.ID,
		Found:    res.Found,
		Path:     make([][3]float64, len(res.Path)),
		Cost:     res.Cost,
		Expanded: res.Expanded,
	}
	for i, p := range res.Path {
		payload.Path[i] = [3]float64{p.X, p.Y, p.Z}
	}
	if err != nil {
		payload.Error = err.Error()
	}
	// Событие уходит и после отмены запроса
	s.publish(context.WithoutCancel(ctx), eventbus.EventPathPlanned, "navigation", payload)
}

// Restore поднимает карту источника из кеша сканов (горячий уровень, затем архив)
func (s *NavigationService) Restore(ctx context.Context, source string) (*voxelmap.OccupancyMap, error) {
	if s.opts.Store == nil {
		return nil, ErrNoStore
	}
	if source == "" {
		source = s.opts.DefaultSource
	}
	raw, err := s.opts.Store.Load(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("restore scan %s: %w", source, err)
	}
	m, err := s.ingest(ctx, source, raw, false)
	if err != nil {
		return nil, err
	}
	s.log.Info("♻️ Карта %s восстановлена из кеша (%d занятых ячеек)", source, m.OccupiedCount())
	return m, nil
}

// HandleScanEvent обработчик EventScanReceived, payload события содержит сырой JSON скана
func (s *NavigationService) HandleScanEvent(ctx context.Context, ev *eventbus.Envelope) {
	if ev == nil || ev.EventType != eventbus.EventScanReceived {
		return
	}
	if _, err := s.Ingest(ctx, ev.Source, ev.Payload); err != nil {
		if errors.Is(err, ErrStaleRevision) {
			s.log.Debug("⏭️ Скан %s пропущен: %v", ev.ID, err)
			return
		}
		s.log.Warn("❌ Скан %s из %s отклонён: %v", ev.ID, ev.Source, err)
	}
}

// Start подписывает сервис на входящие сканы шины
func (s *NavigationService) Start(ctx context.Context) error {
	if s.opts.Bus == nil {
		return nil
	}
	sub, err := s.opts.Bus.Subscribe(ctx, eventbus.Filter{Types: []string{eventbus.EventScanReceived}}, s.HandleScanEvent)
	if err != nil {
		return fmt.Errorf("subscribe scans: %w", err)
	}
	s.subsMu.Lock()
	s.subs = append(s.subs, sub)
	s.subsMu.Unlock()
	s.log.Info("📥 Подписка на %s активна", eventbus.EventScanReceived)
	return nil
}

// WatchInvalidations перечитывает карту, когда другой экземпляр сохранил новый скан
func (s *NavigationService) WatchInvalidations(ctx context.Context, inv cache.ScanInvalidator) error {
	return inv.SubscribeInvalidations(ctx, func(key string) error {
		source, ok := cache.SourceFromKey(key)
		if !ok {
			return nil
		}
		if _, err := s.Restore(ctx, source); err != nil && !errors.Is(err, ErrStaleRevision) {
			return err
		}
		return nil
	})
}

// Stop снимает подписки
func (s *NavigationService) Stop() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
}
