package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/annel0/voxelnav/internal/config"
	"github.com/annel0/voxelnav/internal/navigation"
	"github.com/annel0/voxelnav/internal/terrain"
	"github.com/annel0/voxelnav/internal/vec"
	"github.com/annel0/voxelnav/internal/voxelmap"
)

func main() {
	var (
		file          = flag.String("file", "", "JSON скана радара")
		seed          = flag.Int64("terrain", 0, "сгенерировать рельеф Перлина с этим seed (если -file не задан)")
		export        = flag.String("export", "", "сохранить payload сгенерированного рельефа в файл")
		configPath    = flag.String("config", "", "YAML конфигурация с профилем и пресетами")
		preset        = flag.String("preset", "", "имя пресета профиля из конфигурации")
		radius        = flag.Float64("radius", -1, "радиус робота, м (переопределяет профиль)")
		slope         = flag.Float64("slope", -1, "максимальный уклон, градусы")
		step          = flag.Int("step", -1, "максимальная ступень, ячеек")
		vertical      = flag.Bool("vertical", false, "разрешить чисто вертикальные шаги")
		sixConnected  = flag.Bool("six", false, "6-связность вместо 26")
		surfaceAt     = flag.String("surface", "", "запрос высоты поверхности: x,z")
		startFlag     = flag.String("start", "", "старт пути: x,y,z")
		goalFlag      = flag.String("goal", "", "цель пути: x,y,z")
		maxExpansions = flag.Int("max-expansions", 0, "лимит раскрытий A* (0: без лимита)")
		timeout       = flag.Duration("timeout", 30*time.Second, "таймаут поиска")
	)
	flag.Parse()

	m, gen, err := loadMap(*file, *seed, *export)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	printStats(m)

	if *surfaceAt != "" {
		xz, err := parseFloats(*surfaceAt, 2)
		if err != nil {
			log.Fatalf("❌ -surface: %v", err)
		}
		if h, ok := m.SurfaceHeight(xz[0], xz[1]); ok {
			fmt.Printf("Поверхность (%.2f, %.2f): %.3f\n", xz[0], xz[1], h)
		} else {
			fmt.Printf("Поверхность (%.2f, %.2f): не найдена\n", xz[0], xz[1])
		}
	}

	profile, err := resolveProfile(*configPath, *preset)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	if *radius >= 0 {
		profile.RobotRadius = *radius
	}
	if *slope >= 0 {
		profile.MaxSlopeDegrees = *slope
	}
	if *step >= 0 {
		profile.MaxStepCells = *step
	}
	if *vertical {
		profile.AllowVerticalMovement = true
	}
	if *sixConnected {
		profile.AllowDiagonal = false
	}

	start, goal, ok, err := endpoints(m, gen, *startFlag, *goalFlag)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	if !ok {
		return
	}
	if err := plan(m, profile, start, goal, *maxExpansions, *timeout); err != nil {
		log.Fatalf("❌ %v", err)
	}
}

// loadMap читает скан из файла или генерирует рельеф
func loadMap(file string, seed int64, export string) (*voxelmap.OccupancyMap, *terrain.Generator, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, nil, err
		}
		m, err := voxelmap.BuildJSON(data)
		return m, nil, err
	}

	gen, err := terrain.NewGenerator(terrain.DefaultConfig(seed))
	if err != nil {
		return nil, nil, err
	}
	if export != "" {
		data, err := gen.Payload().Marshal()
		if err != nil {
			return nil, nil, err
		}
		if err := os.WriteFile(export, data, 0o644); err != nil {
			return nil, nil, err
		}
		fmt.Printf("Payload сохранён в %s (%d байт)\n", export, len(data))
	}
	m, err := gen.Map()
	return m, gen, err
}

func printStats(m *voxelmap.OccupancyMap) {
	size := m.Size()
	st := m.Stats()
	fmt.Printf("Карта: size=%v origin=%v cell=%.3f занято=%d\n", size, m.Origin(), m.CellSize(), m.OccupiedCount())
	fmt.Printf("Приём: точки %d/%d, индексы %d/%d, боксы %d/%d (принято/отброшено)\n",
		st.PointsAccepted, st.PointsDropped, st.LegacyAccepted, st.LegacyDropped, st.BoxesApplied, st.BoxesDropped)
	if rev, ok := m.Revision(); ok {
		fmt.Printf("Ревизия: %d\n", rev)
	}
	if g, ok := m.Gravity(); ok {
		fmt.Printf("Гравитация: %v\n", g)
	}
	if contacts := m.Contacts(); len(contacts) > 0 {
		fmt.Printf("Контакты: %d\n", len(contacts))
	}
}

func resolveProfile(path, preset string) (navigation.PassabilityProfile, error) {
	if path == "" && preset == "" {
		return navigation.DefaultProfile(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return navigation.PassabilityProfile{}, err
	}
	p, ok := cfg.Preset(preset)
	if !ok {
		return p, fmt.Errorf("пресет %q не найден", preset)
	}
	return p, nil
}

// endpoints берёт старт и цель из флагов; для рельефа без флагов: противоположные углы над поверхностью
func endpoints(m *voxelmap.OccupancyMap, gen *terrain.Generator, startFlag, goalFlag string) (vec.Vec3Float, vec.Vec3Float, bool, error) {
	if startFlag != "" && goalFlag != "" {
		s, err := parseFloats(startFlag, 3)
		if err != nil {
			return vec.Vec3Float{}, vec.Vec3Float{}, false, fmt.Errorf("-start: %w", err)
		}
		g, err := parseFloats(goalFlag, 3)
		if err != nil {
			return vec.Vec3Float{}, vec.Vec3Float{}, false, fmt.Errorf("-goal: %w", err)
		}
		return vec.Vec3Float{X: s[0], Y: s[1], Z: s[2]}, vec.Vec3Float{X: g[0], Y: g[1], Z: g[2]}, true, nil
	}
	if gen == nil {
		return vec.Vec3Float{}, vec.Vec3Float{}, false, nil
	}
	size := m.Size()
	above := func(ix, iz int) vec.Vec3Float {
		top := gen.Height(ix, iz)
		return m.IndexToWorldCenter(vec.Vec3{X: ix, Y: top + 1, Z: iz})
	}
	return above(2, 2), above(size.X-3, size.Z-3), true, nil
}

func plan(m *voxelmap.OccupancyMap, profile navigation.PassabilityProfile, start, goal vec.Vec3Float, limit int, timeout time.Duration) error {
	pf, err := navigation.NewPathFinder(m, profile)
	if err != nil {
		return err
	}
	s, okS := m.WorldToIndex(start)
	g, okG := m.WorldToIndex(goal)
	if !okS || !okG {
		fmt.Println("Путь: старт или цель вне карты")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	began := time.Now()
	res, err := pf.FindPathContext(ctx, s, g, navigation.SearchOptions{MaxExpansions: limit})
	elapsed := time.Since(began)
	if errors.Is(err, navigation.ErrSearchBudgetExceeded) || errors.Is(err, context.DeadlineExceeded) {
		fmt.Printf("Путь: поиск прерван после %d раскрытий (%s): %v\n", res.Expanded, elapsed, err)
		return nil
	}
	if err != nil {
		return err
	}
	if !res.Found() {
		fmt.Printf("Путь %v → %v не найден (раскрыто %d за %s)\n", s, g, res.Expanded, elapsed)
		return nil
	}
	fmt.Printf("Путь %v → %v: %d узлов, стоимость %.3f, раскрыто %d за %s\n",
		s, g, len(res.Path), res.Cost, res.Expanded, elapsed)
	for _, p := range pf.ToWorld(res.Path) {
		fmt.Printf("  %v\n", p)
	}
	return nil
}

func parseFloats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("ожидалось %d чисел через запятую, получено %q", n, s)
	}
	out := make([]float64, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
