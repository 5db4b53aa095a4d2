package terrain

import (
	"fmt"
	"math"

	"github.com/aquilax/go-perlin"

	"github.com/annel0/voxelnav/internal/vec"
	"github.com/annel0/voxelnav/internal/voxelmap"
)

// Параметры шума Перлина
const (
	perlinAlpha   = 2.0 // Сглаживание шума
	perlinBeta    = 2.0 // Частота шума
	perlinOctaves = 3   // Количество октав
)

// Config параметры синтетического рельефа
type Config struct {
	Size     vec.Vec3
	Origin   vec.Vec3Float
	CellSize float64
	Seed     int64

	// BaseHeight минимальная высота поверхности в ячейках
	BaseHeight int
	// Amplitude размах рельефа в ячейках
	Amplitude int
	// Scale сколько ячеек приходится на единицу координат шума
	Scale float64
	// FloorDepth толщина заполнения под поверхностью; 0: до дна сетки
	FloorDepth int
}

// DefaultConfig рельеф 64x32x64 с ячейкой 5 м
func DefaultConfig(seed int64) Config {
	return Config{
		Size:       vec.Vec3{X: 64, Y: 32, Z: 64},
		CellSize:   5,
		Seed:       seed,
		BaseHeight: 4,
		Amplitude:  12,
		Scale:      24,
		FloorDepth: 3,
	}
}

// Validate проверяет параметры
func (c Config) Validate() error {
	if c.Size.X <= 0 || c.Size.Y <= 0 || c.Size.Z <= 0 {
		return fmt.Errorf("terrain: size must be positive, got %v", c.Size)
	}
	if !(c.CellSize > 0) {
		return fmt.Errorf("terrain: cell size must be > 0")
	}
	if !(c.Scale > 0) {
		return fmt.Errorf("terrain: scale must be > 0")
	}
	if c.BaseHeight < 0 || c.Amplitude < 0 || c.FloorDepth < 0 {
		return fmt.Errorf("terrain: heights must be non-negative")
	}
	return nil
}

// Generator строит скан по карте высот из шума Перлина.
// Один и тот же seed даёт один и тот же рельеф.
type Generator struct {
	cfg   Config
	noise *perlin.Perlin
}

// NewGenerator создаёт генератор
func NewGenerator(cfg Config) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Generator{
		cfg:   cfg,
		noise: perlin.NewPerlin(perlinAlpha, perlinBeta, perlinOctaves, cfg.Seed),
	}, nil
}

// Height индекс верхнего твёрдого вокселя колонны (x, z), обрезанный по сетке
func (g *Generator) Height(x, z int) int {
	n := g.noise.Noise2D(float64(x)/g.cfg.Scale, float64(z)/g.cfg.Scale)
	// шум в [-1, 1] → [0, 1]
	t := (n + 1) / 2
	h := g.cfg.BaseHeight + int(math.Round(t*float64(g.cfg.Amplitude)))
	if h > g.cfg.Size.Y-1 {
		h = g.cfg.Size.Y - 1
	}
	if h < 0 {
		h = 0
	}
	return h
}

// Payload строит скан: центры твёрдых вокселей рельефа и гравитация вниз по Y
func (g *Generator) Payload() *voxelmap.Payload {
	p := voxelmap.NewPayload(g.cfg.Size, g.cfg.Origin, g.cfg.CellSize)
	p.GravityVector = []float64{0, -9.81, 0}

	for x := 0; x < g.cfg.Size.X; x++ {
		for z := 0; z < g.cfg.Size.Z; z++ {
			top := g.Height(x, z)
			bottom := 0
			if g.cfg.FloorDepth > 0 {
				bottom = top - g.cfg.FloorDepth + 1
				if bottom < 0 {
					bottom = 0
				}
			}
			for y := bottom; y <= top; y++ {
				p.AddPoint(g.center(vec.Vec3{X: x, Y: y, Z: z}))
			}
		}
	}
	return p
}

// Map строит карту занятости напрямую
func (g *Generator) Map() (*voxelmap.OccupancyMap, error) {
	return voxelmap.Build(g.Payload())
}

func (g *Generator) center(i vec.Vec3) vec.Vec3Float {
	return vec.Vec3Float{
		X: g.cfg.Origin.X + (float64(i.X)+0.5)*g.cfg.CellSize,
		Y: g.cfg.Origin.Y + (float64(i.Y)+0.5)*g.cfg.CellSize,
		Z: g.cfg.Origin.Z + (float64(i.Z)+0.5)*g.cfg.CellSize,
	}
}
