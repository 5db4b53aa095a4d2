package navigation

import (
	"math"

	"github.com/annel0/voxelnav/internal/voxelmap"
)

// PassabilityProfile описывает возможности движущегося объекта
type PassabilityProfile struct {
	RobotRadius           float64 `yaml:"robot_radius" json:"robotRadius"`
	MaxSlopeDegrees       float64 `yaml:"max_slope_degrees" json:"maxSlopeDegrees"`
	MaxStepCells          int     `yaml:"max_step_cells" json:"maxStepCells"`
	AllowVerticalMovement bool    `yaml:"allow_vertical_movement" json:"allowVerticalMovement"`
	AllowDiagonal         bool    `yaml:"allow_diagonal" json:"allowDiagonal"`
}

// DefaultProfile возвращает профиль по умолчанию: точечный объект,
// уклон до 45°, ступень в одну ячейку, без чисто вертикальных шагов,
// 26-связность.
func DefaultProfile() PassabilityProfile {
	return PassabilityProfile{
		RobotRadius:     0,
		MaxSlopeDegrees: 45,
		MaxStepCells:    1,
		AllowDiagonal:   true,
	}
}

// Validate проверяет границы параметров
func (p PassabilityProfile) Validate() error {
	if math.IsNaN(p.RobotRadius) || math.IsInf(p.RobotRadius, 0) || p.RobotRadius < 0 {
		return voxelmap.NewConfigurationError("robotRadius", "must be a finite number >= 0")
	}
	if math.IsNaN(p.MaxSlopeDegrees) || p.MaxSlopeDegrees < 0 || p.MaxSlopeDegrees > 180 {
		return voxelmap.NewConfigurationError("maxSlopeDegrees", "must be within [0, 180]")
	}
	if p.MaxStepCells < 0 {
		return voxelmap.NewConfigurationError("maxStepCells", "must be non-negative")
	}
	return nil
}
