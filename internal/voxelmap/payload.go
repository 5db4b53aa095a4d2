package voxelmap

import (
	"encoding/json"

	"github.com/annel0/voxelnav/internal/vec"
)

// Payload типизированное представление JSON-экспорта радара.
//
// Обязательные поля: size, origin, cellSize. Остальные необязательны.
// Отдельные точки и боксы не валидируются на этапе декодирования:
// некорректные записи отбрасываются построителем.
type Payload struct {
	Size          []int            `json:"size"`
	Origin        []float64        `json:"origin"`
	CellSize      *float64         `json:"cellSize"`
	SolidPoints   [][]float64      `json:"solidPoints,omitempty"`
	Solid         []int64          `json:"solid,omitempty"`
	GridsAABB     [][]float64      `json:"gridsAabb,omitempty"`
	Contacts      []ContactPayload `json:"contacts,omitempty"`
	Rev           *int64           `json:"rev,omitempty"`
	TsMs          *int64           `json:"tsMs,omitempty"`
	GravityVector []float64        `json:"gravityVector,omitempty"`
}

// ContactPayload контакт радара в исходном виде
type ContactPayload struct {
	Type string    `json:"type"`
	ID   int64     `json:"id"`
	Pos  []float64 `json:"pos"`
}

// telemetryEnvelope форма телеметрии радара: {"raw": {...}, "contacts": [...]}
type telemetryEnvelope struct {
	Raw      json.RawMessage  `json:"raw"`
	Contacts []ContactPayload `json:"contacts"`
}

// ParsePayload декодирует JSON скана. Поддерживает как плоский экспорт,
// так и обёртку телеметрии с полем "raw".
func ParsePayload(data []byte) (*Payload, error) {
	var env telemetryEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ConfigurationError{Field: "payload", Reason: "invalid JSON", Err: err}
	}

	body := data
	wrapped := len(env.Raw) > 0 && string(env.Raw) != "null"
	if wrapped {
		body = env.Raw
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, &ConfigurationError{Field: "payload", Reason: "malformed field", Err: err}
	}
	if wrapped && len(p.Contacts) == 0 {
		p.Contacts = env.Contacts
	}
	return &p, nil
}

// NewPayload собирает минимальный payload с обязательными полями
func NewPayload(size vec.Vec3, origin vec.Vec3Float, cellSize float64) *Payload {
	cs := cellSize
	return &Payload{
		Size:     []int{size.X, size.Y, size.Z},
		Origin:   []float64{origin.X, origin.Y, origin.Z},
		CellSize: &cs,
	}
}

// AddPoint добавляет мировую точку центра твёрдого вокселя
func (p *Payload) AddPoint(pt vec.Vec3Float) {
	p.SolidPoints = append(p.SolidPoints, []float64{pt.X, pt.Y, pt.Z})
}

// Marshal кодирует payload обратно в JSON
func (p *Payload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}
