package room

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/manpreetbhatti/plaza/internal/geometry"
)

// Payload is a shared content object as clients send it. Fields the server
// does not interpret are kept and sent back unchanged.
type Payload struct {
	ID        string
	Type      string
	Pose      geometry.Pose
	Size      geometry.Vec2
	Wallpaper bool

	info ContentInfo
	raw  json.RawMessage
}

// ContentInfo is the subset of a payload that is sent without geometry.
type ContentInfo struct {
	ID        string          `json:"id"`
	Type      string          `json:"type,omitempty"`
	Name      string          `json:"name,omitempty"`
	OwnerName string          `json:"ownerName,omitempty"`
	Color     json.RawMessage `json:"color,omitempty"`
	TextColor json.RawMessage `json:"textColor,omitempty"`
}

// Equal compares two info records field by field.
func (i ContentInfo) Equal(o ContentInfo) bool {
	return i.ID == o.ID && i.Type == o.Type && i.Name == o.Name && i.OwnerName == o.OwnerName &&
		bytes.Equal(i.Color, o.Color) && bytes.Equal(i.TextColor, o.TextColor)
}

type wirePose struct {
	Position    geometry.Vec2 `json:"position"`
	Orientation float64       `json:"orientation"`
}

type wirePayload struct {
	ContentInfo
	Pose      *wirePose      `json:"pose"`
	Size      *geometry.Vec2 `json:"size"`
	Wallpaper bool           `json:"wallpaper"`
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	var w wirePayload
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.ID == "" {
		return fmt.Errorf("content without id")
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return err
	}
	w.Color = compactRaw(w.Color)
	w.TextColor = compactRaw(w.TextColor)

	*p = Payload{
		ID:        w.ID,
		Type:      w.Type,
		Wallpaper: w.Wallpaper,
		info:      w.ContentInfo,
		raw:       compact.Bytes(),
	}
	if w.Pose != nil {
		p.Pose = geometry.Pose{Position: w.Pose.Position, Orientation: w.Pose.Orientation}
	}
	if w.Size != nil {
		p.Size = *w.Size
	}
	return nil
}

func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p.raw) > 0 {
		return p.raw, nil
	}
	return json.Marshal(wirePayload{
		ContentInfo: p.Info(),
		Pose:        &wirePose{Position: p.Pose.Position, Orientation: p.Pose.Orientation},
		Size:        &p.Size,
		Wallpaper:   p.Wallpaper,
	})
}

// Info returns the geometry-free part of the payload.
func (p Payload) Info() ContentInfo {
	info := p.info
	info.ID = p.ID
	if info.Type == "" {
		info.Type = p.Type
	}
	return info
}

// Rect is the payload's bounding box in room coordinates.
func (p Payload) Rect() geometry.Rect {
	return geometry.BoundingRect(p.Pose, p.Size)
}

// ParsePayloads decodes the value of a content update message.
func ParsePayloads(v string) ([]Payload, error) {
	var payloads []Payload
	if err := json.Unmarshal([]byte(v), &payloads); err != nil {
		return nil, err
	}
	return payloads, nil
}

// Content is a room content plus the ticks of its last geometry and info
// changes.
type Content struct {
	Payload        Payload `json:"content"`
	TimeUpdate     int64   `json:"timeUpdate"`
	TimeUpdateInfo int64   `json:"timeUpdateInfo"`
}

func (c *Content) ID() string { return c.Payload.ID }

func compactRaw(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}
