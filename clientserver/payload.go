// ABOUTME: JSON payloads carried by NEW_SCREEN and PARAM_REQUEST/NEW_PARAMS frames.
// ABOUTME: Coordinates encode NaN (missing gaze or undrawn stimulus) as JSON null.
package clientserver

import (
	"bytes"
	"encoding/json"
	"math"
)

// Coord is a two-dimensional position in degrees of visual angle.
// A NaN component means the position is unknown.
type Coord struct {
	X float64
	Y float64
}

// MissingCoord returns a Coord with both components unknown.
func MissingCoord() Coord {
	return Coord{X: math.NaN(), Y: math.NaN()}
}

// Missing reports whether either component is NaN.
func (c Coord) Missing() bool {
	return math.IsNaN(c.X) || math.IsNaN(c.Y)
}

// MarshalJSON writes [x, y], or null when the coordinate is missing.
func (c Coord) MarshalJSON() ([]byte, error) {
	if c.Missing() {
		return []byte("null"), nil
	}
	return json.Marshal([2]float64{c.X, c.Y})
}

// UnmarshalJSON accepts [x, y] or null.
func (c *Coord) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*c = MissingCoord()
		return nil
	}
	var xy [2]float64
	if err := json.Unmarshal(data, &xy); err != nil {
		return err
	}
	c.X, c.Y = xy[0], xy[1]
	return nil
}

// ScreenState is a snapshot of what the subject saw on one refresh: the raw
// gaze sample and the position of every stimulus drawn. Stimuli without a
// position map to a missing Coord.
type ScreenState struct {
	Gaze  Coord            `json:"gaze"`
	Stims map[string]Coord `json:"stims"`
}

// GazeParams are the live-tunable gaze parameters exchanged with the console.
type GazeParams struct {
	XOffset   float64 `json:"x_offset"`
	YOffset   float64 `json:"y_offset"`
	FixWindow float64 `json:"fix_window"`
}

// EncodeScreen marshals a screen snapshot.
func EncodeScreen(s ScreenState) ([]byte, error) {
	return json.Marshal(s)
}

// DecodeScreen unmarshals a screen snapshot.
func DecodeScreen(b []byte) (ScreenState, error) {
	var s ScreenState
	err := json.Unmarshal(b, &s)
	return s, err
}

// EncodeGazeParams marshals gaze parameters.
func EncodeGazeParams(p GazeParams) ([]byte, error) {
	return json.Marshal(p)
}

// DecodeGazeParams unmarshals gaze parameters.
func DecodeGazeParams(b []byte) (GazeParams, error) {
	var p GazeParams
	err := json.Unmarshal(b, &p)
	return p, err
}
