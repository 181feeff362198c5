package model

import "fmt"

type Point struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

func (p Point) String() string {
	return fmt.Sprintf("(%d, %d)", p.X, p.Y)
}

func (p Point) IsZero() bool {
	return p.X == 0 && p.Y == 0
}

func (p Point) Offset(dx, dy int) Point {
	return Point{X: p.X + dx, Y: p.Y + dy}
}

// Region is a screen rectangle, x1/y1 inclusive and x2/y2 exclusive.
type Region struct {
	X1 int `json:"x1" yaml:"x1"`
	Y1 int `json:"y1" yaml:"y1"`
	X2 int `json:"x2" yaml:"x2"`
	Y2 int `json:"y2" yaml:"y2"`
}

func (r Region) Center() Point {
	return Point{X: (r.X1 + r.X2) / 2, Y: (r.Y1 + r.Y2) / 2}
}

func (r Region) Empty() bool {
	return r.X2 <= r.X1 || r.Y2 <= r.Y1
}

// MatchResult is one perception hit. It is consumed by the caller immediately.
type MatchResult struct {
	Target     string  `json:"target"`
	Point      Point   `json:"point"`
	Confidence float64 `json:"confidence"`
}
