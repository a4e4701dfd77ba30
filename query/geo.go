// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package query

import (
	"math"
	"strings"

	"github.com/cubefs/entitydb/proto"
)

const (
	EarthRadius = 6371000.0

	MinGeoLevel = 4
	MaxGeoLevel = 16

	metersPerDegree = math.Pi * EarthRadius / 180
)

// Cell is one grid square at a level: the globe is cut into 2^level rows
// and 2^level columns.
type Cell struct {
	Level uint8
	X     uint32
	Y     uint32
}

func cellsPerSide(level uint8) uint32 { return 1 << level }

func CellAt(level uint8, lat, lon float64) Cell {
	n := cellsPerSide(level)
	latStep := 180 / float64(n)
	lonStep := 360 / float64(n)
	x := uint32(math.Floor((lon + 180) / lonStep))
	y := uint32(math.Floor((lat + 90) / latStep))
	if x >= n {
		x = n - 1
	}
	if y >= n {
		y = n - 1
	}
	return Cell{Level: level, X: x, Y: y}
}

// CellsAt returns the cell of the point at every stored level.
func CellsAt(lat, lon float64) []Cell {
	cells := make([]Cell, 0, MaxGeoLevel-MinGeoLevel+1)
	for l := uint8(MinGeoLevel); l <= MaxGeoLevel; l++ {
		cells = append(cells, CellAt(l, lat, lon))
	}
	return cells
}

// CellSides returns the north-south and east-west extent in meters of a
// cell at the given latitude.
func CellSides(level uint8, lat float64) (latSide, lonSide float64) {
	n := float64(cellsPerSide(level))
	latSide = 180 / n * metersPerDegree
	lonSide = 360 / n * metersPerDegree * math.Cos(lat*math.Pi/180)
	return
}

// SearchLevel picks the finest stored level whose cells are at least half
// the search distance tall.
func SearchLevel(distance float64) uint8 {
	for l := uint8(MaxGeoLevel); l > MinGeoLevel; l-- {
		if latSide, _ := CellSides(l, 0); latSide >= distance/2 {
			return l
		}
	}
	return MinGeoLevel
}

// GeoSearch enumerates the cells around a center ring by ring.
type GeoSearch struct {
	Level    uint8
	Center   Cell
	Lat, Lon float64
	Distance float64
	// MinSide is the smallest cell extent inside the search area, every
	// point closer than k*MinSide lies in rings 0..k.
	MinSide float64
	// MaxRingX and MaxRingY bound the rings that can hold matches.
	MaxRingX int
	MaxRingY int
}

func NewGeoSearch(lat, lon, distance float64) *GeoSearch {
	level := SearchLevel(distance)
	latSide, _ := CellSides(level, 0)
	edgeLat := math.Min(math.Abs(lat)+distance/metersPerDegree, 89.9)
	_, lonSide := CellSides(level, edgeLat)
	half := int(cellsPerSide(level) / 2)

	g := &GeoSearch{
		Level:    level,
		Center:   CellAt(level, lat, lon),
		Lat:      lat,
		Lon:      lon,
		Distance: distance,
		MinSide:  math.Min(latSide, lonSide),
		MaxRingY: int(math.Ceil(distance/latSide)) + 1,
		MaxRingX: int(math.Ceil(distance/lonSide)) + 1,
	}
	if g.MaxRingX > half {
		g.MaxRingX = half
	}
	if g.MaxRingY > int(cellsPerSide(level)) {
		g.MaxRingY = int(cellsPerSide(level))
	}
	return g
}

// MaxRing is the last ring worth scanning.
func (g *GeoSearch) MaxRing() int {
	if g.MaxRingX > g.MaxRingY {
		return g.MaxRingX
	}
	return g.MaxRingY
}

// Guaranteed is the radius fully covered once rings 0..k are scanned.
func (g *GeoSearch) Guaranteed(k int) float64 {
	if k >= g.MaxRing() {
		return g.Distance
	}
	return math.Min(float64(k)*g.MinSide, g.Distance)
}

// Ring returns the cells at Chebyshev distance k from the center, clipped to
// the searchable bounds. Longitude wraps, latitude is clamped.
func (g *GeoSearch) Ring(k int) []Cell {
	n := int(cellsPerSide(g.Level))
	cx, cy := int(g.Center.X), int(g.Center.Y)
	seen := make(map[Cell]struct{})
	var cells []Cell
	add := func(dx, dy int) {
		if abs(dx) > g.MaxRingX || abs(dy) > g.MaxRingY {
			return
		}
		y := cy + dy
		if y < 0 || y >= n {
			return
		}
		x := ((cx+dx)%n + n) % n
		c := Cell{Level: g.Level, X: uint32(x), Y: uint32(y)}
		if _, ok := seen[c]; ok {
			return
		}
		seen[c] = struct{}{}
		cells = append(cells, c)
	}
	if k == 0 {
		add(0, 0)
		return cells
	}
	for d := -k; d <= k; d++ {
		add(d, -k)
		add(d, k)
	}
	for d := -k + 1; d <= k-1; d++ {
		add(-k, d)
		add(k, d)
	}
	return cells
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Distance is the haversine distance in meters.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadius * math.Asin(math.Min(1, math.Sqrt(a)))
}

// GeoPoint reads a location value: a map carrying latitude and longitude
// (lat, lon and lng are accepted too).
func GeoPoint(v proto.Value) (lat, lon float64, ok bool) {
	m, isMap := v.AsMap()
	if !isMap {
		return 0, 0, false
	}
	var hasLat, hasLon bool
	m.Range(func(name string, cv proto.Value) bool {
		n, isNum := cv.AsNumber()
		if !isNum {
			return true
		}
		switch strings.ToLower(name) {
		case "latitude", "lat":
			lat, hasLat = n, true
		case "longitude", "lon", "lng":
			lon, hasLon = n, true
		}
		return true
	})
	ok = hasLat && hasLon && lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
	return
}
