// Package geocache remembers geocoding results, including failures, so
// repeated map builds do not hammer the geocoder.
package geocache

import (
	"context"

	"github.com/madscience/crmkit/internal/geo"
)

// Entry is a cached result for a normalized address. Nil coordinates record
// a failed lookup.
type Entry struct {
	Address string   `json:"address"`
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
}

// Found reports whether the entry holds coordinates.
func (e Entry) Found() bool {
	return e.Lat != nil && e.Lon != nil
}

// Point returns the coordinates; only meaningful when Found.
func (e Entry) Point() geo.Point {
	if !e.Found() {
		return geo.Point{}
	}
	return geo.Point{Lat: *e.Lat, Lon: *e.Lon}
}

// Hit builds a successful entry.
func Hit(addr string, p geo.Point) Entry {
	lat, lon := p.Lat, p.Lon
	return Entry{Address: addr, Lat: &lat, Lon: &lon}
}

// Miss builds a failure entry.
func Miss(addr string) Entry {
	return Entry{Address: addr}
}

// Store is a geocode cache backend.
type Store interface {
	Get(ctx context.Context, addr string) (Entry, bool, error)
	Put(ctx context.Context, e Entry) error
	// Flush persists pending writes. Backends that write through return nil.
	Flush(ctx context.Context) error
}
