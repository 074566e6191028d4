package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/madscience/crmkit/internal/config"
	"github.com/madscience/crmkit/internal/geo"
	"github.com/madscience/crmkit/internal/geocache"
	"github.com/madscience/crmkit/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	maxGeocodeAttempts = 3
	retryDelay         = 5 * time.Second
)

// SchoolLocator is the part of the school repository the worker needs.
type SchoolLocator interface {
	GetByID(ctx context.Context, id int) (*model.School, error)
	SetCoordinates(ctx context.Context, id int, lat, lon float64) (bool, error)
}

type geocodePayload struct {
	SchoolID int `json:"school_id"`
	Attempts int `json:"attempts,omitempty"`
}

// GeocodeQueue pushes schools onto geocode_queue.
type GeocodeQueue struct {
	rdb *redis.Client
}

// NewGeocodeQueue creates a GeocodeQueue.
func NewGeocodeQueue(rdb *redis.Client) *GeocodeQueue {
	return &GeocodeQueue{rdb: rdb}
}

// EnqueueGeocode implements service.GeocodeEnqueuer.
func (q *GeocodeQueue) EnqueueGeocode(ctx context.Context, schoolID int) error {
	raw, _ := json.Marshal(geocodePayload{SchoolID: schoolID})
	return q.rdb.RPush(ctx, config.WorkerKey.GeocodeQueue, raw).Err()
}

// GeocodeWorker consumes geocode_queue and fills in school coordinates.
type GeocodeWorker struct {
	schools  SchoolLocator
	geocoder geo.Geocoder
	cache    geocache.Store
	resolve  geo.ResolveOptions
	rdb      *redis.Client
	log      zerolog.Logger
}

// NewGeocodeWorker creates a new GeocodeWorker. The geocoder should already
// be throttled to the provider's rate limit.
func NewGeocodeWorker(schools SchoolLocator, geocoder geo.Geocoder, cache geocache.Store, rdb *redis.Client, log zerolog.Logger) *GeocodeWorker {
	return &GeocodeWorker{
		schools:  schools,
		geocoder: geocoder,
		cache:    cache,
		resolve:  geo.DefaultResolveOptions,
		rdb:      rdb,
		log:      log.With().Str("component", "geocode_worker").Logger(),
	}
}

// Start begins the worker loop and returns when ctx is cancelled. Pending
// items stay in redis for the next start.
func (w *GeocodeWorker) Start(ctx context.Context) error {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return nil
		default:
			w.processNext(ctx)
		}
	}
}

func (w *GeocodeWorker) processNext(ctx context.Context) {
	// BLPop blocks until an item is available or timeout (1 second).
	result, err := w.rdb.BLPop(ctx, time.Second, config.WorkerKey.GeocodeQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
			time.Sleep(time.Second)
		}
		return
	}
	if len(result) < 2 {
		return
	}

	var payload geocodePayload
	if err := json.Unmarshal([]byte(result[1]), &payload); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error")
		return
	}

	if err := w.handle(ctx, payload.SchoolID); err != nil {
		if ctx.Err() != nil {
			// Put it back untouched for the next run.
			w.rdb.LPush(context.Background(), config.WorkerKey.GeocodeQueue, result[1])
			return
		}
		payload.Attempts++
		if payload.Attempts >= maxGeocodeAttempts {
			w.log.Error().Err(err).Int("school_id", payload.SchoolID).Msg("Geocoding abandoned")
			return
		}
		w.log.Warn().Err(err).
			Int("school_id", payload.SchoolID).
			Int("attempt", payload.Attempts).
			Msg("Geocode error, retrying in 5s")
		raw, _ := json.Marshal(payload)
		w.rdb.RPush(ctx, config.WorkerKey.GeocodeQueue, raw)
		select {
		case <-ctx.Done():
		case <-time.After(retryDelay):
		}
	}
}

// handle geocodes one school. Schools that are gone, already placed, or
// whose address cannot be found are not errors.
func (w *GeocodeWorker) handle(ctx context.Context, schoolID int) error {
	school, err := w.schools.GetByID(ctx, schoolID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load school %d: %w", schoolID, err)
	}
	if school == nil || school.HasCoordinates() {
		return nil
	}

	addr := geo.NormalizeAddress(school.Address)
	if addr == "" {
		return nil
	}

	p, found, err := w.lookup(ctx, addr)
	if err != nil || !found {
		return err
	}

	updated, err := w.schools.SetCoordinates(ctx, schoolID, p.Lat, p.Lon)
	if err != nil {
		return fmt.Errorf("save coordinates: %w", err)
	}
	if updated {
		w.log.Info().
			Int("school_id", schoolID).
			Float64("lat", p.Lat).
			Float64("lon", p.Lon).
			Msg("School geocoded")
	}
	return nil
}

// lookup consults the cache, then the geocoder. Only transport failures are
// returned as errors; they are not cached.
func (w *GeocodeWorker) lookup(ctx context.Context, addr string) (geo.Point, bool, error) {
	if w.cache != nil {
		e, ok, err := w.cache.Get(ctx, addr)
		if err != nil {
			w.log.Warn().Err(err).Msg("Geocode cache read failed")
		} else if ok {
			return e.Point(), e.Found(), nil
		}
	}

	p, err := geo.Resolve(ctx, w.geocoder, addr, w.resolve)
	switch {
	case err == nil:
		w.remember(ctx, geocache.Hit(addr, p))
		return p, true, nil
	case errors.Is(err, geo.ErrNotFound):
		w.remember(ctx, geocache.Miss(addr))
		w.log.Info().Str("address", addr).Msg("Address not found")
		return geo.Point{}, false, nil
	default:
		return geo.Point{}, false, err
	}
}

func (w *GeocodeWorker) remember(ctx context.Context, e geocache.Entry) {
	if w.cache == nil {
		return
	}
	if err := w.cache.Put(ctx, e); err != nil {
		w.log.Warn().Err(err).Msg("Geocode cache write failed")
	}
}
