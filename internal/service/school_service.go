package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	govalidator "github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/madscience/crmkit/internal/config"
	"github.com/madscience/crmkit/internal/geo"
	"github.com/madscience/crmkit/internal/model"
	"github.com/madscience/crmkit/internal/roster"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	// ErrSchoolNotFound is returned when no school has the requested ID.
	ErrSchoolNotFound = errors.New("school not found")
	// ErrNoSchoolColumn is returned by Import when the table has no name column.
	ErrNoSchoolColumn = errors.New("import needs a School or Name column")
)

// groupsTTL bounds how long the group list is served from redis.
const groupsTTL = 5 * time.Minute

// ExportHeaders is the column order of ExportCSV, matching the map download.
var ExportHeaders = []string{"School", "Address", "Group", "lat", "lon", "Status", "Phone", "Email", "Notes"}

// SchoolStore is the persistence the service needs.
type SchoolStore interface {
	GetByID(ctx context.Context, id int) (*model.School, error)
	ListPaginated(ctx context.Context, f model.SchoolFilter, limit, offset int) ([]model.School, int, error)
	ListAll(ctx context.Context, f model.SchoolFilter) ([]model.School, error)
	Groups(ctx context.Context) ([]string, error)
	Create(ctx context.Context, s *model.School) error
	Update(ctx context.Context, s *model.School) error
	Delete(ctx context.Context, id int) (bool, error)
	Import(ctx context.Context, schools []*model.School) (imported, skipped int, err error)
}

// GeocodeEnqueuer schedules background geocoding of a school.
type GeocodeEnqueuer interface {
	EnqueueGeocode(ctx context.Context, schoolID int) error
}

// ImportResult summarizes an import.
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// SchoolService handles school business logic.
type SchoolService struct {
	store   SchoolStore
	rdb     *redis.Client
	geocode GeocodeEnqueuer
	log     zerolog.Logger
}

// NewSchoolService creates a new SchoolService. rdb and geocode may be nil.
func NewSchoolService(store SchoolStore, rdb *redis.Client, geocode GeocodeEnqueuer, log zerolog.Logger) *SchoolService {
	return &SchoolService{
		store:   store,
		rdb:     rdb,
		geocode: geocode,
		log:     log.With().Str("component", "school_service").Logger(),
	}
}

// GetByID retrieves a school.
func (s *SchoolService) GetByID(ctx context.Context, id int) (*model.School, error) {
	school, err := s.store.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSchoolNotFound
	}
	return school, err
}

// List returns one page of schools matching f.
func (s *SchoolService) List(ctx context.Context, f model.SchoolFilter, page, perPage int) ([]model.School, int, error) {
	return s.store.ListPaginated(ctx, f, perPage, (page-1)*perPage)
}

// Groups returns the distinct group names, served from redis when possible.
func (s *SchoolService) Groups(ctx context.Context) ([]string, error) {
	key := config.CacheKey.SchoolGroupsKey()
	if s.rdb != nil {
		if raw, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
			var groups []string
			if json.Unmarshal(raw, &groups) == nil {
				return groups, nil
			}
		}
	}

	groups, err := s.store.Groups(ctx)
	if err != nil {
		return nil, err
	}

	if s.rdb != nil {
		if raw, err := json.Marshal(groups); err == nil {
			if err := s.rdb.Set(ctx, key, raw, groupsTTL).Err(); err != nil {
				s.log.Warn().Err(err).Msg("Failed to cache school groups")
			}
		}
	}
	return groups, nil
}

// Create inserts a school and queues it for geocoding when it has no coordinates.
func (s *SchoolService) Create(ctx context.Context, school *model.School) error {
	if err := s.store.Create(ctx, school); err != nil {
		return err
	}
	s.afterWrite(ctx, school)
	return nil
}

// Update replaces a school's fields.
func (s *SchoolService) Update(ctx context.Context, school *model.School) error {
	err := s.store.Update(ctx, school)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrSchoolNotFound
	}
	if err != nil {
		return err
	}
	s.afterWrite(ctx, school)
	return nil
}

// Delete removes a school.
func (s *SchoolService) Delete(ctx context.Context, id int) error {
	deleted, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrSchoolNotFound
	}
	s.invalidateGroups(ctx)
	return nil
}

// ExportCSV writes every school matching f in the map's CSV layout.
func (s *SchoolService) ExportCSV(ctx context.Context, f model.SchoolFilter, w io.Writer) error {
	schools, err := s.store.ListAll(ctx, f)
	if err != nil {
		return err
	}

	tbl := roster.NewTable(ExportHeaders)
	for _, sc := range schools {
		tbl.Append([]string{
			sc.Name, sc.Address, sc.Group,
			formatCoord(sc.Lat), formatCoord(sc.Lon),
			string(sc.Status), sc.Phone, sc.Email, sc.Notes,
		})
	}
	return tbl.WriteCSV(w)
}

// Import inserts the rows of a roster table. Rows without a name are
// skipped, as are rows matching an existing name and address.
func (s *SchoolService) Import(ctx context.Context, tbl *roster.Table) (ImportResult, error) {
	schools, skipped, err := SchoolsFromTable(tbl)
	if err != nil {
		return ImportResult{}, err
	}
	if len(schools) == 0 {
		return ImportResult{Skipped: skipped}, nil
	}

	imported, dup, err := s.store.Import(ctx, schools)
	if err != nil {
		return ImportResult{}, err
	}

	s.invalidateGroups(ctx)
	for _, sc := range schools {
		if sc.ID != 0 && !sc.HasCoordinates() && sc.Address != "" {
			s.enqueue(ctx, sc.ID)
		}
	}

	s.log.Info().Int("imported", imported).Int("skipped", skipped+dup).Msg("Schools imported")
	return ImportResult{Imported: imported, Skipped: skipped + dup}, nil
}

// importRow carries the same limits as handler.SchoolRequest so imported
// rows fit the schools columns.
type importRow struct {
	Name    string `validate:"required,max=200"`
	Address string `validate:"max=500"`
	Phone   string `validate:"max=50"`
	Email   string `validate:"omitempty,email,max=254"`
	Group   string `validate:"max=200"`
	Notes   string `validate:"max=5000"`
}

var rowValidator = govalidator.New(govalidator.WithRequiredStructEnabled())

// SchoolsFromTable converts roster rows into schools. The second result
// counts rows dropped for lacking a name or breaking a field limit.
func SchoolsFromTable(tbl *roster.Table) ([]*model.School, int, error) {
	nameCol, ok := tbl.Lookup(roster.ColSchool, "Name", "School Name")
	if !ok {
		return nil, 0, ErrNoSchoolColumn
	}
	addrCol, _ := tbl.Lookup(roster.ColAddress)
	groupCol, _ := tbl.Lookup(roster.GroupCandidates...)
	phoneCol, _ := tbl.Lookup("Phone")
	emailCol, _ := tbl.Lookup("Email")
	notesCol, _ := tbl.Lookup("Notes")
	latCol, _ := tbl.Lookup(roster.ColLat, "latitude")
	lonCol, _ := tbl.Lookup(roster.ColLon, "longitude")

	var schools []*model.School
	skipped := 0
	for _, row := range tbl.Rows {
		in := importRow{
			Name:    row.Get(nameCol),
			Address: row.Get(addrCol),
			Phone:   row.Get(phoneCol),
			Email:   row.Get(emailCol),
			Group:   row.Get(groupCol),
			Notes:   row.Get(notesCol),
		}
		if err := rowValidator.Struct(in); err != nil {
			skipped++
			continue
		}
		sc := &model.School{
			Name:    in.Name,
			Address: in.Address,
			Group:   in.Group,
			Phone:   in.Phone,
			Email:   in.Email,
			Notes:   in.Notes,
			Status:  model.SchoolStatus(roster.DeriveStatus(row)),
		}
		if p, ok := geo.ParsePoint(row.Get(latCol), row.Get(lonCol)); ok {
			sc.Lat, sc.Lon = &p.Lat, &p.Lon
		}
		schools = append(schools, sc)
	}
	return schools, skipped, nil
}

func (s *SchoolService) afterWrite(ctx context.Context, school *model.School) {
	s.invalidateGroups(ctx)
	if !school.HasCoordinates() && strings.TrimSpace(school.Address) != "" {
		s.enqueue(ctx, school.ID)
	}
}

func (s *SchoolService) enqueue(ctx context.Context, id int) {
	if s.geocode == nil {
		return
	}
	if err := s.geocode.EnqueueGeocode(ctx, id); err != nil {
		s.log.Warn().Err(err).Int("school_id", id).Msg("Failed to queue geocoding")
	}
}

func (s *SchoolService) invalidateGroups(ctx context.Context) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, config.CacheKey.SchoolGroupsKey()).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to invalidate school groups cache")
	}
}

func formatCoord(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
