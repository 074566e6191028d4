package repository

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/madscience/crmkit/internal/model"
)

// ErrDuplicateSchool is returned when a school with the same name and address exists.
var ErrDuplicateSchool = errors.New("school with this name and address already exists")

const schoolColumns = `id, name, address, phone, email, status, group_name, notes, lat, lon, created_at, updated_at`

// SchoolRepository handles school data access.
type SchoolRepository struct {
	pool *pgxpool.Pool
}

// NewSchoolRepository creates a new SchoolRepository.
func NewSchoolRepository(pool *pgxpool.Pool) *SchoolRepository {
	return &SchoolRepository{pool: pool}
}

func scanSchool(row pgx.Row, s *model.School) error {
	return row.Scan(&s.ID, &s.Name, &s.Address, &s.Phone, &s.Email, &s.Status,
		&s.Group, &s.Notes, &s.Lat, &s.Lon, &s.CreatedAt, &s.UpdatedAt)
}

// GetByID retrieves a school by ID. A missing row returns pgx.ErrNoRows.
func (r *SchoolRepository) GetByID(ctx context.Context, id int) (*model.School, error) {
	s := &model.School{}
	err := scanSchool(r.pool.QueryRow(ctx,
		`SELECT `+schoolColumns+` FROM schools WHERE id = $1`, id), s)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// whereClause builds the filter SQL and its arguments.
func whereClause(f model.SchoolFilter) (string, []any) {
	var conds []string
	var args []any

	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, `status = $`+strconv.Itoa(len(args)))
	}
	if f.Group != "" {
		args = append(args, f.Group)
		conds = append(conds, `group_name = $`+strconv.Itoa(len(args)))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		args = append(args, "%"+escapeLike(q)+"%")
		n := strconv.Itoa(len(args))
		conds = append(conds, `(name ILIKE $`+n+` OR address ILIKE $`+n+`)`)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return ` WHERE ` + strings.Join(conds, ` AND `), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// ListPaginated retrieves schools matching f, ordered by name.
func (r *SchoolRepository) ListPaginated(ctx context.Context, f model.SchoolFilter, limit, offset int) ([]model.School, int, error) {
	where, args := whereClause(f)

	// 1. Get total count
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM schools`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	// 2. Get paginated data
	query := `SELECT ` + schoolColumns + ` FROM schools` + where +
		` ORDER BY name, id LIMIT $` + strconv.Itoa(len(args)+1) + ` OFFSET $` + strconv.Itoa(len(args)+2)
	args = append(args, limit, offset)

	schools, err := r.query(ctx, query, args...)
	return schools, total, err
}

// ListAll retrieves every school matching f, ordered by name.
func (r *SchoolRepository) ListAll(ctx context.Context, f model.SchoolFilter) ([]model.School, error) {
	where, args := whereClause(f)
	return r.query(ctx, `SELECT `+schoolColumns+` FROM schools`+where+` ORDER BY name, id`, args...)
}

func (r *SchoolRepository) query(ctx context.Context, sql string, args ...any) ([]model.School, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	schools := []model.School{}
	for rows.Next() {
		var s model.School
		if err := scanSchool(rows, &s); err != nil {
			return nil, err
		}
		schools = append(schools, s)
	}
	return schools, rows.Err()
}

// Groups returns the distinct non-empty group names, sorted.
func (r *SchoolRepository) Groups(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT group_name FROM schools WHERE group_name <> '' ORDER BY group_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := []string{}
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// Create inserts a new school.
func (r *SchoolRepository) Create(ctx context.Context, s *model.School) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO schools (name, address, phone, email, status, group_name, notes, lat, lon)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, created_at, updated_at`,
		s.Name, s.Address, s.Phone, s.Email, s.Status, s.Group, s.Notes, s.Lat, s.Lon,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	return mapUniqueViolation(err)
}

// Update modifies an existing school. A missing row returns pgx.ErrNoRows.
func (r *SchoolRepository) Update(ctx context.Context, s *model.School) error {
	err := r.pool.QueryRow(ctx,
		`UPDATE schools SET name = $1, address = $2, phone = $3, email = $4, status = $5,
		        group_name = $6, notes = $7, lat = $8, lon = $9, updated_at = CURRENT_TIMESTAMP
		 WHERE id = $10
		 RETURNING created_at, updated_at`,
		s.Name, s.Address, s.Phone, s.Email, s.Status, s.Group, s.Notes, s.Lat, s.Lon, s.ID,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	return mapUniqueViolation(err)
}

// SetCoordinates stores geocoded coordinates without touching other fields.
// Rows that already have coordinates are left alone.
func (r *SchoolRepository) SetCoordinates(ctx context.Context, id int, lat, lon float64) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE schools SET lat = $1, lon = $2, updated_at = CURRENT_TIMESTAMP
		 WHERE id = $3 AND (lat IS NULL OR lon IS NULL)`,
		lat, lon, id,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Delete removes a school by ID and reports whether a row was deleted.
func (r *SchoolRepository) Delete(ctx context.Context, id int) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM schools WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Import inserts schools in one transaction. Rows clashing with an existing
// name and address are skipped; inserted rows get their IDs filled in.
func (r *SchoolRepository) Import(ctx context.Context, schools []*model.School) (imported, skipped int, err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, s := range schools {
		batch.Queue(
			`INSERT INTO schools (name, address, phone, email, status, group_name, notes, lat, lon)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (name, address) DO NOTHING
			 RETURNING id, created_at, updated_at`,
			s.Name, s.Address, s.Phone, s.Email, s.Status, s.Group, s.Notes, s.Lat, s.Lon,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for _, s := range schools {
		err := results.QueryRow().Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			skipped++
		case err != nil:
			results.Close()
			return 0, 0, err
		default:
			imported++
		}
	}
	if err := results.Close(); err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, err
	}
	return imported, skipped, nil
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateSchool
	}
	return err
}
