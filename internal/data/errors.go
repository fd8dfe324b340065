package data

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrJobNotFound is returned when a job is not found.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotClaimable is returned when a claim finds the job missing or no longer pending.
	ErrJobNotClaimable = errors.New("job is not pending and cannot be claimed")
	// ErrEvidenceNotFound is returned when an evidence record is not found.
	ErrEvidenceNotFound = errors.New("evidence not found")
	// ErrEvidenceConflict is returned when an evidence insert collides with an
	// existing storage filename.
	ErrEvidenceConflict = errors.New("evidence storage filename already in use")
)

// isUniqueViolation reports whether err is a Postgres unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
