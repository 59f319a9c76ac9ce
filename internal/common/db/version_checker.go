package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/blang/semver/v4"
)

// MinPostGIS is the oldest PostGIS release GeoServer's postgis store supports.
var MinPostGIS = semver.MustParse("2.0.0")

type VersionChecker struct {
	db *DB
}

func NewVersionChecker(db *DB) *VersionChecker {
	return &VersionChecker{db: db}
}

// PostGISVersion returns the PostGIS version installed in the database.
func (vc *VersionChecker) PostGISVersion(ctx context.Context) (semver.Version, error) {
	var raw string
	err := vc.db.conn.QueryRowContext(ctx, "SELECT postgis_version()").Scan(&raw)
	if err == sql.ErrNoRows {
		return semver.Version{}, fmt.Errorf("postgis is not installed")
	}
	if err != nil {
		return semver.Version{}, fmt.Errorf("querying postgis version: %w", err)
	}

	// postgis_version() reports e.g. "3.4 USE_GEOS=1 USE_PROJ=1 USE_STATS=1".
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return semver.Version{}, fmt.Errorf("empty postgis version")
	}
	v, err := semver.ParseTolerant(fields[0])
	if err != nil {
		return semver.Version{}, fmt.Errorf("parsing postgis version %q: %w", raw, err)
	}

	vc.db.logger.Debug("Found PostGIS", "version", v.String())
	return v, nil
}

// RequirePostGIS fails unless PostGIS at least MinPostGIS is installed.
func (vc *VersionChecker) RequirePostGIS(ctx context.Context) error {
	v, err := vc.PostGISVersion(ctx)
	if err != nil {
		return err
	}
	if v.LT(MinPostGIS) {
		return fmt.Errorf("postgis %s is older than the required %s", v, MinPostGIS)
	}
	return nil
}
