package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/atoforge/atoforge/pkg/domain"
)

// GetPackage loads a package by id.
func (s *Store) GetPackage(ctx context.Context, id int64) (domain.Package, error) {
	var p domain.Package
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, is_active, created_at FROM packages WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.IsActive, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Package{}, notFound("Package", id)
	}
	if err != nil {
		return domain.Package{}, fmt.Errorf("get package: %w", err)
	}
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

// GetGroup loads a group by id.
func (s *Store) GetGroup(ctx context.Context, id int64) (domain.Group, error) {
	var g domain.Group
	err := s.db.QueryRowContext(ctx,
		`SELECT id, package_id, name, is_active FROM asset_groups WHERE id = $1`, id).
		Scan(&g.ID, &g.PackageID, &g.Name, &g.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Group{}, notFound("Group", id)
	}
	if err != nil {
		return domain.Group{}, fmt.Errorf("get group: %w", err)
	}
	return g, nil
}

// GetSystem loads a system by id.
func (s *Store) GetSystem(ctx context.Context, id int64) (domain.System, error) {
	var sys domain.System
	var groupID sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, package_id, group_id, name, is_active FROM systems WHERE id = $1`, id).
		Scan(&sys.ID, &sys.PackageID, &groupID, &sys.Name, &sys.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.System{}, notFound("System", id)
	}
	if err != nil {
		return domain.System{}, fmt.Errorf("get system: %w", err)
	}
	sys.GroupID = scanNullInt(groupID)
	return sys, nil
}

// SystemsByPackage returns all systems under a package, whether attached
// directly or through one of its groups.
func (s *Store) SystemsByPackage(ctx context.Context, packageID int64) ([]domain.System, error) {
	return s.querySystems(ctx,
		`SELECT id, package_id, group_id, name, is_active FROM systems WHERE package_id = $1 ORDER BY id`,
		packageID)
}

// SystemsByGroup returns the systems attached to a group in id order.
func (s *Store) SystemsByGroup(ctx context.Context, groupID int64) ([]domain.System, error) {
	return s.querySystems(ctx,
		`SELECT id, package_id, group_id, name, is_active FROM systems WHERE group_id = $1 ORDER BY id`,
		groupID)
}

func (s *Store) querySystems(ctx context.Context, query string, args ...any) ([]domain.System, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list systems: %w", err)
	}
	defer func() { _ = rows.Close() }()

	systems := make([]domain.System, 0)
	for rows.Next() {
		var sys domain.System
		var groupID sql.NullInt64
		if err := rows.Scan(&sys.ID, &sys.PackageID, &groupID, &sys.Name, &sys.IsActive); err != nil {
			return nil, err
		}
		sys.GroupID = scanNullInt(groupID)
		systems = append(systems, sys)
	}
	return systems, rows.Err()
}

// SystemSummariesByGroup returns the group's systems with their finding and
// scan counts, in id order.
func (s *Store) SystemSummariesByGroup(ctx context.Context, groupID int64) ([]domain.SystemSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sy.id, sy.name,
			(SELECT COUNT(*) FROM findings f WHERE f.system_id = sy.id),
			(SELECT COUNT(*) FROM scans sc WHERE sc.system_id = sy.id)
		FROM systems sy
		WHERE sy.group_id = $1
		ORDER BY sy.id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list system summaries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	summaries := make([]domain.SystemSummary, 0)
	for rows.Next() {
		var sum domain.SystemSummary
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.FindingsCount, &sum.ScansCount); err != nil {
			return nil, err
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// CreatePackage, CreateGroup and CreateSystem exist for the external
// workflows that own these lifecycles (and for tests); the engine itself
// never calls them on a request path.

// CreatePackage inserts a package and returns it with its assigned id.
func (s *Store) CreatePackage(ctx context.Context, p domain.Package) (domain.Package, error) {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO packages (name, is_active, created_at) VALUES ($1, $2, $3) RETURNING id`,
		p.Name, p.IsActive, formatTime(p.CreatedAt)).Scan(&p.ID)
	if err != nil {
		return domain.Package{}, fmt.Errorf("create package: %w", err)
	}
	return p, nil
}

// CreateGroup inserts a group and returns it with its assigned id.
func (s *Store) CreateGroup(ctx context.Context, g domain.Group) (domain.Group, error) {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO asset_groups (package_id, name, is_active) VALUES ($1, $2, $3) RETURNING id`,
		g.PackageID, g.Name, g.IsActive).Scan(&g.ID)
	if err != nil {
		return domain.Group{}, fmt.Errorf("create group: %w", err)
	}
	return g, nil
}

// CreateSystem inserts a system and returns it with its assigned id.
func (s *Store) CreateSystem(ctx context.Context, sys domain.System) (domain.System, error) {
	var groupID any
	if sys.GroupID != nil {
		groupID = *sys.GroupID
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO systems (package_id, group_id, name, is_active) VALUES ($1, $2, $3, $4) RETURNING id`,
		sys.PackageID, groupID, sys.Name, sys.IsActive).Scan(&sys.ID)
	if err != nil {
		return domain.System{}, fmt.Errorf("create system: %w", err)
	}
	return sys, nil
}
