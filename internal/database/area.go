package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nao1215/kanpora/internal/model"
)

const searchAreaColumns = `search_area_id, name, abbreviation, bb_n, bb_e, bb_s, bb_w`

// AddSearchArea stores area and returns it with its ID set.
// A second area with the same name gives ErrAlreadyExists.
func (d *DB) AddSearchArea(ctx context.Context, area model.SearchArea) (model.SearchArea, error) {
	if err := area.Box.Validate(); err != nil {
		return model.SearchArea{}, err
	}
	if area.Abbreviation == "" {
		area.Abbreviation = model.Abbreviate(area.Name)
	}

	err := d.queryRow(ctx, `
	INSERT INTO search_area (name, abbreviation, bb_n, bb_e, bb_s, bb_w)
	VALUES (?, ?, ?, ?, ?, ?)
	RETURNING search_area_id`,
		area.Name, area.Abbreviation, area.Box.North, area.Box.East, area.Box.South, area.Box.West,
	).Scan(&area.ID)
	if isUniqueViolation(err) {
		return model.SearchArea{}, fmt.Errorf("search area %q: %w", area.Name, ErrAlreadyExists)
	}
	if err != nil {
		return model.SearchArea{}, fmt.Errorf("failed to insert search area: %w", err)
	}
	return area, nil
}

// GetSearchArea returns the area with the given ID.
func (d *DB) GetSearchArea(ctx context.Context, id int64) (model.SearchArea, error) {
	row := d.queryRow(ctx, `SELECT `+searchAreaColumns+` FROM search_area WHERE search_area_id = ?`, id)
	area, err := scanSearchArea(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SearchArea{}, fmt.Errorf("search area %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.SearchArea{}, fmt.Errorf("failed to get search area: %w", err)
	}
	return area, nil
}

// GetSearchAreaByName returns the area with the given name.
func (d *DB) GetSearchAreaByName(ctx context.Context, name string) (model.SearchArea, error) {
	row := d.queryRow(ctx, `SELECT `+searchAreaColumns+` FROM search_area WHERE name = ?`, name)
	area, err := scanSearchArea(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SearchArea{}, fmt.Errorf("search area %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return model.SearchArea{}, fmt.Errorf("failed to get search area: %w", err)
	}
	return area, nil
}

// ListSearchAreas returns every area ordered by ID.
func (d *DB) ListSearchAreas(ctx context.Context) ([]model.SearchArea, error) {
	rows, err := d.query(ctx, `SELECT `+searchAreaColumns+` FROM search_area ORDER BY search_area_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list search areas: %w", err)
	}
	defer rows.Close()

	var areas []model.SearchArea
	for rows.Next() {
		area, err := scanSearchArea(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan search area: %w", err)
		}
		areas = append(areas, area)
	}
	return areas, rows.Err()
}

// DeleteSearchArea removes an area and all of its surveys.
func (d *DB) DeleteSearchArea(ctx context.Context, id int64) error {
	surveys, err := d.ListSurveys(ctx, id)
	if err != nil {
		return err
	}
	for _, s := range surveys {
		if err := d.DeleteSurvey(ctx, s.ID); err != nil {
			return err
		}
	}

	res, err := d.exec(ctx, `DELETE FROM search_area WHERE search_area_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete search area: %w", err)
	}
	return expectAffected(res, fmt.Sprintf("search area %d", id))
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSearchArea(s scanner) (model.SearchArea, error) {
	var a model.SearchArea
	err := s.Scan(&a.ID, &a.Name, &a.Abbreviation, &a.Box.North, &a.Box.East, &a.Box.South, &a.Box.West)
	return a, err
}

// expectAffected returns ErrNotFound when res touched no row.
func expectAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
