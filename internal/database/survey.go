package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nao1215/kanpora/internal/model"
)

const surveyColumns = `survey_id, search_area_id, survey_date, survey_description, comment,
	survey_method, status, room_type, expected_count, total_saved`

// AddSurvey stores a pending survey of an existing search area and returns
// it with its ID set. A zero Date is set to now.
func (d *DB) AddSurvey(ctx context.Context, s model.Survey) (model.Survey, error) {
	if _, err := d.GetSearchArea(ctx, s.SearchAreaID); err != nil {
		return model.Survey{}, err
	}
	if s.Date.IsZero() {
		s.Date = time.Now()
	}
	if s.Method == "" {
		s.Method = model.SurveyMethodQuadtree
	}

	err := d.queryRow(ctx, `
	INSERT INTO survey (search_area_id, survey_date, survey_description, comment,
		survey_method, status, room_type, expected_count, total_saved)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	RETURNING survey_id`,
		s.SearchAreaID, formatTimestamp(s.Date), s.Description, s.Comment,
		s.Method, s.Status.String(), s.RoomType, s.ExpectedCount, s.TotalSaved,
	).Scan(&s.ID)
	if err != nil {
		return model.Survey{}, fmt.Errorf("failed to insert survey: %w", err)
	}
	return s, nil
}

// GetSurvey returns the survey with the given ID.
func (d *DB) GetSurvey(ctx context.Context, id int64) (model.Survey, error) {
	row := d.queryRow(ctx, `SELECT `+surveyColumns+` FROM survey WHERE survey_id = ?`, id)
	s, err := scanSurvey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Survey{}, fmt.Errorf("survey %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Survey{}, fmt.Errorf("failed to get survey: %w", err)
	}
	return s, nil
}

// ListSurveys returns the surveys of one search area, or of all areas when
// areaID is zero, ordered by ID.
func (d *DB) ListSurveys(ctx context.Context, areaID int64) ([]model.Survey, error) {
	query := `SELECT ` + surveyColumns + ` FROM survey`
	var args []any
	if areaID != 0 {
		query += ` WHERE search_area_id = ?`
		args = append(args, areaID)
	}
	query += ` ORDER BY survey_id`

	rows, err := d.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list surveys: %w", err)
	}
	defer rows.Close()

	var surveys []model.Survey
	for rows.Next() {
		s, err := scanSurvey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan survey: %w", err)
		}
		surveys = append(surveys, s)
	}
	return surveys, rows.Err()
}

// UpdateSurveyStatus sets the lifecycle status of a survey.
func (d *DB) UpdateSurveyStatus(ctx context.Context, id int64, status model.SurveyStatus) error {
	res, err := d.exec(ctx, `UPDATE survey SET status = ? WHERE survey_id = ?`, status.String(), id)
	if err != nil {
		return fmt.Errorf("failed to update survey status: %w", err)
	}
	return expectAffected(res, fmt.Sprintf("survey %d", id))
}

// UpdateSurveyCounts stores the corrected expected count and the number of
// rooms saved.
func (d *DB) UpdateSurveyCounts(ctx context.Context, id int64, expected, saved int) error {
	res, err := d.exec(ctx, `UPDATE survey SET expected_count = ?, total_saved = ? WHERE survey_id = ?`,
		expected, saved, id)
	if err != nil {
		return fmt.Errorf("failed to update survey counts: %w", err)
	}
	return expectAffected(res, fmt.Sprintf("survey %d", id))
}

// DeleteSurvey removes a survey with its rooms and resume log.
func (d *DB) DeleteSurvey(ctx context.Context, id int64) (err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range []string{"room", "survey_progress"} {
		if _, err = tx.ExecContext(ctx, d.rebind(`DELETE FROM `+table+` WHERE survey_id = ?`), id); err != nil {
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}
	}
	res, err := tx.ExecContext(ctx, d.rebind(`DELETE FROM survey WHERE survey_id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete survey: %w", err)
	}
	if err = expectAffected(res, fmt.Sprintf("survey %d", id)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func scanSurvey(s scanner) (model.Survey, error) {
	var (
		sv     model.Survey
		date   string
		status string
	)
	err := s.Scan(&sv.ID, &sv.SearchAreaID, &date, &sv.Description, &sv.Comment,
		&sv.Method, &status, &sv.RoomType, &sv.ExpectedCount, &sv.TotalSaved)
	if err != nil {
		return model.Survey{}, err
	}
	sv.Date = parseTimestamp(date)
	sv.Status = model.ParseSurveyStatus(status)
	return sv, nil
}
