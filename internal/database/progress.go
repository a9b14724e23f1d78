package database

import (
	"context"
	"fmt"

	"github.com/nao1215/kanpora/internal/geo"
	"github.com/nao1215/kanpora/internal/model"
)

// LogProgress records that the subtree at p.TreeIndex was fully searched,
// or with Completed unset, that the search of the node failed.
// Logging the same node twice keeps the latest entry.
func (d *DB) LogProgress(ctx context.Context, p model.Progress) error {
	_, err := d.exec(ctx, `
	INSERT INTO survey_progress (survey_id, room_type, tree_index, bb_n, bb_e, bb_s, bb_w,
		completed, sequential, logged_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (survey_id, room_type, tree_index) DO UPDATE SET
		completed = excluded.completed,
		sequential = excluded.sequential,
		logged_at = excluded.logged_at`,
		p.SurveyID, p.RoomType, p.TreeIndex.String(), p.Box.North, p.Box.East, p.Box.South, p.Box.West,
		boolToInt(p.Completed), boolToInt(p.Sequential), formatTimestamp(p.LoggedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to log progress of %s: %w", p.TreeIndex, err)
	}
	return nil
}

// LoadProgress returns the resume log of one survey and room type in the
// order it was written.
func (d *DB) LoadProgress(ctx context.Context, surveyID int64, roomType string) ([]model.Progress, error) {
	rows, err := d.query(ctx, `
	SELECT survey_id, room_type, tree_index, bb_n, bb_e, bb_s, bb_w, completed, sequential, logged_at
	FROM survey_progress
	WHERE survey_id = ? AND room_type = ?
	ORDER BY logged_at, tree_index`, surveyID, roomType)
	if err != nil {
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}
	defer rows.Close()

	var entries []model.Progress
	for rows.Next() {
		var (
			p                     model.Progress
			idx, loggedAt         string
			completed, sequential int
		)
		if err := rows.Scan(&p.SurveyID, &p.RoomType, &idx, &p.Box.North, &p.Box.East, &p.Box.South, &p.Box.West,
			&completed, &sequential, &loggedAt); err != nil {
			return nil, fmt.Errorf("failed to scan progress: %w", err)
		}
		p.TreeIndex, err = geo.ParseTreeIndex(idx)
		if err != nil {
			d.logger.Warn("skipping malformed progress entry", "survey_id", surveyID, "tree_index", idx, "error", err)
			continue
		}
		p.Completed = completed != 0
		p.Sequential = sequential != 0
		p.LoggedAt = parseTimestamp(loggedAt)
		entries = append(entries, p)
	}
	return entries, rows.Err()
}

// ClearProgress removes the resume log of a survey, for every room type.
func (d *DB) ClearProgress(ctx context.Context, surveyID int64) error {
	if _, err := d.exec(ctx, `DELETE FROM survey_progress WHERE survey_id = ?`, surveyID); err != nil {
		return fmt.Errorf("failed to clear progress: %w", err)
	}
	return nil
}
