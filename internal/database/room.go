package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/nao1215/kanpora/internal/model"
)

const roomColumns = `survey_id, room_id, room_type, host_id, address, reviews,
	overall_satisfaction, accommodates, bedrooms, bathrooms, latitude, longitude,
	geohash, name, license, city, picture_url, neighborhood, pdp_type, rate,
	rate_with_service_fee, currency, min_nights, max_nights, tree_index,
	fingerprint, raw`

const insertRoom = `INSERT INTO room (` + roomColumns + `, last_modified)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (survey_id, room_id) DO NOTHING`

func roomArgs(r *model.Room, now time.Time) []any {
	return []any{
		r.SurveyID, string(r.RoomID), r.RoomType, r.HostID, r.Address, r.Reviews,
		r.OverallSatisfaction, r.Accommodates, r.Bedrooms, r.Bathrooms, r.Latitude, r.Longitude,
		r.Geohash, r.Name, r.License, r.City, r.PictureURL, r.Neighborhood, r.PDPType, r.Rate,
		r.RateWithServiceFee, r.Currency, r.MinNights, r.MaxNights, r.TreeIndex,
		r.Fingerprint, string(r.Raw), formatTimestamp(now),
	}
}

// SaveRoom stores one room. A room already stored for the same survey
// gives ErrAlreadyExists and leaves the stored row unchanged.
func (d *DB) SaveRoom(ctx context.Context, r *model.Room) error {
	res, err := d.exec(ctx, insertRoom, roomArgs(r, time.Now())...)
	if err != nil {
		return fmt.Errorf("failed to insert room %s: %w", r.RoomID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("room %s of survey %d: %w", r.RoomID, r.SurveyID, ErrAlreadyExists)
	}
	return nil
}

// SaveRooms stores rooms in one transaction. Rooms already stored for
// their survey are skipped and counted as duplicates.
func (d *DB) SaveRooms(ctx context.Context, rooms []*model.Room) (saved, duplicates int, err error) {
	if len(rooms) == 0 {
		return 0, 0, nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, d.rebind(insertRoom))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to prepare room insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, r := range rooms {
		res, execErr := stmt.ExecContext(ctx, roomArgs(r, now)...)
		if execErr != nil {
			err = fmt.Errorf("failed to insert room %s: %w", r.RoomID, execErr)
			return 0, 0, err
		}
		n, affErr := res.RowsAffected()
		if affErr != nil {
			err = fmt.Errorf("failed to read affected rows: %w", affErr)
			return 0, 0, err
		}
		if n == 0 {
			duplicates++
			d.logger.Debug("room already saved", "survey_id", r.SurveyID, "room_id", string(r.RoomID))
			continue
		}
		saved++
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit rooms: %w", err)
	}
	return saved, duplicates, nil
}

// ListRooms returns the rooms of the given surveys ordered by survey and
// room ID.
func (d *DB) ListRooms(ctx context.Context, surveyIDs ...int64) ([]model.Room, error) {
	if len(surveyIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(surveyIDs)), ", ")
	args := make([]any, len(surveyIDs))
	for i, id := range surveyIDs {
		args[i] = id
	}

	rows, err := d.query(ctx, `SELECT `+roomColumns+` FROM room
	WHERE survey_id IN (`+placeholders+`)
	ORDER BY survey_id, room_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []model.Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// CountRooms returns the number of rooms stored for a survey.
func (d *DB) CountRooms(ctx context.Context, surveyID int64) (int, error) {
	var n int
	if err := d.queryRow(ctx, `SELECT COUNT(*) FROM room WHERE survey_id = ?`, surveyID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rooms: %w", err)
	}
	return n, nil
}

// RoomCountsByType returns the number of rooms of a survey per room type.
func (d *DB) RoomCountsByType(ctx context.Context, surveyID int64) (map[string]int, error) {
	rows, err := d.query(ctx, `SELECT room_type, COUNT(*) FROM room
	WHERE survey_id = ?
	GROUP BY room_type`, surveyID)
	if err != nil {
		return nil, fmt.Errorf("failed to count rooms: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			roomType string
			n        int
		)
		if err := rows.Scan(&roomType, &n); err != nil {
			return nil, fmt.Errorf("failed to scan room count: %w", err)
		}
		counts[roomType] = n
	}
	return counts, rows.Err()
}

func scanRoom(rows *sql.Rows) (model.Room, error) {
	var (
		r   model.Room
		id  string
		raw string
	)
	err := rows.Scan(&r.SurveyID, &id, &r.RoomType, &r.HostID, &r.Address, &r.Reviews,
		&r.OverallSatisfaction, &r.Accommodates, &r.Bedrooms, &r.Bathrooms, &r.Latitude, &r.Longitude,
		&r.Geohash, &r.Name, &r.License, &r.City, &r.PictureURL, &r.Neighborhood, &r.PDPType, &r.Rate,
		&r.RateWithServiceFee, &r.Currency, &r.MinNights, &r.MaxNights, &r.TreeIndex,
		&r.Fingerprint, &raw)
	if err != nil {
		return model.Room{}, err
	}
	r.RoomID = model.ListingID(id)
	r.Raw = []byte(raw)
	return r, nil
}
