package report

import (
	"bytes"
	"encoding/csv"
	"io"
	"strconv"

	"github.com/nao1215/kanpora/internal/model"
)

// CSVWriter outputs one row per listing, for spreadsheets and analysis tools.
type CSVWriter struct {
	baseWriter
}

// NewCSVWriter creates a CSVWriter that outputs to the given writer.
func NewCSVWriter(output io.Writer) *CSVWriter {
	return &CSVWriter{baseWriter: newBaseWriter(output)}
}

// roomColumns is the header of a room export.
var roomColumns = []string{
	"room_id", "host_id", "room_type", "name", "address", "city", "neighborhood",
	"reviews", "overall_satisfaction", "accommodates", "bedrooms", "bathrooms",
	"rate", "rate_with_service_fee", "currency", "min_nights", "max_nights",
	"latitude", "longitude", "geohash", "license", "pdp_type", "tree_index",
	"survey_id", "fingerprint",
}

// Write outputs the rooms of the export as CSV.
func (w *CSVWriter) Write(e *Export) (int, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)

	if err := cw.Write(roomColumns); err != nil {
		return 0, err
	}
	for _, r := range e.Rooms {
		if err := cw.Write(roomRecord(r)); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, err
	}
	return w.output.Write(buf.Bytes())
}

// WriteComparison outputs one row per added, removed or changed listing.
func (w *CSVWriter) WriteComparison(c *Comparison) (int, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)

	header := []string{"change", "room_id", "room_type", "name", "latitude", "longitude", "rate_before", "rate_after"}
	if err := cw.Write(header); err != nil {
		return 0, err
	}

	rows := make([][]string, 0, len(c.Added)+len(c.Removed)+len(c.Changed))
	for _, r := range c.Added {
		rows = append(rows, changeRecord("added", r, "", formatFloat(r.Rate)))
	}
	for _, r := range c.Removed {
		rows = append(rows, changeRecord("removed", r, formatFloat(r.Rate), ""))
	}
	for _, ch := range c.Changed {
		rows = append(rows, changeRecord("changed", ch.After, formatFloat(ch.Before.Rate), formatFloat(ch.After.Rate)))
	}
	if err := cw.WriteAll(rows); err != nil {
		return 0, err
	}
	return w.output.Write(buf.Bytes())
}

func roomRecord(r model.Room) []string {
	return []string{
		string(r.RoomID),
		r.HostID,
		r.RoomType,
		r.Name,
		r.Address,
		r.City,
		r.Neighborhood,
		strconv.Itoa(r.Reviews),
		formatFloat(r.OverallSatisfaction),
		strconv.Itoa(r.Accommodates),
		formatFloat(r.Bedrooms),
		formatFloat(r.Bathrooms),
		formatFloat(r.Rate),
		formatFloat(r.RateWithServiceFee),
		r.Currency,
		strconv.Itoa(r.MinNights),
		strconv.Itoa(r.MaxNights),
		formatFloat(r.Latitude),
		formatFloat(r.Longitude),
		r.Geohash,
		r.License,
		r.PDPType,
		r.TreeIndex,
		strconv.FormatInt(r.SurveyID, 10),
		r.Fingerprint,
	}
}

func changeRecord(change string, r model.Room, before, after string) []string {
	return []string{
		change,
		string(r.RoomID),
		r.RoomType,
		r.Name,
		formatFloat(r.Latitude),
		formatFloat(r.Longitude),
		before,
		after,
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
