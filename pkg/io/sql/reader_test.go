package sql

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/goguardlof/pkg/dataset"
	goguardio "github.com/hed1ad/goguardlof/pkg/io"
)

func TestReaderRead(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"bytes", "latency", "label"}).
		AddRow(int64(512), 0.25, int64(0)).
		AddRow(int64(9000), []byte("3.5"), int64(1)).
		AddRow(nil, 1.0, int64(0)).
		AddRow(int64(64), "0.1", nil)

	mock.ExpectQuery("SELECT (.+) FROM flows WHERE host").
		WithArgs("web-1").
		WillReturnRows(rows)

	r := NewReader(db, "SELECT bytes, latency, label FROM flows WHERE host = $1",
		WithArgs("web-1"), WithTargetColumn("label"))
	defer r.Close()

	tbl, err := r.Read(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"bytes", "latency"}, tbl.FeatureNames())
	require.Equal(t, 3, tbl.Len())
	assert.Equal(t, []float64{512, 0.25}, tbl.Row(0).Features)
	assert.Equal(t, []float64{9000, 3.5}, tbl.Row(1).Features)
	assert.True(t, tbl.Row(1).HasTarget)
	assert.Equal(t, 1.0, tbl.Row(1).Target)
	// A NULL target keeps the row without ground truth.
	assert.Equal(t, []float64{64, 0.1}, tbl.Row(2).Features)
	assert.False(t, tbl.Row(2).HasTarget)
	assert.Equal(t, 1, r.Skipped())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReaderSkipsNonFinite(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"a", "b"}).
		AddRow(1.0, 2.0).
		AddRow(math.NaN(), 1.0).
		AddRow("Infinity", 1.0).
		AddRow(3.0, 4.0)
	mock.ExpectQuery("SELECT a, b FROM points").WillReturnRows(rows)

	r := NewReader(db, "SELECT a, b FROM points")
	tbl, err := r.Read(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, []float64{1, 2}, tbl.Row(0).Features)
	assert.Equal(t, []float64{3, 4}, tbl.Row(1).Features)
	assert.Equal(t, 2, r.Skipped())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReaderSelectedColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT").
		WillReturnRows(sqlmock.NewRows([]string{"id", "a", "b"}).
			AddRow("row-1", 1.0, 2.0).
			AddRow("row-2", 3.0, 4.0))

	r := NewReader(db, "SELECT id, a, b FROM points", WithColumns("b", "a"))
	tbl, err := r.Read(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "a"}, tbl.FeatureNames())
	assert.Equal(t, []float64{4, 3}, tbl.Row(1).Features)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReaderErrors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(sqlmock.Sqlmock)
		opts    []Option
		wantErr error
	}{
		{
			name: "query failure",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectQuery("SELECT").WillReturnError(errors.New("connection reset"))
			},
		},
		{
			name: "non-numeric feature",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"host"}).AddRow("web-1"))
			},
			wantErr: ErrNotNumeric,
		},
		{
			name: "unknown target",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"a"}).AddRow(1.0))
			},
			opts:    []Option{WithTargetColumn("label")},
			wantErr: dataset.ErrUnknownColumn,
		},
		{
			name: "only target",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"label"}).AddRow(1.0))
			},
			opts:    []Option{WithTargetColumn("label")},
			wantErr: goguardio.ErrNoFeatures,
		},
		{
			name: "row error",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"a"}).
					AddRow(1.0).
					AddRow(2.0).
					RowError(1, errors.New("stream broken")))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()
			tt.setup(mock)

			r := NewReader(db, "SELECT * FROM t", tt.opts...)
			_, err = r.Read(context.Background())
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestReaderCloseDoesNotCloseBorrowedDB(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	r := NewReader(db, "SELECT 1")
	require.NoError(t, r.Close())

	assert.NoError(t, db.Ping())
}

func TestToFloat(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		want   float64
		wantOK bool
		err    bool
	}{
		{name: "nil", in: nil},
		{name: "int64", in: int64(-7), want: -7, wantOK: true},
		{name: "float64", in: 2.5, want: 2.5, wantOK: true},
		{name: "bool", in: true, want: 1, wantOK: true},
		{name: "bytes", in: []byte(" 42 "), want: 42, wantOK: true},
		{name: "string", in: "1e3", want: 1000, wantOK: true},
		{name: "text", in: "abc", err: true},
		{name: "struct", in: struct{}{}, err: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := toFloat(tt.in)
			if tt.err {
				assert.ErrorIs(t, err, ErrNotNumeric)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
