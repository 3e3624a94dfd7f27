package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCheckAdvance(t *testing.T) {
	day := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	current := ProgressCursor{ChainID: 1, LastProcessedBlock: 100, LastProcessedDate: day}

	tests := []struct {
		name string
		next ProgressCursor
		err  bool
	}{
		{"forward", ProgressCursor{ChainID: 1, LastProcessedBlock: 200, LastProcessedDate: day.AddDate(0, 0, 1)}, false},
		{"empty range keeps block", ProgressCursor{ChainID: 1, LastProcessedBlock: 100, LastProcessedDate: day.AddDate(0, 0, 1)}, false},
		{"block regression", ProgressCursor{ChainID: 1, LastProcessedBlock: 99, LastProcessedDate: day.AddDate(0, 0, 1)}, true},
		{"date regression", ProgressCursor{ChainID: 1, LastProcessedBlock: 150, LastProcessedDate: day.AddDate(0, 0, -1)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckAdvance(current, tt.next)
			if tt.err {
				require.ErrorIs(t, err, ErrCursorRegression)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
