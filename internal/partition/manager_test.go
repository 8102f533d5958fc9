package partition

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsDuplicateObject(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"duplicate table", &pgconn.PgError{Code: "42P07"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, true},
		{"wrapped duplicate table", fmt.Errorf("exec: %w", &pgconn.PgError{Code: "42P07"}), true},
		{"other pg error", &pgconn.PgError{Code: "42601"}, false},
		{"non-pg error", errors.New("connection reset"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isDuplicateObject(tt.err); got != tt.want {
				t.Errorf("isDuplicateObject(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
