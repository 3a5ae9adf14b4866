package database

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
)

func TestTranslateError(t *testing.T) {
	t.Parallel()

	dup := &pq.Error{Code: uniqueViolation, Constraint: "developers_portal_username_key"}
	other := &pq.Error{Code: "23503"}

	tests := []struct {
		name          string
		err           error
		wantNotFound  bool
		wantDuplicate bool
	}{
		{"nil", nil, false, false},
		{"no rows", sql.ErrNoRows, true, false},
		{"wrapped no rows", fmt.Errorf("query: %w", sql.ErrNoRows), true, false},
		{"unique violation", dup, false, true},
		{"other pq error", other, false, false},
		{"plain error", errors.New("boom"), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := translateError(tt.err)
			if tt.err == nil {
				if got != nil {
					t.Fatalf("translateError(nil) = %v, want nil", got)
				}
				return
			}
			if IsNotFound(got) != tt.wantNotFound {
				t.Errorf("IsNotFound = %v, want %v", IsNotFound(got), tt.wantNotFound)
			}
			if IsDuplicate(got) != tt.wantDuplicate {
				t.Errorf("IsDuplicate = %v, want %v", IsDuplicate(got), tt.wantDuplicate)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("translated error lost original cause %v", tt.err)
			}
		})
	}
}

func TestTranslateError_DuplicateNamesConstraint(t *testing.T) {
	t.Parallel()
	err := translateError(&pq.Error{Code: uniqueViolation, Constraint: "developer_external_identities_subject_key"})
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		t.Fatal("expected *pq.Error in chain")
	}
	if pqErr.Constraint != "developer_external_identities_subject_key" {
		t.Errorf("constraint = %q", pqErr.Constraint)
	}
}

func TestExpectAffected(t *testing.T) {
	t.Parallel()
	if err := expectAffected(1, nil); err != nil {
		t.Errorf("expectAffected(1) = %v", err)
	}
	if err := expectAffected(0, nil); !IsNotFound(err) {
		t.Errorf("expectAffected(0) = %v, want ErrNotFound", err)
	}
	if err := expectAffected(0, errors.New("driver")); err == nil || IsNotFound(err) {
		t.Errorf("expectAffected with driver error = %v", err)
	}
}
