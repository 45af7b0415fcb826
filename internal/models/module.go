package models

import (
	"fmt"
	"time"
)

// GradeMethod selects how several attempts collapse into one gradebook score.
type GradeMethod string

const (
	GradeHighest GradeMethod = "highest"
	GradeAverage GradeMethod = "average"
	GradeFirst   GradeMethod = "first"
	GradeLast    GradeMethod = "last"
)

func ParseGradeMethod(s string) (GradeMethod, error) {
	switch GradeMethod(s) {
	case GradeHighest, GradeAverage, GradeFirst, GradeLast:
		return GradeMethod(s), nil
	default:
		return "", fmt.Errorf("unknown grade method %q", s)
	}
}

type Module struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name"`
	GradeMethod GradeMethod `json:"grade_method"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Grade is one gradebook-ready row.
type Grade struct {
	UserID     int64      `json:"user_id"`
	RawGrade   float64    `json:"raw_grade"`
	DateGraded *time.Time `json:"date_graded,omitempty"`
}

type CreateModuleRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	GradeMethod string `json:"grade_method" validate:"omitempty,oneof=highest average first last"`
}

type SetGradeMethodRequest struct {
	GradeMethod string `json:"grade_method" validate:"required,oneof=highest average first last"`
}
