package tracker

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/warp/progress-engine/generic"
)

// =============================================================================
// INPUTS - Validated before any store access
// =============================================================================

type RegisterUserInput struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name" validate:"required,max=100"`
}

type CategoryInput struct {
	Name string `json:"name" validate:"required,max=100"`
}

type ProjectInput struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=1000"`
}

type LogActivityInput struct {
	CategoryID  string `json:"category_id" validate:"required"`
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	Duration    int    `json:"duration" validate:"gte=0"`
	Description string `json:"description" validate:"max=1000"`
}

type TaskInput struct {
	CategoryID   string  `json:"category_id" validate:"required"`
	ProjectID    *string `json:"project_id"`
	Title        string  `json:"title" validate:"required,max=200"`
	StartDate    string  `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate      string  `json:"end_date" validate:"required,datetime=2006-01-02"`
	GoalDuration int     `json:"goal_duration" validate:"gte=0"`
}

type HabitInput struct {
	CategoryID      string  `json:"category_id" validate:"required"`
	ProjectID       *string `json:"project_id"`
	Title           string  `json:"title" validate:"required,max=200"`
	Period          string  `json:"period" validate:"required"`
	NumberOfPeriods int     `json:"number_of_periods" validate:"gte=1"`
	GoalDuration    int     `json:"goal_duration" validate:"gte=0"`
	StartDate       string  `json:"start_date" validate:"required,datetime=2006-01-02"`
}

type ToDoInput struct {
	ProjectID *string `json:"project_id"`
	Title     string  `json:"title" validate:"required,max=200"`
}

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateInput turns validator failures into one ValidationError listing
// each offending field.
func validateInput(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return generic.Validation("invalid input", err)
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, describeField(fe))
	}
	return generic.Validation(strings.Join(problems, "; "), err)
}

func describeField(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "gte":
		return fmt.Sprintf("%s must be >= %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "datetime":
		return field + " must be a date (YYYY-MM-DD)"
	case "email":
		return field + " must be an email address"
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
