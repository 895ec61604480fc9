package workflow

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// requiredByType lists the fields each achievement type must carry beyond the title.
var requiredByType = map[Type][]string{
	Certificate: {"issuer"},
	Workshop:    {"organization"},
	Club:        {"role"},
	Project:     {"description"},
	Internship:  {"organization", "start_date"},
	Other:       {},
}

func validateSubmission(sub Submission) error {
	var fields []FieldError
	if err := validate.Struct(sub); err != nil {
		fields = append(fields, fieldErrors(err)...)
	}
	if sub.Type != "" && !sub.Type.Valid() {
		fields = append(fields, FieldError{Field: "type", Error: "unknown achievement type"})
	}
	for _, name := range requiredByType[sub.Type] {
		if missing(sub, name) {
			fields = append(fields, FieldError{Field: name, Error: "required for " + string(sub.Type)})
		}
	}
	if sub.StartDate != nil && sub.EndDate != nil && sub.EndDate.Before(*sub.StartDate) {
		fields = append(fields, FieldError{Field: "end_date", Error: "must not be before start_date"})
	}
	if len(fields) > 0 {
		return newValidationError(fields...)
	}
	return nil
}

func missing(sub Submission, field string) bool {
	switch field {
	case "issuer":
		return strings.TrimSpace(sub.Issuer) == ""
	case "organization":
		return strings.TrimSpace(sub.Organization) == ""
	case "role":
		return strings.TrimSpace(sub.Role) == ""
	case "description":
		return strings.TrimSpace(sub.Description) == ""
	case "start_date":
		return sub.StartDate == nil || sub.StartDate.IsZero()
	}
	return false
}

// validateLeave checks a leave submission against today's date and returns the
// normalised day range.
func validateLeave(sub LeaveSubmission, now time.Time) (start, end time.Time, err error) {
	var fields []FieldError
	if verr := validate.Struct(sub); verr != nil {
		fields = append(fields, fieldErrors(verr)...)
	}
	if sub.StartDate.IsZero() {
		fields = append(fields, FieldError{Field: "start_date", Error: "required"})
	}
	if sub.EndDate.IsZero() {
		fields = append(fields, FieldError{Field: "end_date", Error: "required"})
	}
	start, end = day(sub.StartDate), day(sub.EndDate)
	if !sub.StartDate.IsZero() && start.Before(day(now)) {
		fields = append(fields, FieldError{Field: "start_date", Error: "must not be in the past"})
	}
	if !sub.EndDate.IsZero() && end.Before(start) {
		fields = append(fields, FieldError{Field: "end_date", Error: "must not be before start_date"})
	}
	if len(fields) > 0 {
		return time.Time{}, time.Time{}, newValidationError(fields...)
	}
	return start, end, nil
}

// TotalDays is the inclusive number of days between two dates.
func TotalDays(start, end time.Time) int {
	return int(day(end).Sub(day(start)).Hours()/24) + 1
}

func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func fieldErrors(err error) []FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Field: "payload", Error: err.Error()}}
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: fe.Field(), Error: "failed " + fe.Tag()})
	}
	return out
}

// ValidateStruct runs the tag validations on v and reports failures as a ValidationError.
func ValidateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		return newValidationError(fieldErrors(err)...)
	}
	return nil
}
