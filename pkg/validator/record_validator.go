package validator

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/pensionbatch/internal/domain"
)

// Rejection reasons reported per field.
const (
	ReasonRequiredBlank   = "required field blank"
	ReasonInvalidDate     = "birth date is not a valid YYYY-MM-DD date"
	ReasonDateNotInPast   = "birth date not in the past"
	ReasonInvalidInteger  = "number of dependents is not an integer"
	ReasonNegativeInteger = "number of dependents is negative"
	ReasonAmountMissing   = "contribution amount missing"
	ReasonAmountInvalid   = "contribution amount is not a number"
	ReasonAmountNegative  = "contribution amount is negative"
)

// ValidationError represents a single failed field constraint.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

// Rejection describes why a raw record was refused. It is an error so the
// job can tag and route it without inspecting validator internals.
type Rejection struct {
	Line   int               `json:"line"`
	Raw    domain.RawRecord  `json:"-"`
	Errors []ValidationError `json:"errors"`
}

func (r *Rejection) Error() string {
	messages := make([]string, 0, len(r.Errors))
	for _, validationErr := range r.Errors {
		messages = append(messages, fmt.Sprintf("%s: %s", validationErr.Field, validationErr.Message))
	}
	return fmt.Sprintf("line %d rejected: %s", r.Line, strings.Join(messages, "; "))
}

// HasField reports whether the rejection includes a failure on field.
func (r *Rejection) HasField(field string) bool {
	for _, validationErr := range r.Errors {
		if validationErr.Field == field {
			return true
		}
	}
	return false
}

// RecordValidator checks raw contribution records against the record
// constraints and converts them to typed records.
type RecordValidator struct {
	now func() time.Time
}

// Option customizes a RecordValidator.
type Option func(*RecordValidator)

// WithClock overrides the wall clock used for the birth date check.
func WithClock(now func() time.Time) Option {
	return func(v *RecordValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// NewRecordValidator creates a new record validator.
func NewRecordValidator(opts ...Option) *RecordValidator {
	v := &RecordValidator{now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate converts raw into a ContributionRecord or returns every
// constraint it violates. It has no side effects.
func (v *RecordValidator) Validate(raw domain.RawRecord) (domain.ContributionRecord, *Rejection) {
	var errs []ValidationError
	fail := func(field, message, value string) {
		errs = append(errs, ValidationError{Field: field, Message: message, Value: value})
	}

	record := domain.ContributionRecord{
		SocialSecurityNumber: raw.Get(domain.ColumnSocialSecurityNumber),
		LastName:             raw.Get(domain.ColumnLastName),
		FirstName:            raw.Get(domain.ColumnFirstName),
		Address:              raw.Get(domain.ColumnAddress),
		PostalCode:           raw.Get(domain.ColumnPostalCode),
		City:                 raw.Get(domain.ColumnCity),
		Country:              raw.Get(domain.ColumnCountry),
		SpouseName:           raw.Get(domain.ColumnSpouseName),
	}

	for _, column := range []string{domain.ColumnSocialSecurityNumber, domain.ColumnLastName, domain.ColumnFirstName} {
		if strings.TrimSpace(raw.Get(column)) == "" {
			fail(column, ReasonRequiredBlank, raw.Get(column))
		}
	}

	// Evaluated at validation time, not read time. Dates are calendar days in
	// the clock's location; today itself is not in the past.
	now := v.now()
	today := startOfDay(now)
	birthRaw := strings.TrimSpace(raw.Get(domain.ColumnBirthDate))
	if birthRaw == "" {
		fail(domain.ColumnBirthDate, ReasonRequiredBlank, birthRaw)
	} else if birthDate, err := time.ParseInLocation(domain.DateLayout, birthRaw, now.Location()); err != nil {
		fail(domain.ColumnBirthDate, ReasonInvalidDate, birthRaw)
	} else if !birthDate.Before(today) {
		fail(domain.ColumnBirthDate, ReasonDateNotInPast, birthRaw)
	} else {
		record.BirthDate = birthDate
	}

	if dependentsRaw := strings.TrimSpace(raw.Get(domain.ColumnDependents)); dependentsRaw != "" {
		dependents, err := strconv.Atoi(dependentsRaw)
		switch {
		case err != nil:
			fail(domain.ColumnDependents, ReasonInvalidInteger, dependentsRaw)
		case dependents < 0:
			fail(domain.ColumnDependents, ReasonNegativeInteger, dependentsRaw)
		default:
			record.Dependents = &dependents
		}
	}

	amountRaw := strings.TrimSpace(raw.Get(domain.ColumnContributionAmount))
	if amountRaw == "" {
		fail(domain.ColumnContributionAmount, ReasonAmountMissing, amountRaw)
	} else if amount, err := parseDecimal(amountRaw); err != nil {
		fail(domain.ColumnContributionAmount, ReasonAmountInvalid, amountRaw)
	} else if amount < 0 {
		fail(domain.ColumnContributionAmount, ReasonAmountNegative, amountRaw)
	} else {
		record.ContributionAmount = amount
	}

	if len(errs) > 0 {
		return domain.ContributionRecord{}, &Rejection{Line: raw.Line, Raw: raw, Errors: errs}
	}
	return record, nil
}

// parseDecimal accepts plain decimal notation only; hex floats, NaN and
// infinities are refused.
func parseDecimal(value string) (float64, error) {
	lower := strings.ToLower(value)
	if strings.Contains(lower, "x") || strings.Contains(lower, "inf") || strings.Contains(lower, "nan") {
		return 0, fmt.Errorf("invalid decimal %q", value)
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return 0, fmt.Errorf("invalid decimal %q", value)
	}
	return parsed, nil
}

func startOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}
