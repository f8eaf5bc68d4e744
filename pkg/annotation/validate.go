package annotation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field values and the range invariant.
func Validate(a Annotation) error {
	if !a.StartDate.IsZero() && !a.EndDate.IsZero() && a.StartDate.After(a.EndDate) {
		return ErrInvalidRange
	}

	err := validate.Struct(a)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, ", "))
}

// normalize fills creation defaults.
func normalize(a *Annotation) {
	if a.AnnotationType == "" {
		a.AnnotationType = TypeOther
	}
	if a.Status == "" {
		a.Status = StatusCreated
	}
	a.StartDate = a.StartDate.UTC()
	a.EndDate = a.EndDate.UTC()
	a.Color = ""
}
