package validation

import (
	"errors"
	"regexp"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/vladislavdragonenkov/wholesale/internal/domain"
)

var (
	validate = validator.New(validator.WithRequiredStructEnabled())

	itemIndexPattern = regexp.MustCompile(`\.Items\[(\d+)\]`)
)

// Struct проверяет теги validate и превращает первую ошибку в domain.Error
// с номером позиции, если ошибка относится к элементу Items.
func Struct(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return domain.NewInternalError(err)
	}

	fe := fieldErrs[0]
	verr := domain.NewValidationError("field %s failed %q", fe.Field(), fe.Tag())
	if line := lineOf(fe.Namespace()); line > 0 {
		return verr.AtLine(line)
	}
	return verr
}

func lineOf(namespace string) int {
	m := itemIndexPattern.FindStringSubmatch(namespace)
	if len(m) != 2 {
		return 0
	}
	idx, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return idx + 1
}
