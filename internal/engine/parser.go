package engine

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/shaiso/stepflow/internal/domain"
)

// validate — валидатор struct-тегов определений.
// Имена полей в ошибках берутся из json-тегов.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate выполняет полную валидацию определения state machine.
//
// Проверяет:
//   - struct-теги (обязательные поля, допустимые типы состояний, правила Catch/Retry)
//   - допустимость полей для каждого типа состояния
//   - существование StartAt и целей next / catch
//   - отсутствие циклов по next и недостижимых состояний
//   - рекурсивно все ветки Parallel
//
// Ссылки на sub-workflow проверяются каталогом при регистрации.
// Все ошибки — *DefinitionError.
func Validate(sm *domain.StateMachine) error {
	if sm == nil || len(sm.States) == 0 {
		name := ""
		if sm != nil {
			name = sm.Name
		}
		return &DefinitionError{
			StateMachine: name,
			Field:        "states",
			Message:      "state machine has no states",
			Err:          ErrEmptyDefinition,
		}
	}

	if err := validate.Struct(sm); err != nil {
		return withMachine(fromValidatorError(err), sm.Name)
	}

	if err := validateMachine(sm, ""); err != nil {
		return withMachine(err, sm.Name)
	}

	return nil
}

// validateMachine проверяет состояния и граф одной state machine или ветки.
// scope — префикс имени состояния для ошибок внутри веток.
func validateMachine(sm *domain.StateMachine, scope string) error {
	for _, name := range sortedStateNames(sm) {
		if err := ValidateState(scope+name, sm.States[name]); err != nil {
			return err
		}
	}

	if _, err := BuildGraph(sm); err != nil {
		return scoped(err, scope)
	}

	for _, name := range sortedStateNames(sm) {
		st := sm.States[name]
		if st.Type != domain.StateTypeParallel {
			continue
		}
		for i := range st.Branches {
			branchScope := fmt.Sprintf("%s%s/branch[%d]/", scope, name, i)
			if err := validateMachine(&st.Branches[i], branchScope); err != nil {
				return err
			}
		}
	}

	return nil
}

// ValidateState проверяет допустимость полей для типа состояния.
func ValidateState(name string, st *domain.State) error {
	switch st.Type {
	case domain.StateTypeTask:
		if (st.Resource == "") == (st.StateMachine == "") {
			return NewDefinitionError(name, "resource",
				"task must set exactly one of resource or state_machine", ErrTaskTarget)
		}
		if len(st.Branches) > 0 {
			return notAllowed(name, "branches", st.Type)
		}
		if st.Result != nil {
			return notAllowed(name, "result", st.Type)
		}

	case domain.StateTypeParallel:
		if len(st.Branches) == 0 {
			return NewDefinitionError(name, "branches",
				"parallel state has no branches", ErrEmptyBranches)
		}
		if st.Resource != "" {
			return notAllowed(name, "resource", st.Type)
		}
		if st.StateMachine != "" {
			return notAllowed(name, "state_machine", st.Type)
		}
		if st.Result != nil {
			return notAllowed(name, "result", st.Type)
		}

	case domain.StateTypePass:
		switch {
		case st.Resource != "":
			return notAllowed(name, "resource", st.Type)
		case st.StateMachine != "":
			return notAllowed(name, "state_machine", st.Type)
		case len(st.Branches) > 0:
			return notAllowed(name, "branches", st.Type)
		case len(st.Catch) > 0:
			return notAllowed(name, "catch", st.Type)
		case len(st.Retry) > 0:
			return notAllowed(name, "retry", st.Type)
		case st.TimeoutSec > 0:
			return notAllowed(name, "timeout_sec", st.Type)
		}
	}

	return nil
}

func notAllowed(name, field string, t domain.StateType) error {
	return NewDefinitionError(name, field,
		fmt.Sprintf("field %s is not allowed for %s state", field, t), ErrFieldNotAllowed)
}

// fromValidatorError превращает первую ошибку validator'а в DefinitionError.
func fromValidatorError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &DefinitionError{Message: err.Error(), Err: ErrInvalidField}
	}

	fe := verrs[0]
	field := strings.TrimPrefix(fe.Namespace(), "StateMachine.")
	msg := fmt.Sprintf("field %s failed on '%s' rule", field, fe.Tag())
	if fe.Param() != "" {
		msg = fmt.Sprintf("field %s failed on '%s=%s' rule", field, fe.Tag(), fe.Param())
	}
	return &DefinitionError{Field: field, Message: msg, Err: ErrInvalidField}
}

// scoped добавляет префикс ветки к имени состояния в DefinitionError.
func scoped(err error, scope string) error {
	var dErr *DefinitionError
	if scope != "" && errors.As(err, &dErr) {
		dErr.State = scope + dErr.State
	}
	return err
}

func withMachine(err error, name string) error {
	var dErr *DefinitionError
	if errors.As(err, &dErr) && dErr.StateMachine == "" {
		dErr.StateMachine = name
	}
	return err
}
