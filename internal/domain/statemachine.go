package domain

import (
	"sort"
	"time"
)

// StateType — тип состояния state machine.
type StateType string

const (
	// StateTypeTask — вызов task executor'а или вложенной state machine.
	StateTypeTask StateType = "Task"

	// StateTypeParallel — параллельное выполнение веток с упорядоченным join.
	StateTypeParallel StateType = "Parallel"

	// StateTypePass — пробрасывает (и при необходимости преобразует) документ без вызова executor'а.
	StateTypePass StateType = "Pass"
)

// RootPath — путь, выбирающий документ целиком.
const RootPath = "$"

// StateMachine — определение рабочего процесса.
//
// StateMachine — это граф именованных состояний с одной точкой входа.
// Определение неизменяемо после регистрации в каталоге: каждое выполнение
// (Execution) читает его, но никогда не модифицирует.
//
// Ветки Parallel-состояния описываются тем же типом (без Name).
type StateMachine struct {
	// Name — уникальное имя state machine (например, "main", "sub").
	// Используется для ссылок из sub-workflow задач и при запуске через API.
	Name string `json:"name,omitempty" yaml:"name,omitempty" validate:"omitempty,max=128"`

	// Comment — произвольное описание.
	Comment string `json:"comment,omitempty" yaml:"comment,omitempty"`

	// StartAt — имя состояния, с которого начинается выполнение.
	StartAt string `json:"start_at" yaml:"start_at" validate:"required"`

	// States — состояния по имени.
	States map[string]*State `json:"states" yaml:"states" validate:"required,min=1,dive,required"`
}

// State — определение одного состояния.
type State struct {
	// Type — тип состояния: "Task", "Parallel", "Pass".
	Type StateType `json:"type" yaml:"type" validate:"required,oneof=Task Parallel Pass"`

	// Comment — произвольное описание.
	Comment string `json:"comment,omitempty" yaml:"comment,omitempty"`

	// Resource — идентификатор задачи для Task Executor Registry.
	// Для Task задаётся ровно одно из Resource / StateMachine.
	Resource string `json:"resource,omitempty" yaml:"resource,omitempty"`

	// StateMachine — имя вложенной state machine (sub-workflow).
	// Вложенное выполнение получает собственный execution id и контекст.
	StateMachine string `json:"state_machine,omitempty" yaml:"state_machine,omitempty"`

	// Parameters — шаблон входа задачи.
	// Ключи с суффиксом ".$" — ссылки: значение является путём
	// ("$..." по документу, "$$..." по ExecutionContext).
	// Остальные ключи копируются как литералы.
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`

	// InputPath — путь, выбирающий вход состояния (по умолчанию "$").
	InputPath string `json:"input_path,omitempty" yaml:"input_path,omitempty"`

	// ResultPath — куда записать результат в исходный документ (по умолчанию "$").
	ResultPath string `json:"result_path,omitempty" yaml:"result_path,omitempty"`

	// OutputPath — путь, выбирающий выход состояния (по умолчанию "$").
	OutputPath string `json:"output_path,omitempty" yaml:"output_path,omitempty"`

	// Result — литеральный результат Pass-состояния.
	// Если не задан, результатом считается вход.
	Result any `json:"result,omitempty" yaml:"result,omitempty"`

	// TimeoutSec — таймаут вызова задачи в секундах.
	// 0 — используется таймаут движка по умолчанию.
	TimeoutSec int `json:"timeout_sec,omitempty" yaml:"timeout_sec,omitempty" validate:"gte=0"`

	// Retry — правила повтора, проверяются по порядку до Catch.
	Retry []RetryRule `json:"retry,omitempty" yaml:"retry,omitempty" validate:"dive"`

	// Catch — правила перехвата ошибок, первое совпавшее побеждает.
	Catch []CatchRule `json:"catch,omitempty" yaml:"catch,omitempty" validate:"dive"`

	// Branches — ветки Parallel-состояния, выполняются конкурентно.
	Branches []StateMachine `json:"branches,omitempty" yaml:"branches,omitempty" validate:"dive"`

	// Next — следующее состояние. Пустое значение — терминальное состояние.
	Next string `json:"next,omitempty" yaml:"next,omitempty"`
}

// CatchRule — правило перехвата ошибки.
type CatchRule struct {
	// Errors — виды ошибок, на которые срабатывает правило. "*" — любая ошибка.
	Errors []string `json:"errors" yaml:"errors" validate:"required,min=1,dive,required"`

	// Next — состояние-обработчик; получает запись об ошибке как документ.
	Next string `json:"next" yaml:"next" validate:"required"`
}

// RetryRule — правило повторной попытки.
type RetryRule struct {
	// Errors — виды ошибок, на которые срабатывает правило. "*" — любая ошибка.
	Errors []string `json:"errors" yaml:"errors" validate:"required,min=1,dive,required"`

	// MaxAttempts — максимальное количество попыток (включая первую).
	MaxAttempts int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty" validate:"gte=0"`

	// Backoff — стратегия задержки: "fixed", "exponential".
	Backoff string `json:"backoff,omitempty" yaml:"backoff,omitempty" validate:"omitempty,oneof=fixed exponential"`

	// InitialDelayMs — начальная задержка в миллисекундах.
	InitialDelayMs int `json:"initial_delay_ms,omitempty" yaml:"initial_delay_ms,omitempty" validate:"gte=0"`

	// MaxDelayMs — максимальная задержка в миллисекундах.
	MaxDelayMs int `json:"max_delay_ms,omitempty" yaml:"max_delay_ms,omitempty" validate:"gte=0"`
}

// IsTerminal возвращает true, если после состояния выполнение завершается.
func (s *State) IsTerminal() bool {
	return s.Next == ""
}

// IsSubWorkflow возвращает true, если Task вызывает вложенную state machine.
func (s *State) IsSubWorkflow() bool {
	return s.Type == StateTypeTask && s.StateMachine != ""
}

// Timeout возвращает таймаут состояния или fallback, если он не задан.
func (s *State) Timeout(fallback time.Duration) time.Duration {
	if s.TimeoutSec > 0 {
		return time.Duration(s.TimeoutSec) * time.Second
	}
	return fallback
}

// EffectiveInputPath возвращает InputPath или "$".
func (s *State) EffectiveInputPath() string {
	return orRoot(s.InputPath)
}

// EffectiveResultPath возвращает ResultPath или "$".
func (s *State) EffectiveResultPath() string {
	return orRoot(s.ResultPath)
}

// EffectiveOutputPath возвращает OutputPath или "$".
func (s *State) EffectiveOutputPath() string {
	return orRoot(s.OutputPath)
}

// SubWorkflows возвращает имена всех state machines, на которые ссылается определение,
// включая ссылки из веток Parallel-состояний.
func (sm *StateMachine) SubWorkflows() []string {
	seen := make(map[string]bool)
	var names []string

	var walk func(m *StateMachine)
	walk = func(m *StateMachine) {
		for _, st := range m.States {
			if st == nil {
				continue
			}
			if st.StateMachine != "" && !seen[st.StateMachine] {
				seen[st.StateMachine] = true
				names = append(names, st.StateMachine)
			}
			for i := range st.Branches {
				walk(&st.Branches[i])
			}
		}
	}
	walk(sm)

	sort.Strings(names)
	return names
}

func orRoot(p string) string {
	if p == "" {
		return RootPath
	}
	return p
}
