package engine

import (
	"time"

	"github.com/shaiso/stepflow/internal/domain"
)

// Значения RetryRule по умолчанию.
const (
	defaultRetryDelay    = time.Second
	defaultRetryMaxDelay = 30 * time.Second
)

// MatchesError проверяет, совпадает ли вид ошибки со списком шаблонов.
// "*" совпадает с любым видом.
func MatchesError(patterns []string, kind string) bool {
	for _, p := range patterns {
		if p == domain.ErrorAll || p == kind {
			return true
		}
	}
	return false
}

// ResolveCatch выбирает состояние-обработчик для ошибки.
//
// Правила проверяются в объявленном порядке, первое совпавшее побеждает.
// Возвращает false, если ни одно правило не совпало: ошибка
// становится результатом выполнения.
func ResolveCatch(rules []domain.CatchRule, f *domain.Failure) (string, bool) {
	if f == nil {
		return "", false
	}
	for _, rule := range rules {
		if MatchesError(rule.Errors, f.Kind) {
			return rule.Next, true
		}
	}
	return "", false
}

// ResolveRetry выбирает правило повтора для ошибки.
//
// attempts — количество выполненных попыток по каждому правилу
// (индекс правила → попытки, включая первую); при разрешении повтора
// счётчик совпавшего правила увеличивается. Возвращает индекс правила
// и задержку перед следующей попыткой; false — повторов больше нет,
// ошибка передаётся в ResolveCatch.
func ResolveRetry(rules []domain.RetryRule, f *domain.Failure, attempts map[int]int) (int, time.Duration, bool) {
	if f == nil {
		return 0, 0, false
	}
	for i := range rules {
		rule := &rules[i]
		if !MatchesError(rule.Errors, f.Kind) {
			continue
		}

		done := attempts[i]
		if done == 0 {
			done = 1
		}
		if done >= rule.MaxAttempts {
			return 0, 0, false
		}
		attempts[i] = done + 1
		return i, RetryDelay(rule, done), true
	}
	return 0, 0, false
}

// RetryDelay вычисляет задержку перед повтором после attempt-й попытки.
func RetryDelay(rule *domain.RetryRule, attempt int) time.Duration {
	initialDelay := time.Duration(rule.InitialDelayMs) * time.Millisecond
	if initialDelay <= 0 {
		initialDelay = defaultRetryDelay
	}

	maxDelay := time.Duration(rule.MaxDelayMs) * time.Millisecond
	if maxDelay <= 0 {
		maxDelay = defaultRetryMaxDelay
	}

	var delay time.Duration
	switch rule.Backoff {
	case "exponential":
		// delay = initialDelay * 2^(attempt-1)
		delay = initialDelay
		for i := 1; i < attempt; i++ {
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
				break
			}
		}
	default:
		// "fixed" или не задано
		delay = initialDelay
	}

	if delay > maxDelay {
		delay = maxDelay
	}

	return delay
}
