// Package handlers содержит обработчики задач демонстрационного пайплайна.
//
// Главная машина состояний вызывает first, затем Parallel из трёх веток,
// каждая из которых запускает под-машину: second → third, ошибка second
// перехватывается и передаётся в error.
//
//   - first  — пишет сообщение со случайным значением в объектное хранилище
//   - second — падает с Exception на чётном parallel_no
//   - third  — возвращает результат second с номером ветки
//   - error  — возвращает причину перехваченной ошибки
//   - delay  — пауза, вход возвращается без изменений
//
// Обработчики регистрируются в worker.Registry:
//
//	h := handlers.New(handlers.Config{Store: objectRepo, Bucket: cfg.Bucket})
//	if err := h.Register(registry); err != nil {
//	    return err
//	}
package handlers
