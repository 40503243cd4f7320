// Package worker — Task Executor Registry и хост удалённых задач.
//
// # Registry
//
// Registry сопоставляет идентификатор задачи (поле Resource состояния Task)
// с Executor'ом:
//
//	type Executor interface {
//	    Execute(ctx context.Context, input any) (any, error)
//	}
//
// Registry.Invoke выполняет задачу с таймаутом и приводит все ошибки
// к *domain.Failure: TaskNotFound, Timeout, вид из Failure executor'а или
// ExecutorFailure. Для задач, которых нет локально, используется Dispatcher.
//
// Реализации Executor:
//   - ExecutorFunc — обычная функция
//   - HTTPExecutor — задача, реализованная HTTP-сервисом
//
// # Удалённое выполнение
//
// RemoteDispatcher отправляет запрос task.invoke в очередь tasks.invoke
// (RabbitMQ RPC с direct reply-to). Worker потребляет эту очередь,
// выполняет задачу локальным Registry и отвечает в reply-to.
//
//	w := worker.New(worker.Config{
//	    Registry:  registry,
//	    Publisher: publisher,
//	    Conn:      mqConn,
//	    Logger:    logger,
//	})
//
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
//
// Workers масштабируются горизонтально — несколько экземпляров
// потребляют из одной очереди.
package worker
