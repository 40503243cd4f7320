package mq

import "errors"

var (
	// ErrNotConnected — соединение с брокером отсутствует.
	ErrNotConnected = errors.New("rabbitmq: not connected")

	// ErrRequeue — обработчик просит вернуть сообщение в очередь
	// (например, воркер останавливается и задачу выполнит другой экземпляр).
	ErrRequeue = errors.New("requeue message")

	// ErrMalformedMessage — тело сообщения не является Message.
	ErrMalformedMessage = errors.New("malformed message")
)
