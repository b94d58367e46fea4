package mq

import "errors"

// Ошибки слоя очередей.
var (
	// ErrNoChannel — канал недоступен (разрыв соединения до redial'а).
	ErrNoChannel = errors.New("no AMQP channel available")

	// ErrStreamClosed — поток доставки закрыт брокером.
	ErrStreamClosed = errors.New("delivery stream closed")
)
