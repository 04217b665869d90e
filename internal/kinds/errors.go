package kinds

import "errors"

var (
	// ErrMissingURL — в WebhookJob не указан URL.
	ErrMissingURL = errors.New("webhook url is required")

	// ErrHTTPRequest — HTTP-запрос завершился ошибкой.
	ErrHTTPRequest = errors.New("http request failed")

	// ErrHTTPStatus — сервер ответил не 2xx.
	ErrHTTPStatus = errors.New("unexpected http status")
)
