package prometheus

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DefaultRegistry — стандартный глобальный реестр метрик.
	DefaultRegistry = prometheus.DefaultRegisterer

	// DefaultGatherer используется promhttp.Handler'ом.
	DefaultGatherer = prometheus.DefaultGatherer
)

// Handler возвращает HTTP-обработчик для /metrics.
// Подключается в common/httpserver по пути из конфига.
func Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(
		DefaultRegistry,
		promhttp.HandlerFor(DefaultGatherer, promhttp.HandlerOpts{}),
	)
}

// Register регистрирует коллектор в reg (nil → дефолтный реестр).
// Повторная регистрация того же коллектора не считается ошибкой.
func Register(reg prometheus.Registerer, cs ...prometheus.Collector) error {
	if reg == nil {
		reg = DefaultRegistry
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// MustRegisterMany — регистрирует несколько метрик одной строкой, паникуя при конфликте.
func MustRegisterMany(cs ...prometheus.Collector) {
	if err := Register(nil, cs...); err != nil {
		panic(err)
	}
}
