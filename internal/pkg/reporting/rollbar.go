// Package reporting отправляет неожиданные ошибки в Rollbar.
// Без токена все вызовы только пишут в лог.
package reporting

import (
	"log"
	"sync/atomic"

	"github.com/rollbar/rollbar-go"
)

var enabled atomic.Bool

// Init настраивает глобальный клиент Rollbar. Пустой токен отключает отправку.
func Init(token, environment string) {
	if token == "" {
		log.Println("[Reporting] Токен Rollbar не задан, отправка ошибок отключена")
		enabled.Store(false)
		rollbar.SetEnabled(false)
		return
	}
	rollbar.SetToken(token)
	rollbar.SetEnvironment(environment)
	rollbar.SetServerRoot("github.com/yourusername/eduquery-api")
	rollbar.SetEnabled(true)
	enabled.Store(true)
	log.Printf("[Reporting] Rollbar включен (environment: %s)", environment)
}

// Enabled сообщает, отправляются ли ошибки в Rollbar
func Enabled() bool {
	return enabled.Load()
}

// Error логирует ошибку и отправляет ее в Rollbar вместе с контекстом
func Error(component string, err error, extras map[string]interface{}) {
	if err == nil {
		return
	}
	log.Printf("[%s] ERROR: %v", component, err)
	if !enabled.Load() {
		return
	}
	fields := map[string]interface{}{"component": component}
	for k, v := range extras {
		fields[k] = v
	}
	rollbar.Error(err, fields)
}

// Critical используется для паник и других аварийных ситуаций
func Critical(component string, err error, extras map[string]interface{}) {
	log.Printf("[%s] CRITICAL: %v", component, err)
	if !enabled.Load() {
		return
	}
	fields := map[string]interface{}{"component": component}
	for k, v := range extras {
		fields[k] = v
	}
	rollbar.Critical(err, fields)
}

// Close дожидается отправки накопленных отчетов
func Close() {
	if enabled.Load() {
		rollbar.Wait()
	}
}
