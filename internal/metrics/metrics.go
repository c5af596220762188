package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Registrations  prometheus.Counter
	Logins         prometheus.Counter
	FailedLogins   prometheus.Counter
	ChatsCreated   prometheus.Counter
	ChatsDeleted   prometheus.Counter
	Exchanges      prometheus.Counter
	ModelCalls     prometheus.Counter
	ModelCallFails prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			Registrations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "llmexplorer",
				Name:      "registrations_total",
				Help:      "Total user registrations",
			}),
			Logins: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "llmexplorer",
				Name:      "logins_total",
				Help:      "Total successful logins",
			}),
			FailedLogins: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "llmexplorer",
				Name:      "failed_logins_total",
				Help:      "Total rejected login attempts",
			}),
			ChatsCreated: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "llmexplorer",
				Name:      "chats_created_total",
				Help:      "Total chat sessions created",
			}),
			ChatsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "llmexplorer",
				Name:      "chats_deleted_total",
				Help:      "Total chat sessions deleted",
			}),
			Exchanges: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "llmexplorer",
				Name:      "exchanges_total",
				Help:      "Total persisted user/assistant exchanges",
			}),
			ModelCalls: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "llmexplorer",
				Name:      "model_calls_total",
				Help:      "Total calls issued to the model server",
			}),
			ModelCallFails: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "llmexplorer",
				Name:      "model_call_failures_total",
				Help:      "Total failed calls to the model server",
			}),
		}
		prometheus.MustRegister(
			global.Registrations,
			global.Logins,
			global.FailedLogins,
			global.ChatsCreated,
			global.ChatsDeleted,
			global.Exchanges,
			global.ModelCalls,
			global.ModelCallFails,
		)
	})
	return global
}
