// Package metrics содержит метрики Prometheus витрины подписок.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "storefront"

var (
	// HTTPRequestsTotal считает обработанные HTTP-запросы.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"method", "path", "code"},
	)

	// HTTPRequestDuration измеряет длительность обработки HTTP-запросов.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "code"},
	)

	// WebhookNotifications считает уведомления шлюза по результату сверки.
	WebhookNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_notifications_total",
			Help:      "Payment notifications by reconciliation outcome.",
		},
		[]string{"outcome"},
	)

	// OrderTransitions считает переходы заказов из PENDING.
	OrderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Order transitions out of PENDING by target status.",
		},
		[]string{"status"},
	)

	// OrdersCreated считает созданные заказы.
	OrdersCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Orders created from cart items.",
		},
	)

	// OrderItemsRejected считает отклонённые строки корзины по причине.
	OrderItemsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_items_rejected_total",
			Help:      "Cart items rejected during order creation by reason.",
		},
		[]string{"reason"},
	)

	// FulfillmentActions считает действия исполнения заказа по результату.
	FulfillmentActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fulfillment_actions_total",
			Help:      "Fulfillment actions by action and result.",
		},
		[]string{"action", "result"},
	)

	// FulfillmentEnqueueFailures считает задания исполнения, которые не удалось поставить в очередь.
	FulfillmentEnqueueFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fulfillment_enqueue_failures_total",
			Help:      "Fulfillment jobs that could not be enqueued.",
		},
	)
)
