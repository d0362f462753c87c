package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shuttle"

var (
	BotUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "updates_total", Help: "Processed telegram updates",
	})
	HandlerErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "handler_errors_total", Help: "Handler errors",
	})
	DBPing = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "db_ping_seconds", Help: "DB ping latency",
		Buckets: prometheus.DefBuckets,
	})

	SessionsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "sessions_started_total", Help: "Attendance sessions started",
	})
	StatusMarks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "status_marks_total", Help: "Attendance status submissions",
	}, []string{"status"})
	Reminders = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "reminders_total", Help: "Final reminder notifications by result",
	}, []string{"result"})
	NotificationsDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "notifications_delivered_total", Help: "Notifications delivered to telegram",
	})

	MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "messages_sent_total", Help: "Chat messages written by result",
	}, []string{"result"})
	FeedEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "feed_events_total", Help: "Change feed events by table",
	}, []string{"table"})
	FeedDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "feed_dropped_total", Help: "Change feed events dropped for slow subscribers",
	})
	Subscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "feed_subscriptions", Help: "Open change feed subscriptions",
	})
)

func init() {
	prometheus.MustRegister(
		BotUpdates, HandlerErrors, DBPing,
		SessionsStarted, StatusMarks, Reminders, NotificationsDelivered,
		MessagesSent, FeedEvents, FeedDropped, Subscriptions,
	)
}

func Handler() http.Handler { return promhttp.Handler() }

func ObserveDBPing(d time.Duration) { DBPing.Observe(d.Seconds()) }
