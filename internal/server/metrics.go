package server

import "github.com/prometheus/client_golang/prometheus"

var (
	questionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quorum_questions_total",
		Help: "Answered questions by outcome.",
	}, []string{"outcome"})

	debatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quorum_debates_total",
		Help: "Multi-agent debates by outcome.",
	}, []string{"outcome"})

	answerConfidence = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "quorum_answer_confidence",
		Help:    "Confidence distribution of returned answers.",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})
)

func init() {
	prometheus.MustRegister(questionsTotal, debatesTotal, answerConfidence)
}
