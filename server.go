package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/czerwonk/ping_tracker/config"
	"github.com/czerwonk/ping_tracker/probe"
	"github.com/czerwonk/ping_tracker/session"
	"github.com/czerwonk/ping_tracker/tracker"
)

const timeOfDay = "15:04:05"

type entryView struct {
	Time    string    `json:"time"`
	Latency *int      `json:"latency"`
	At      time.Time `json:"at"`
}

type sessionView struct {
	Name    string      `json:"name"`
	Entries []entryView `json:"entries"`
}

type statusView struct {
	tracker.Status
	Target  string      `json:"target"`
	Entries []entryView `json:"entries"`
}

type errorView struct {
	Error   string `json:"error"`
	Session string `json:"session,omitempty"`
}

func entries(samples []session.Sample) []entryView {
	res := make([]entryView, len(samples))
	for i, s := range samples {
		res[i] = entryView{
			Time:    s.TakenAt.Local().Format(timeOfDay),
			Latency: s.Latency,
			At:      s.TakenAt,
		}
	}
	return res
}

func newSessionView(s *session.Session) sessionView {
	return sessionView{Name: s.ID, Entries: entries(s.Samples)}
}

type server struct {
	tracker *tracker.Tracker
}

func newServeMux(t *tracker.Tracker, h *hub, cfg *config.Config, metricsPath string) *http.ServeMux {
	s := &server{tracker: t}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, indexHTML, metricsPath)
	})
	mux.HandleFunc("GET /ping", s.handlePing)
	mux.HandleFunc("GET /session", s.handleStatus)
	mux.HandleFunc("POST /session/start", s.handleStart)
	mux.HandleFunc("POST /session/stop", s.handleStop)
	mux.HandleFunc("GET /sessions", s.handleList)
	mux.HandleFunc("DELETE /sessions", s.handleDeleteAll)
	mux.HandleFunc("POST /sessions/retry", s.handleRetry)
	mux.Handle("GET /ws", h)

	reg := prometheus.NewRegistry()
	reg.MustRegister(newTrackerCollector(t, newCustomLabelSet(cfg.Target), rttMetricsScale))

	l := log.New()
	l.Level = log.ErrorLevel

	mux.Handle(metricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		ErrorLog:      l,
		ErrorHandling: promhttp.ContinueOnError,
	}))

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debugf("could not write response: %v", err)
	}
}

func (s *server) handlePing(w http.ResponseWriter, r *http.Request) {
	rtt, err := s.tracker.Probe(r.Context())
	if err != nil {
		log.Debugf("ping failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, probe.Result{Error: "Ping failed"})
		return
	}

	ms := probe.Millis(rtt)
	writeJSON(w, http.StatusOK, probe.Result{Latency: &ms})
}

func (s *server) status() statusView {
	st := s.tracker.Status()
	return statusView{
		Status:  st,
		Target:  s.tracker.Target(),
		Entries: entries(st.Samples),
	}
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *server) handleStart(w http.ResponseWriter, r *http.Request) {
	err := s.tracker.Start()
	if errors.Is(err, session.ErrAlreadyRunning) {
		writeJSON(w, http.StatusConflict, errorView{Error: err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorView{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, s.status())
}

func (s *server) handleStop(w http.ResponseWriter, r *http.Request) {
	sess, err := s.tracker.Stop()
	switch {
	case errors.Is(err, session.ErrNotRunning):
		writeJSON(w, http.StatusConflict, errorView{Error: err.Error()})
	case err != nil:
		ev := errorView{Error: err.Error()}
		if sess != nil {
			ev.Session = sess.ID
		}
		writeJSON(w, http.StatusInternalServerError, ev)
	case sess == nil:
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSON(w, http.StatusOK, newSessionView(sess))
	}
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.tracker.Sessions()
	if err != nil {
		log.Errorf("could not list sessions: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorView{Error: err.Error()})
		return
	}

	res := make([]sessionView, len(sessions))
	for i, sess := range sessions {
		res[i] = newSessionView(sess)
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	if err := s.tracker.DeleteAll(); err != nil {
		log.Errorf("could not delete sessions: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorView{Error: err.Error()})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if err := s.tracker.Retry(); err != nil {
		log.Errorf("could not persist pending sessions: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorView{Error: err.Error()})
		return
	}

	res := make([]sessionView, 0)
	for _, sess := range s.tracker.Pending() {
		res = append(res, newSessionView(sess))
	}
	writeJSON(w, http.StatusOK, res)
}

const indexHTML = `<!doctype html>
<html>
<head>
	<meta charset="UTF-8">
	<title>ping Tracker (Version ` + version + `)</title>
</head>
<body>
	<h1>ping Tracker</h1>
	<form method="post" action="/session/start"><button>Start</button></form>
	<form method="post" action="/session/stop"><button>Stop</button></form>
	<ul>
		<li><a href="/ping">Ping once</a></li>
		<li><a href="/session">Live session</a></li>
		<li><a href="/sessions">Stored sessions</a></li>
		<li><a href="%s">Metrics</a></li>
	</ul>
</body>
</html>
`
