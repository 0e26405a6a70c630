// Package api serves the status of a running workload over HTTP.
package api

import (
	"encoding/json"
	"io/ioutil"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pingcap-incubator/conflictkv/config"
	"github.com/pingcap-incubator/conflictkv/workload"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/unrolled/render"
	"go.uber.org/zap/zapcore"
)

// NewHandler returns the router of the status server:
//
//	GET /status        counters of the running workload
//	GET /perf-metrics  metrics of the workload so far
//	GET /config        the effective configuration
//	PUT /log           set the log level, e.g. "debug"
//	GET /metrics       prometheus metrics
func NewHandler(w *workload.Workload, cfg *config.Config) http.Handler {
	rd := render.New(render.Options{
		IndentJSON: true,
	})
	router := mux.NewRouter()
	h := &statusHandler{w: w, cfg: cfg, rd: rd}
	router.HandleFunc("/status", h.Status).Methods("GET")
	router.HandleFunc("/perf-metrics", h.PerfMetrics).Methods("GET")
	router.HandleFunc("/config", h.Config).Methods("GET")
	router.HandleFunc("/log", h.SetLogLevel).Methods("PUT")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	return router
}

type statusHandler struct {
	w   *workload.Workload
	cfg *config.Config
	rd  *render.Render
}

func (h *statusHandler) Status(w http.ResponseWriter, r *http.Request) {
	h.rd.JSON(w, http.StatusOK, h.w.Status())
}

func (h *statusHandler) PerfMetrics(w http.ResponseWriter, r *http.Request) {
	h.rd.JSON(w, http.StatusOK, h.w.Metrics())
}

func (h *statusHandler) Config(w http.ResponseWriter, r *http.Request) {
	h.rd.JSON(w, http.StatusOK, h.cfg)
}

func (h *statusHandler) SetLogLevel(w http.ResponseWriter, r *http.Request) {
	var level string
	data, err := ioutil.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		h.rd.JSON(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err = json.Unmarshal(data, &level); err != nil {
		h.rd.JSON(w, http.StatusBadRequest, err.Error())
		return
	}
	var l zapcore.Level
	if err = l.UnmarshalText([]byte(level)); err != nil {
		h.rd.JSON(w, http.StatusBadRequest, err.Error())
		return
	}
	log.SetLevel(l)
	h.rd.JSON(w, http.StatusOK, nil)
}
