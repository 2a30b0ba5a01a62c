package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"time"
)

// Metric names reported by the messaging core.
const (
	TransportConnects      = "TransportConnects"
	TransportReconnects    = "TransportReconnects"
	TransportFrames        = "TransportFrames"
	TransportDroppedFrames = "TransportDroppedFrames"
	MessagesMerged         = "MessagesMerged"
	MessagesDuplicate      = "MessagesDuplicate"
	NotificationsShown     = "NotificationsShown"
	CallsStarted           = "CallsStarted"
)

type Provider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	Run()
}

// Noop discards all metrics. Used when no debug endpoint is configured.
type Noop struct{}

func (Noop) Incr(string)           {}
func (Noop) Decr(string)           {}
func (Noop) RegisterMetric(string) {}
func (Noop) Run()                  {}

type Updater struct {
	vars       *expvar.Map
	updateChan chan *metricsUpdateReq
}

type metricsUpdateReq struct {
	name  string
	value int
}

func (u *Updater) expvarHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	expvarData := make(map[string]any)
	u.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		expvarData[kv.Key] = value
	})

	json.NewEncoder(w).Encode(expvarData)
}

// NewUpdater creates a stats updater. When mux is non-nil the metrics are
// served at GET /debug/vars.
func NewUpdater(mux *http.ServeMux) *Updater {
	u := &Updater{
		updateChan: make(chan *metricsUpdateReq, 512),
	}
	if mux != nil {
		mux.Handle("GET /debug/vars", http.HandlerFunc(u.expvarHandler))
	}
	u.vars = expvar.NewMap("parishlink-messaging-stats")
	u.initializeMetrics()

	for _, name := range []string{
		TransportConnects, TransportReconnects, TransportFrames,
		TransportDroppedFrames, MessagesMerged, MessagesDuplicate,
		NotificationsShown, CallsStarted,
	} {
		u.RegisterMetric(name)
	}

	return u
}

func (u *Updater) initializeMetrics() {
	startTime := time.Now()
	u.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))
}

func (u *Updater) updateMetrics() {
	for req := range u.updateChan {
		metric := u.vars.Get(req.name)
		if metric == nil {
			continue
		}

		metric.(*expvar.Int).Add(int64(req.value))
	}
}

func (u *Updater) Incr(name string) {
	select {
	case u.updateChan <- &metricsUpdateReq{name: name, value: 1}:
	default:
	}
}

func (u *Updater) Decr(name string) {
	select {
	case u.updateChan <- &metricsUpdateReq{name: name, value: -1}:
	default:
	}
}

func (u *Updater) RegisterMetric(name string) {
	u.vars.Set(name, expvar.NewInt(name))
}

func (u *Updater) Run() {
	go u.updateMetrics()
}

func (u *Updater) Stop() {
	close(u.updateChan)
}
