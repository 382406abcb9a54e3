// Command phdmanager runs a standalone Personal Health Data manager.
//
// Usage: ./phdmanager -port 6024 -config-db ./configs -metrics-addr :9090
//
// It accepts Agent associations over TCP, resolves their configuration
// against an extended-config cache (badger-backed when -config-db is set,
// in-memory otherwise), and logs every
// measurement and segment it receives.
package main

import (
	"encoding/json"
	"flag"
	"net/http"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	phd "github.com/signove/phd-manager"
	"github.com/signove/phd-manager/config"
	"github.com/signove/phd-manager/dim"
	"github.com/signove/phd-manager/transport/tcp"
)

var (
	portFlag        = flag.String("port", "6024", "TCP port to listen on for Agent associations")
	configDBFlag    = flag.String("config-db", "", "directory for the badger extended-config cache; empty uses an in-memory store")
	metricsAddrFlag = flag.String("metrics-addr", "", "address to serve Prometheus metrics on; empty disables the metrics server")
)

func canonicalizeHostPort(addr string) string {
	if addr == "" {
		return ":6024"
	}
	for _, c := range addr {
		if c == ':' {
			return addr
		}
	}
	return ":" + addr
}

func main() {
	flag.Parse()

	var store config.Store
	if *configDBFlag != "" {
		bs, err := config.OpenBadgerStore(*configDBFlag)
		if err != nil {
			glog.Fatalf("phdmanager: open config db: %v", err)
		}
		defer bs.Close()
		store = bs
	}

	listener := phd.ManagerListener{
		DeviceAvailable: func(ctx *phd.Context) {
			glog.Infof("phdmanager: %v: device available", ctx.ID)
		},
		DeviceUnavailable: func(ctx *phd.Context) {
			glog.Infof("phdmanager: %v: device unavailable", ctx.ID)
		},
		MeasurementDataUpdated: func(ctx *phd.Context, updates []dim.HandleUpdate) {
			for _, u := range updates {
				glog.Infof("phdmanager: %v: handle %d updated", ctx.ID, u.Handle)
			}
		},
		SegmentDataReceived: func(ctx *phd.Context, storeHandle, segmentHandle uint16, data []byte) {
			glog.Infof("phdmanager: %v: store %d segment %d: %d bytes", ctx.ID, storeHandle, segmentHandle, len(data))
		},
		Timeout: func(ctx *phd.Context) {
			glog.Warningf("phdmanager: %v: request timed out", ctx.ID)
		},
	}

	mgr := phd.NewManager(store, listener)
	mgr.AddStateListener(func(ctx *phd.Context, from, to phd.State) {
		glog.V(1).Infof("phdmanager: %v: %v -> %v", ctx.ID, from, to)
	})

	if *metricsAddrFlag != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(mgr.Registry(), promhttp.HandlerOpts{}))
		mux.HandleFunc("/contexts", func(w http.ResponseWriter, r *http.Request) {
			type entry struct {
				ID    phd.ContextID `json:"id"`
				State string        `json:"state"`
				Data  *dim.Snapshot `json:"data,omitempty"`
			}
			var out []entry
			for _, ctx := range mgr.Contexts() {
				e := entry{ID: ctx.ID, State: ctx.State().String()}
				if snap, ok := ctx.Snapshot(); ok {
					e.Data = &snap
				}
				out = append(out, e)
			}
			json.NewEncoder(w).Encode(out)
		})
		go func() {
			glog.Infof("phdmanager: metrics listening on %s", *metricsAddrFlag)
			if err := http.ListenAndServe(*metricsAddrFlag, mux); err != nil {
				glog.Errorf("phdmanager: metrics server: %v", err)
			}
		}()
	}

	plugin := tcp.New(mgr)
	addr := canonicalizeHostPort(*portFlag)
	glog.Infof("phdmanager: listening on %s", addr)
	if err := plugin.ListenAndServe(addr); err != nil {
		glog.Fatalf("phdmanager: %v", err)
	}
}
