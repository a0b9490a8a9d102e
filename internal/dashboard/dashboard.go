package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"nodewatch/internal/constants"
	"nodewatch/internal/hub"
	"nodewatch/internal/metrics"
	"nodewatch/internal/nodes"
	"nodewatch/internal/protocol"
	"nodewatch/internal/security"
	"nodewatch/internal/types"
	"nodewatch/internal/ui"
)

// Source is the connection whose events the dashboard mirrors.
type Source interface {
	Wallet() string
	Snapshot() types.StateSnapshot
	SubscribeChan(buffer int) chan hub.Event
	Unsubscribe(ch chan hub.Event)
}

type relayMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type nodesView struct {
	Nodes   []types.NodeRecord   `json:"nodes"`
	Summary types.AggregateStats `json:"summary"`
	Source  string               `json:"source"`
	Updated time.Time            `json:"updated"`
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(constants.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Dashboard is a local read-only view of one wallet's connection and fleet.
type Dashboard struct {
	src     Source
	metrics *metrics.Metrics
	origins []string
	port    int

	mu   sync.RWMutex
	view nodesView

	clientsMu sync.Mutex
	clients   map[*wsClient]struct{}

	upgrader websocket.Upgrader
	server   *http.Server
	events   chan hub.Event
	done     chan struct{}
	stopOnce sync.Once
}

// New subscribes to src immediately. Start serves HTTP; Stop releases both.
func New(port int, src Source, m *metrics.Metrics, allowedOrigins []string) *Dashboard {
	d := &Dashboard{
		src:     src,
		metrics: m,
		origins: allowedOrigins,
		port:    port,
		clients: make(map[*wsClient]struct{}),
		events:  src.SubscribeChan(constants.DashboardEventBuffer),
		done:    make(chan struct{}),
		view:    nodesView{Nodes: []types.NodeRecord{}},
	}
	d.upgrader = websocket.Upgrader{
		ReadBufferSize:  constants.DashboardWSReadBuffer,
		WriteBufferSize: constants.DashboardWSWriteBuffer,
		CheckOrigin: func(r *http.Request) bool {
			return security.ValidateOrigin(r, d.origins)
		},
	}
	go d.pump()
	return d
}

func (d *Dashboard) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", d.handleIndex)
	mux.HandleFunc("/ws", d.handleWebSocket)
	mux.HandleFunc("/api/nodes", d.handleNodes)
	mux.HandleFunc("/api/summary", d.handleSummary)
	mux.HandleFunc("/api/state", d.handleState)
	mux.Handle("/metrics", d.metrics.Handler())

	return h2c.NewHandler(security.SecurityHeaders(mux), &http2.Server{})
}

func (d *Dashboard) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", constants.DashboardHost, d.port))
	if err != nil {
		return fmt.Errorf("dashboard listen: %w", err)
	}
	d.port = ln.Addr().(*net.TCPAddr).Port

	d.server = &http.Server{
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := d.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("Dashboard server error: %v", err)
		}
	}()
	return nil
}

func (d *Dashboard) Stop() error {
	d.stopOnce.Do(func() {
		d.src.Unsubscribe(d.events)
		<-d.done
	})

	d.clientsMu.Lock()
	for c := range d.clients {
		c.conn.Close()
	}
	d.clientsMu.Unlock()

	if d.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), constants.DashboardShutdownTimeout)
	defer cancel()
	return d.server.Shutdown(ctx)
}

func (d *Dashboard) GetURL() string {
	return fmt.Sprintf("http://%s:%d", constants.DashboardHost, d.port)
}

// Update replaces the fleet view, e.g. with records fetched over REST.
func (d *Dashboard) Update(records []types.NodeRecord, summary *types.AggregateStats, source nodes.Source) {
	d.mu.Lock()
	merged := nodes.Merge(d.view.Nodes, records)
	stats := nodes.Summarize(merged)
	if summary != nil {
		stats = *summary
	}
	d.view = nodesView{Nodes: merged, Summary: stats, Source: source.String(), Updated: time.Now()}
	view := d.view
	d.mu.Unlock()

	d.metrics.SetNodes(stats.Active, stats.Offline, stats.Pending)
	d.broadcast(relayMessage{Type: "nodes", Data: view})
}

func (d *Dashboard) View() ([]types.NodeRecord, types.AggregateStats) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]types.NodeRecord, len(d.view.Nodes))
	copy(out, d.view.Nodes)
	return out, d.view.Summary
}

// pump applies hub events in publish order until the subscription closes.
func (d *Dashboard) pump() {
	defer close(d.done)
	for evt := range d.events {
		switch evt.Kind {
		case hub.EventState:
			d.broadcast(relayMessage{Type: "state", Data: d.src.Snapshot()})
		case hub.EventError:
			d.broadcast(relayMessage{Type: "error", Data: map[string]string{"reason": evt.Reason}})
		case hub.EventFrame:
			if evt.Frame.Type != protocol.TypeStatusUpdate && evt.Frame.Type != protocol.TypeAuthSuccess {
				continue
			}
			records, summary, err := nodes.Decode(evt.Frame)
			if err != nil {
				log.Printf("⚠️  Dropping malformed %s frame: %v", evt.Frame.Type, err)
				continue
			}
			if records != nil {
				d.Update(records, summary, nodes.SourceRealtime)
			}
		}
	}
}

func (d *Dashboard) broadcast(msg relayMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	d.clientsMu.Lock()
	clients := make([]*wsClient, 0, len(d.clients))
	for c := range d.clients {
		clients = append(clients, c)
	}
	d.clientsMu.Unlock()

	for _, c := range clients {
		if err := c.write(data); err != nil {
			d.removeClient(c)
			c.conn.Close()
		}
	}
}

func (d *Dashboard) removeClient(c *wsClient) {
	d.clientsMu.Lock()
	delete(d.clients, c)
	d.clientsMu.Unlock()
}

func (d *Dashboard) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	t, err := template.ParseFS(ui.Templates, "layout.html", "dashboard.html")
	if err != nil {
		http.Error(w, "Template parse error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := map[string]string{"Title": "nodewatch", "Wallet": d.src.Wallet()}
	if err := t.ExecuteTemplate(w, "layout.html", data); err != nil {
		log.Printf("Error rendering dashboard: %v", err)
	}
}

func (d *Dashboard) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &wsClient{conn: conn}
	defer conn.Close()

	// current state first, then live events
	d.mu.RLock()
	view := d.view
	d.mu.RUnlock()
	for _, msg := range []relayMessage{
		{Type: "state", Data: d.src.Snapshot()},
		{Type: "nodes", Data: view},
	} {
		data, _ := json.Marshal(msg)
		if err := c.write(data); err != nil {
			return
		}
	}

	d.clientsMu.Lock()
	d.clients[c] = struct{}{}
	d.clientsMu.Unlock()
	defer d.removeClient(c)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (d *Dashboard) handleNodes(w http.ResponseWriter, r *http.Request) {
	d.mu.RLock()
	view := d.view
	d.mu.RUnlock()
	writeJSON(w, view)
}

func (d *Dashboard) handleSummary(w http.ResponseWriter, r *http.Request) {
	d.mu.RLock()
	summary := d.view.Summary
	d.mu.RUnlock()
	writeJSON(w, summary)
}

func (d *Dashboard) handleState(w http.ResponseWriter, r *http.Request) {
	snap := d.src.Snapshot()
	writeJSON(w, map[string]interface{}{
		"wallet":     snap.Wallet,
		"state":      snap.State,
		"reason":     snap.Reason,
		"attempt":    snap.Attempt,
		"since":      snap.Since,
		"has_socket": snap.HasSocket,
		"retryable":  snap.Retryable(),
	})
}
