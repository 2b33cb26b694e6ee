// Package web exposes the read-only status surface: a JSON snapshot per
// symbol, a small HTML dashboard polling it, and Prometheus metrics. Nothing
// here mutates trading state.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SymbolStatus is the per-symbol slice of the status report. Values are
// plain numbers: the dashboard and any downstream consumer do arithmetic on
// them, so they are serialized as JSON numbers rather than decimal strings.
type SymbolStatus struct {
	Symbol        string  `json:"symbol"`
	Phase         string  `json:"phase"`
	Price         float64 `json:"price"`
	AvgEntry      float64 `json:"avg_entry"`
	Position      float64 `json:"position"`
	UnrealizedUSD float64 `json:"unrealized_usd"`
	UnrealizedPct float64 `json:"unrealized_pct"`
}

// StatusReport is the full /api/status payload.
type StatusReport struct {
	RealizedTodayUSD float64        `json:"realized_today_usd"`
	Symbols          []SymbolStatus `json:"symbols"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Board holds the latest status snapshot. The run loop writes after each
// cycle, handlers read concurrently.
type Board struct {
	mu       sync.RWMutex
	realized float64
	symbols  map[string]SymbolStatus
	updated  time.Time
}

func NewBoard() *Board {
	return &Board{symbols: make(map[string]SymbolStatus)}
}

// Update replaces the snapshot for one symbol.
func (b *Board) Update(s SymbolStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.symbols[s.Symbol] = s
	b.updated = time.Now()
}

// SetRealized sets today's realized P&L.
func (b *Board) SetRealized(usd float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.realized = usd
	b.updated = time.Now()
}

// Report builds the current status report, symbols sorted by name.
func (b *Board) Report() StatusReport {
	b.mu.RLock()
	defer b.mu.RUnlock()

	report := StatusReport{
		RealizedTodayUSD: b.realized,
		UpdatedAt:        b.updated,
		Symbols:          make([]SymbolStatus, 0, len(b.symbols)),
	}
	for _, s := range b.symbols {
		report.Symbols = append(report.Symbols, s)
	}
	for i := 1; i < len(report.Symbols); i++ {
		for j := i; j > 0 && report.Symbols[j].Symbol < report.Symbols[j-1].Symbol; j-- {
			report.Symbols[j], report.Symbols[j-1] = report.Symbols[j-1], report.Symbols[j]
		}
	}
	return report
}

// Server exposes the HTTP endpoints.
type Server struct {
	Addr  string
	Board *Board
}

func NewServer(addr string, board *Board) *Server {
	return &Server{Addr: addr, Board: board}
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Board.Report()); err != nil {
		http.Error(w, "encode status", http.StatusInternalServerError)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>swingbot</title>
  <style>
    :root { --bg:#ffffff; --ink:#111111; --ink-mid:#4d4d4d; --panel:#f6f6f6; }
    * { box-sizing:border-box; }
    body {
      margin:0;
      min-height:100vh;
      display:flex;
      align-items:center;
      justify-content:center;
      padding:2rem;
      background:var(--bg);
      color:var(--ink);
      font-family:'Space Mono','JetBrains Mono',monospace;
    }
    #app {
      width:min(1100px, 96vw);
      background:var(--panel);
      border:3px solid var(--ink);
      padding:2rem;
      box-shadow:12px 12px 0 rgba(0,0,0,.15);
    }
    header { display:flex; justify-content:space-between; align-items:center; margin-bottom:1.5rem; }
    h1 { font-size:1rem; letter-spacing:.2em; text-transform:uppercase; margin:0; }
    .realized {
      border:2px solid var(--ink);
      background:#fff;
      padding:.5rem 1rem;
      box-shadow:4px 4px 0 rgba(0,0,0,.15);
      font-weight:700;
    }
    table { width:100%; border-collapse:collapse; background:#fff; border:2px solid var(--ink); }
    th, td { padding:.6rem .8rem; text-align:right; border-bottom:1px solid rgba(0,0,0,.12); }
    th:first-child, td:first-child { text-align:left; }
    th { text-transform:uppercase; font-size:.65rem; letter-spacing:.12em; color:var(--ink-mid); }
    .pos { color:#1b7a3d; }
    .neg { color:#d7263d; }
    #updated { margin-top:1rem; font-size:.7rem; color:var(--ink-mid); }
  </style>
</head>
<body>
  <div id="app">
    <header>
      <h1>swingbot</h1>
      <div class="realized">Realized today: <span id="realized">0.00</span> USD</div>
    </header>
    <table>
      <thead>
        <tr><th>Symbol</th><th>Phase</th><th>Price</th><th>Avg entry</th><th>Position</th><th>Unrealized USD</th><th>Unrealized %</th></tr>
      </thead>
      <tbody id="rows"></tbody>
    </table>
    <div id="updated">Waiting for data…</div>
  </div>
<script>
const fmt = (n, d) => Number.isFinite(n) ? n.toFixed(d) : '--';

async function refresh(){
  try {
    const res = await fetch('/api/status');
    const data = await res.json();
    const realizedEl = document.getElementById('realized');
    realizedEl.textContent = fmt(data.realized_today_usd, 2);
    realizedEl.className = data.realized_today_usd >= 0 ? 'pos' : 'neg';

    const rows = document.getElementById('rows');
    rows.innerHTML = '';
    for(const s of data.symbols || []){
      const tr = document.createElement('tr');
      const cls = s.unrealized_usd >= 0 ? 'pos' : 'neg';
      tr.innerHTML =
        '<td>' + s.symbol + '</td>' +
        '<td>' + s.phase + '</td>' +
        '<td>' + fmt(s.price, 4) + '</td>' +
        '<td>' + fmt(s.avg_entry, 4) + '</td>' +
        '<td>' + fmt(s.position, 6) + '</td>' +
        '<td class="' + cls + '">' + fmt(s.unrealized_usd, 2) + '</td>' +
        '<td class="' + cls + '">' + fmt(s.unrealized_pct, 2) + '</td>';
      rows.appendChild(tr);
    }
    document.getElementById('updated').textContent = 'Updated ' + new Date(data.updated_at).toLocaleTimeString([], { hour12:false });
  } catch (err) {
    document.getElementById('updated').textContent = 'Fetch failed, retrying…';
  }
}

refresh();
setInterval(refresh, 3000);
</script>
</body>
</html>`
