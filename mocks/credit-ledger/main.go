// credit-ledger is a standalone mock of the ledger gateway for local
// development and end-to-end tests. It keeps balances in memory, honors
// idempotency keys on mutating calls, and can inject failures on demand
// via POST /admin/fail.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
)

type ledger struct {
	mu sync.Mutex

	// balances[batch][holder] = amount
	balances map[string]map[string]int64
	minted   map[string]int64
	retired  map[string]int64
	// mintedRefs[metadataRef] = batch, one mint per metadata reference
	mintedRefs map[string]string
	roles      map[string]string
	// replay[idempotencyKey] = response body served the first time
	replay map[string][]byte
	// faults[op] = failures left to inject
	faults map[string]int

	seq int
}

func newLedger() *ledger {
	return &ledger{
		balances:   make(map[string]map[string]int64),
		minted:     make(map[string]int64),
		retired:    make(map[string]int64),
		mintedRefs: make(map[string]string),
		roles:      make(map[string]string),
		replay:     make(map[string][]byte),
		faults:     make(map[string]int),
	}
}

func (l *ledger) nextRef() string {
	l.seq++
	return fmt.Sprintf("tx-%06d", l.seq)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func reject(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": message})
}

// injectFault consumes one injected failure for op if any are pending.
func (l *ledger) injectFault(op string, w http.ResponseWriter) bool {
	if l.faults[op] > 0 {
		l.faults[op]--
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "injected fault"})
		return true
	}
	return false
}

func (l *ledger) handleMint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IdempotencyKey string `json:"idempotency_key"`
		To             string `json:"to"`
		Amount         int64  `json:"amount"`
		MetadataRef    string `json:"metadata_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		reject(w, "malformed request")
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.injectFault("mint", w) {
		return
	}
	if cached, ok := l.replay[req.IdempotencyKey]; ok {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(cached)
		return
	}
	if req.Amount <= 0 {
		reject(w, "amount must be positive")
		return
	}
	if _, dup := l.mintedRefs[req.MetadataRef]; dup {
		reject(w, "metadata reference already minted")
		return
	}

	l.seq++
	batchID := fmt.Sprintf("00000000-0000-4000-8000-%012d", l.seq)
	l.balances[batchID] = map[string]int64{req.To: req.Amount}
	l.minted[batchID] = req.Amount
	l.mintedRefs[req.MetadataRef] = batchID

	body, _ := json.Marshal(map[string]string{"batch_id": batchID, "tx_ref": l.nextRef()})
	l.replay[req.IdempotencyKey] = body
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (l *ledger) handleBalance(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("identity")
	batchID := r.URL.Query().Get("batch_id")

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.injectFault("balance", w) {
		return
	}
	holders, ok := l.balances[batchID]
	if !ok {
		reject(w, "unknown batch")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"amount": holders[identity]})
}

// handleMove serves /transfer and /retire, which differ only in where the
// credits end up.
func (l *ledger) handleMove(retire bool) http.HandlerFunc {
	op := "transfer"
	if retire {
		op = "retire"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			IdempotencyKey string `json:"idempotency_key"`
			From           string `json:"from"`
			To             string `json:"to"`
			Holder         string `json:"holder"`
			BatchID        string `json:"batch_id"`
			Amount         int64  `json:"amount"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			reject(w, "malformed request")
			return
		}
		source := req.From
		if retire {
			source = req.Holder
		}

		l.mu.Lock()
		defer l.mu.Unlock()
		if l.injectFault(op, w) {
			return
		}
		if cached, ok := l.replay[req.IdempotencyKey]; ok {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(cached)
			return
		}
		if req.Amount <= 0 {
			reject(w, "amount must be positive")
			return
		}
		holders, ok := l.balances[req.BatchID]
		if !ok {
			reject(w, "unknown batch")
			return
		}
		if holders[source] < req.Amount {
			reject(w, "insufficient balance")
			return
		}

		holders[source] -= req.Amount
		if retire {
			l.retired[req.BatchID] += req.Amount
		} else {
			holders[req.To] += req.Amount
		}

		body, _ := json.Marshal(map[string]string{"tx_ref": l.nextRef()})
		l.replay[req.IdempotencyKey] = body
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}
}

func (l *ledger) handleGrantRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IdentityKey string `json:"identity_key"`
		Role        string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		reject(w, "malformed request")
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.injectFault("grant_role", w) {
		return
	}
	l.roles[req.IdentityKey] = req.Role
	writeJSON(w, http.StatusOK, map[string]string{"status": "granted"})
}

// handleFail arms fault injection: {"op":"mint","count":2} makes the next
// two mints fail with 503.
func (l *ledger) handleFail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Op    string `json:"op"`
		Count int    `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		reject(w, "malformed request")
		return
	}
	l.mu.Lock()
	l.faults[req.Op] = req.Count
	l.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "armed"})
}

func main() {
	addr := flag.String("addr", ":9090", "listen address")
	flag.Parse()

	l := newLedger()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /mint", l.handleMint)
	mux.HandleFunc("GET /balances", l.handleBalance)
	mux.HandleFunc("POST /transfer", l.handleMove(false))
	mux.HandleFunc("POST /retire", l.handleMove(true))
	mux.HandleFunc("POST /roles", l.handleGrantRole)
	mux.HandleFunc("POST /admin/fail", l.handleFail)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	log.Printf("mock credit ledger listening on %s", *addr)
	log.Fatal(http.ListenAndServe(*addr, mux))
}
