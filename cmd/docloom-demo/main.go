// Command docloom-demo boots two independent collaboration-engine runtimes
// against a shared in-process REST sync server and websocket realtime
// relay, mutates a document on one side, and shows the edit arriving on
// the other — end to end, the way the teacher's examples/server commands
// exercise a full client/server round trip rather than a single package in
// isolation.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/docloom/collab-sdk/pkg/crdt"
	"github.com/docloom/collab-sdk/pkg/crdt/lwwmap"
	"github.com/docloom/collab-sdk/pkg/document"
	"github.com/docloom/collab-sdk/pkg/events"
	"github.com/docloom/collab-sdk/pkg/logging"
	"github.com/docloom/collab-sdk/pkg/policy"
	"github.com/docloom/collab-sdk/pkg/realtime/ws"
	"github.com/docloom/collab-sdk/pkg/storage/memstore"
	"github.com/docloom/collab-sdk/pkg/syncclient/rest"
)

const docID = "demo-doc"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "docloom-demo:", err)
		os.Exit(1)
	}
}

func run() error {
	log := logging.Default()
	ctx := context.Background()

	syncSrv, syncURL, err := startSyncServer()
	if err != nil {
		return fmt.Errorf("start sync server: %w", err)
	}
	defer syncSrv.Close()

	relay, relayURL, err := startRealtimeRelay()
	if err != nil {
		return fmt.Errorf("start realtime relay: %w", err)
	}
	defer relay.Close()

	alice, err := newPeer(ctx, "alice", syncURL, relayURL, log)
	if err != nil {
		return fmt.Errorf("start alice: %w", err)
	}
	defer alice.registry.Close()

	bob, err := newPeer(ctx, "bob", syncURL, relayURL, log)
	if err != nil {
		return fmt.Errorf("start bob: %w", err)
	}
	defer bob.registry.Close()

	aliceDoc, err := alice.registry.Open(ctx, docID)
	if err != nil {
		return fmt.Errorf("alice open: %w", err)
	}
	bobDoc, err := bob.registry.Open(ctx, docID)
	if err != nil {
		return fmt.Errorf("bob open: %w", err)
	}

	replica := aliceDoc.CRDT().(*lwwmap.Replica)
	if err := aliceDoc.Mutate(nil, func() error {
		_, err := replica.Set(nil, "title", "hello from alice")
		return err
	}); err != nil {
		return fmt.Errorf("alice mutate: %w", err)
	}

	// Local mutations fan out through the serializer asynchronously; give
	// the demo a moment to let persist/push/publish settle before reading
	// bob's view back.
	time.Sleep(300 * time.Millisecond)

	fmt.Printf("alice's view: %v\n", aliceDoc.CRDT().(*lwwmap.Replica).Get())
	fmt.Printf("bob's view:   %v\n", bobDoc.CRDT().(*lwwmap.Replica).Get())
	return nil
}

// peer bundles one independent ManagedDocument runtime: its own local
// cache, its own sync client against the shared server, its own realtime
// connection to the shared relay.
type peer struct {
	registry *document.Registry
}

func newPeer(ctx context.Context, name, syncURL, relayURL string, log logging.Logger) (*peer, error) {
	peerLog := log.WithFields(logging.String("peer", name))

	rtClient, err := ws.Dial(ctx, relayURL, peerLog)
	if err != nil {
		return nil, fmt.Errorf("dial realtime: %w", err)
	}

	bus := events.New()
	bus.Subscribe(func(_ context.Context, ev events.SyncEvent) {
		peerLog.Debug("sync event", logging.String("channel", string(ev.Channel)), logging.String("phase", string(ev.Phase)))
	})

	registry, err := document.NewRegistry(document.Options{
		Storage:  memstore.New(),
		NewHandle: func(id string) (crdt.Handle, error) {
			return lwwmap.New(), nil
		},
		Sync:     rest.New(syncURL, rest.WithLogger(peerLog)),
		Realtime: rtClient,
		Events:   bus,
		Policy:   policy.Default(),
		Logger:   peerLog,
	})
	if err != nil {
		return nil, fmt.Errorf("new registry: %w", err)
	}
	return &peer{registry: registry}, nil
}

// --- in-process REST sync server -------------------------------------------

type syncDoc struct {
	mu       sync.Mutex
	snapshot []byte
	updates  [][]byte
}

type syncServer struct {
	mu   sync.Mutex
	docs map[string]*syncDoc
	srv  *http.Server
	ln   net.Listener
}

func (s *syncServer) doc(id string) *syncDoc {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		d = &syncDoc{}
		s.docs[id] = d
	}
	return d
}

func startSyncServer() (*syncServer, string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, "", err
	}
	s := &syncServer{docs: make(map[string]*syncDoc), ln: ln}
	mux := http.NewServeMux()
	mux.HandleFunc("/pull", s.handlePull)
	mux.HandleFunc("/push", s.handlePush)
	s.srv = &http.Server{Handler: mux}
	go s.srv.Serve(ln)
	return s, "http://" + ln.Addr().String(), nil
}

func (s *syncServer) Close() error {
	return s.srv.Close()
}

type wireDocPull struct {
	ID              string  `json:"id"`
	LastSynced      *string `json:"lastSynced"`
	RequestSnapshot bool    `json:"requestSnapshot"`
	StateVector     *string `json:"stateVector,omitempty"`
}

type wirePullRequest struct {
	Documents []wireDocPull `json:"documents"`
}

type wireDocPullResp struct {
	ID             string   `json:"id"`
	Snapshot       *string  `json:"snapshot,omitempty"`
	Updates        []string `json:"updates,omitempty"`
	DateLastSynced *string  `json:"dateLastSynced"`
}

type wirePullResponse struct {
	Documents []wireDocPullResp `json:"documents"`
}

type wireDocPush struct {
	ID         string  `json:"id"`
	Update     string  `json:"update"`
	IsSnapshot bool    `json:"isSnapshot"`
	LastSynced *string `json:"lastSynced"`
}

type wirePushRequest struct {
	Documents []wireDocPush `json:"documents"`
}

type wireDocPushResp struct {
	ID             string  `json:"id"`
	DateLastSynced *string `json:"dateLastSynced"`
}

type wirePushResponse struct {
	Documents []wireDocPushResp `json:"documents"`
}

func (s *syncServer) handlePull(w http.ResponseWriter, r *http.Request) {
	var req wirePullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp := wirePullResponse{}
	for _, rd := range req.Documents {
		doc := s.doc(rd.ID)
		doc.mu.Lock()
		out := wireDocPullResp{ID: rd.ID}
		if rd.RequestSnapshot && doc.snapshot != nil {
			enc := base64.StdEncoding.EncodeToString(doc.snapshot)
			out.Snapshot = &enc
		} else {
			cursor := 0
			if rd.LastSynced != nil {
				if n, err := strconv.Atoi(*rd.LastSynced); err == nil {
					cursor = n
				}
			}
			for _, u := range doc.updates[min(cursor, len(doc.updates)):] {
				out.Updates = append(out.Updates, base64.StdEncoding.EncodeToString(u))
			}
		}
		cursor := strconv.Itoa(len(doc.updates))
		out.DateLastSynced = &cursor
		doc.mu.Unlock()
		resp.Documents = append(resp.Documents, out)
	}
	writeJSON(w, resp)
}

func (s *syncServer) handlePush(w http.ResponseWriter, r *http.Request) {
	var req wirePushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp := wirePushResponse{}
	for _, rd := range req.Documents {
		raw, err := base64.StdEncoding.DecodeString(rd.Update)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		doc := s.doc(rd.ID)
		doc.mu.Lock()
		if rd.IsSnapshot {
			doc.snapshot = raw
		} else {
			doc.updates = append(doc.updates, raw)
		}
		cursor := strconv.Itoa(len(doc.updates))
		doc.mu.Unlock()
		resp.Documents = append(resp.Documents, wireDocPushResp{ID: rd.ID, DateLastSynced: &cursor})
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// --- in-process websocket broadcast relay -----------------------------------

type realtimeRelay struct {
	upgrader websocket.Upgrader
	srv      *http.Server
	ln       net.Listener

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func startRealtimeRelay() (*realtimeRelay, string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, "", err
	}
	relay := &realtimeRelay{conns: make(map[*websocket.Conn]struct{})}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", relay.handleWS)
	relay.srv = &http.Server{Handler: mux}
	relay.ln = ln
	go relay.srv.Serve(ln)
	return relay, "ws://" + ln.Addr().String() + "/ws", nil
}

func (relay *realtimeRelay) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := relay.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	relay.mu.Lock()
	relay.conns[conn] = struct{}{}
	relay.mu.Unlock()

	defer func() {
		relay.mu.Lock()
		delete(relay.conns, conn)
		relay.mu.Unlock()
		conn.Close()
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		relay.broadcast(conn, data)
	}
}

func (relay *realtimeRelay) broadcast(sender *websocket.Conn, data []byte) {
	relay.mu.Lock()
	defer relay.mu.Unlock()
	for c := range relay.conns {
		if c == sender {
			continue
		}
		_ = c.WriteMessage(websocket.TextMessage, data)
	}
}

func (relay *realtimeRelay) Close() error {
	return relay.srv.Close()
}
