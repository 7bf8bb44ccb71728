package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/walletlink/service/metrics"
	natspkg "github.com/brojonat/walletlink/service/nats"
	"github.com/brojonat/walletlink/service/store"
	"github.com/brojonat/walletlink/service/wallet"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const keepaliveInterval = 10 * time.Second

// SSEPublisher streams fact events from JetStream to SSE clients.
type SSEPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewSSEPublisher creates a new SSE publisher that subscribes to NATS internally.
func NewSSEPublisher(natsURL string, logger *slog.Logger) (*SSEPublisher, error) {
	nc, err := natspkg.Connect(natsURL, "walletlink-sse-publisher")
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	logger.Info("SSE publisher initialized", "nats_url", natsURL)

	return &SSEPublisher{
		nc:     nc,
		js:     js,
		logger: logger,
	}, nil
}

// Close closes the NATS connection.
func (p *SSEPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("SSE publisher closed")
	}
	return nil
}

// sseWriter writes server-sent events and flushes after each one.
type sseWriter struct {
	w http.ResponseWriter
}

func startSSE(w http.ResponseWriter) sseWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	s := sseWriter{w: w}
	s.flush()
	return s
}

func (s sseWriter) event(name string, data []byte) {
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data)
	s.flush()
}

func (s sseWriter) keepalive() {
	fmt.Fprint(s.w, ": keepalive\n\n")
	s.flush()
}

func (s sseWriter) flush() {
	if flusher, ok := s.w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// handleStreamWallet streams every state snapshot as a "state" event,
// starting with the current one.
// GET /api/v1/stream/wallet
func handleStreamWallet(st *store.Store, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The listener runs on the store's mutating goroutine, so it must not
		// block: when the client falls behind the oldest snapshot is dropped.
		states := make(chan wallet.State, 16)
		unsubscribe := st.Subscribe(func(s wallet.State) {
			select {
			case states <- s:
				return
			default:
			}
			select {
			case <-states:
			default:
			}
			select {
			case states <- s:
			default:
			}
		})
		defer unsubscribe()

		m.RecordSSEConnectionChange("wallet", 1)
		defer m.RecordSSEConnectionChange("wallet", -1)

		sse := startSSE(w)
		logger.DebugContext(r.Context(), "SSE client connected", "stream", "wallet", "remote_addr", r.RemoteAddr)

		send := func(s wallet.State) {
			data, err := json.Marshal(s)
			if err != nil {
				logger.WarnContext(r.Context(), "failed to marshal state", "error", err)
				return
			}
			sse.event("state", data)
		}
		send(st.GetState())

		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				sse.keepalive()
			case s := <-states:
				send(s)
			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected", "stream", "wallet", "remote_addr", r.RemoteAddr)
				return
			}
		}
	})
}

// handleStreamCommands streams connect/disconnect commands for one chain to
// the host running that chain's wallet SDK.
// GET /api/v1/chains/{chain}/commands
func handleStreamCommands(backend Backend, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chain, err := chainFromPath(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		relay, err := backend.Relay(chain)
		if err != nil {
			writeError(w, err.Error(), http.StatusNotFound)
			return
		}

		cmds, cancel := relay.Commands(16)
		defer cancel()

		stream := "commands." + chain.String()
		m.RecordSSEConnectionChange(stream, 1)
		defer m.RecordSSEConnectionChange(stream, -1)

		sse := startSSE(w)
		sse.event("connected", []byte(fmt.Sprintf(`{"chain":%q}`, chain.String())))
		logger.InfoContext(r.Context(), "wallet host attached", "chain", chain.String(), "remote_addr", r.RemoteAddr)

		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				sse.keepalive()
			case cmd, ok := <-cmds:
				if !ok {
					return
				}
				data, err := json.Marshal(cmd)
				if err != nil {
					logger.WarnContext(r.Context(), "failed to marshal command", "error", err)
					continue
				}
				sse.event("command", data)
			case <-r.Context().Done():
				logger.InfoContext(r.Context(), "wallet host detached", "chain", chain.String(), "remote_addr", r.RemoteAddr)
				return
			}
		}
	})
}

// handleStreamFacts streams fact events from JetStream. Without a chain path
// parameter every chain is streamed; "none" streams disconnects.
// GET /api/v1/stream/facts[/{chain}]
func handleStreamFacts(publisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := natspkg.StreamSubjects
		filter := "all chains"
		if c := r.PathValue("chain"); c != "" {
			chain := wallet.ChainNone
			if c != "none" {
				parsed, err := wallet.ParseChain(c)
				if err != nil {
					writeError(w, err.Error(), http.StatusBadRequest)
					return
				}
				chain = parsed
			}
			subject = natspkg.SubjectFor(chain)
			filter = chain.String()
		}

		// Ephemeral consumer for this connection, new messages only.
		cons, err := publisher.js.CreateOrUpdateConsumer(r.Context(), natspkg.StreamName, jetstream.ConsumerConfig{
			FilterSubject: subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			DeliverPolicy: jetstream.DeliverNewPolicy,
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to create consumer", "filter", filter, "error", err)
			writeError(w, "failed to subscribe", http.StatusBadGateway)
			return
		}

		msgChan := make(chan jetstream.Msg, 10)
		cc, err := cons.Consume(func(msg jetstream.Msg) {
			select {
			case msgChan <- msg:
			case <-r.Context().Done():
			}
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to start consuming messages", "error", err)
			writeError(w, "failed to subscribe", http.StatusBadGateway)
			return
		}
		defer cc.Stop()

		m.RecordSSEConnectionChange("facts", 1)
		defer m.RecordSSEConnectionChange("facts", -1)

		sse := startSSE(w)
		sse.event("connected", []byte(fmt.Sprintf(`{"filter":%q}`, filter)))
		logger.DebugContext(r.Context(), "SSE client connected", "stream", "facts", "filter", filter)

		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				sse.keepalive()

			case msg := <-msgChan:
				var event natspkg.FactEvent
				if err := json.Unmarshal(msg.Data(), &event); err != nil {
					logger.WarnContext(r.Context(), "failed to unmarshal event", "error", err)
					msg.Ack()
					continue
				}
				data, err := json.Marshal(event)
				if err != nil {
					logger.WarnContext(r.Context(), "failed to marshal event", "error", err)
					msg.Ack()
					continue
				}
				sse.event("fact", data)
				msg.Ack()

			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected", "stream", "facts", "filter", filter)
				return
			}
		}
	})
}
