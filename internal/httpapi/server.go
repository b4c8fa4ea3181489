package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/mxlin/wxrelay/internal/config"
	"github.com/mxlin/wxrelay/internal/observability"
	"github.com/mxlin/wxrelay/internal/tail"
	"github.com/mxlin/wxrelay/internal/wechat"
)

// maxBodyBytes bounds inbound callback bodies; platform text messages are
// far smaller.
const maxBodyBytes = 64 << 10

// Replier produces the assistant reply for one inbound user message.
type Replier interface {
	Reply(ctx context.Context, userID, text string) string
}

type Server struct {
	cfg         config.Config
	relay       Replier
	dedupe      *wechat.Deduper
	metrics     *observability.Metrics
	broadcaster *tail.Broadcaster
	upgrader    websocket.Upgrader
	now         func() time.Time
}

func New(cfg config.Config, relay Replier, dedupe *wechat.Deduper, metrics *observability.Metrics, broadcaster *tail.Broadcaster) *Server {
	return &Server{
		cfg:         cfg,
		relay:       relay,
		dedupe:      dedupe,
		metrics:     metrics,
		broadcaster: broadcaster,
		now:         time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// The live tail is a local debugging aid; keep other origins
				// out unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/wechat", s.handleVerify)
	r.Post("/wechat", s.handleCallback)
	r.Get("/debug/live", s.handleLiveTail)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"persistence": s.persistenceMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ready",
		"persistence": s.persistenceMode(),
	})
}

// handleVerify answers the platform's endpoint-ownership handshake by
// echoing echostr when the signature checks out.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !s.signedRequestOK(q) {
		s.countRequest("rejected_signature")
		respondError(w, http.StatusForbidden, "invalid_signature", "signature verification failed")
		return
	}
	s.countRequest("verified")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(q.Get("echostr")))
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if !s.signedRequestOK(r.URL.Query()) {
		s.countRequest("rejected_signature")
		respondError(w, http.StatusForbidden, "invalid_signature", "signature verification failed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.countRequest("malformed")
		respondError(w, http.StatusBadRequest, "unreadable_body", err.Error())
		return
	}
	msg, err := wechat.ParseInbound(body)
	if err != nil {
		s.countRequest("malformed")
		respondError(w, http.StatusBadRequest, "malformed_message", err.Error())
		return
	}

	// Platform redeliveries reuse the MsgId; answer them without another
	// provider call so the exchange is neither double-billed nor
	// double-recorded.
	if s.dedupe != nil && s.dedupe.Seen(msg.DedupeKey()) {
		s.countRequest("duplicate")
		s.respondAck(w)
		return
	}

	var reply string
	switch msg.MsgType {
	case wechat.MsgTypeText:
		if strings.TrimSpace(msg.Content) == "" {
			reply = s.cfg.DefaultReply
			s.countRequest("empty_text")
			break
		}
		reply = s.relay.Reply(r.Context(), msg.FromUserName, msg.Content)
		s.countRequest("relayed")
	case wechat.MsgTypeEvent:
		if msg.Event == wechat.EventSubscribe {
			reply = s.cfg.Greeting
			s.countRequest("subscribe")
			break
		}
		s.countRequest("ignored_event")
		s.respondAck(w)
		return
	default:
		reply = s.cfg.DefaultReply
		s.countRequest("unsupported_type")
	}

	out, err := wechat.RenderTextReply(msg, reply, s.now().Unix())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "render_failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	_, _ = w.Write(out)
}

// respondAck sends the platform's "nothing to say" acknowledgement.
func (s *Server) respondAck(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("success"))
}

func (s *Server) signedRequestOK(q url.Values) bool {
	timestamp := q.Get("timestamp")
	if !wechat.VerifySignature(s.cfg.WechatToken, timestamp, q.Get("nonce"), q.Get("signature")) {
		return false
	}
	if s.cfg.SignatureSkew > 0 && !wechat.FreshTimestamp(timestamp, s.now(), s.cfg.SignatureSkew) {
		return false
	}
	return true
}

func (s *Server) handleLiveTail(w http.ResponseWriter, r *http.Request) {
	if s.broadcaster == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "live tail not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.TailClients.Inc()
		defer s.metrics.TailClients.Dec()
	}

	events, cancel := s.broadcaster.Subscribe()
	defer cancel()

	ctx, ctxCancel := context.WithCancel(r.Context())
	defer ctxCancel()

	// Reader exists only to notice the client going away.
	go func() {
		defer ctxCancel()
		conn.SetReadLimit(1 << 10)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

func (s *Server) countRequest(outcome string) {
	if s.metrics != nil {
		s.metrics.WebhookRequests.WithLabelValues(outcome).Inc()
	}
}

func (s *Server) persistenceMode() string {
	if strings.TrimSpace(s.cfg.DatabaseURL) != "" {
		return "postgres"
	}
	return "memory"
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
