package web

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"headingup/internal/fusion"
	"headingup/internal/render"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsReadLimit  = 64 << 10
	wsBuffer     = 64
)

// Client message types. Server messages use the render event types.
const (
	MsgOrientation = "orientation"
	MsgFix         = "fix"
	MsgScreen      = "screen"
	MsgVisible     = "visible"
	MsgTracking    = "tracking"
)

// ClientMessage is one sensor message pushed by a browser.
type ClientMessage struct {
	Type        string                   `json:"type"`
	Orientation *fusion.OrientationEvent `json:"orientation,omitempty"`
	Fix         *fusion.Fix              `json:"fix,omitempty"`
	AngleDeg    *float64                 `json:"angle_deg,omitempty"`
	Enable      *bool                    `json:"enable,omitempty"`
}

// bridge connects one browser page to the hub (as a render sink) and to the
// fusion runner (as a sensor source).
type bridge struct {
	d        Deps
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func newBridge(d Deps) *bridge {
	return &bridge{
		d: d,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		log: d.Logger.With().Str("component", "ws").Logger(),
	}
}

func (b *bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		b.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := b.log.With().Str("client", uuid.NewString()).Str("remote", r.RemoteAddr).Logger()
	log.Info().Msg("client connected")

	subID, events := b.d.Hub.Subscribe(wsBuffer)
	defer b.d.Hub.Unsubscribe(subID)

	// A freshly attached page has no arrow yet; re-apply the last heading if
	// one was ever sampled.
	if b.d.Fusion != nil {
		if err := b.d.Fusion.Reset(r.Context(), fusion.ResetSinkAttached); err != nil {
			log.Debug().Err(err).Msg("reset on attach")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		b.writeLoop(ctx, conn, events, log)
	}()

	b.readLoop(r.Context(), conn, log)
	cancel()
	<-writerDone
	log.Info().Msg("client disconnected")
}

func (b *bridge) writeLoop(ctx context.Context, conn *websocket.Conn, events <-chan render.Event, log zerolog.Logger) {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("write failed")
				// Unblock the reader.
				_ = conn.Close()
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (b *bridge) readLoop(ctx context.Context, conn *websocket.Conn, log zerolog.Logger) {
	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("read failed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Debug().Err(err).Msg("ignoring malformed message")
			continue
		}
		if err := b.dispatch(ctx, msg); err != nil {
			if errors.Is(err, fusion.ErrStopped) {
				return
			}
			log.Debug().Err(err).Str("type", msg.Type).Msg("ignoring message")
		}
	}
}

var errBadMessage = errors.New("malformed message")

func (b *bridge) dispatch(ctx context.Context, msg ClientMessage) error {
	f := b.d.Fusion
	if f == nil {
		return nil
	}
	switch msg.Type {
	case MsgOrientation:
		if msg.Orientation == nil {
			return errBadMessage
		}
		return f.Orientation(ctx, *msg.Orientation)
	case MsgFix:
		if msg.Fix == nil {
			return errBadMessage
		}
		return f.Fix(ctx, *msg.Fix)
	case MsgScreen:
		if msg.AngleDeg == nil || math.IsNaN(*msg.AngleDeg) || math.IsInf(*msg.AngleDeg, 0) {
			return errBadMessage
		}
		return f.SetScreenAngle(ctx, *msg.AngleDeg)
	case MsgVisible:
		return f.Reset(ctx, fusion.ResetVisible)
	case MsgTracking:
		if msg.Enable == nil {
			return errBadMessage
		}
		return f.SetTracking(ctx, *msg.Enable)
	default:
		return errBadMessage
	}
}
