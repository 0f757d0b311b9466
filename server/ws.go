package server

import (
	"context"
	"errors"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"rtc-continuity/dto"
	"rtc-continuity/service"
)

const wsWriteTimeout = 5 * time.Second

// WSGateway is the websocket transport adapter: it maps inbound client
// envelopes onto the continuity core and treats an abrupt socket close as
// a disconnect on both the video and the generic session level.
type WSGateway struct {
	svc service.ContinuityService
	rec service.RecoveryService
	log zerolog.Logger
}

func NewWSGateway(svc service.ContinuityService, rec service.RecoveryService, log zerolog.Logger) *WSGateway {
	return &WSGateway{svc: svc, rec: rec, log: log}
}

type wsEnvelope struct {
	Type      string                `json:"type"`
	Join      *dto.JoinMessage      `json:"join,omitempty"`
	Frame     *dto.FrameMessage     `json:"frame,omitempty"`
	Heartbeat *dto.HeartbeatMessage `json:"heartbeat,omitempty"`
	Recover   *dto.RecoveryRequest  `json:"recover,omitempty"`
	Confirm   *dto.ConfirmMessage   `json:"confirm,omitempty"`
	Leave     *dto.LeaveMessage     `json:"leave,omitempty"`
}

type wsReply struct {
	Type      string                `json:"type"`
	SessionId string                `json:"sessionId,omitempty"`
	Resumed   bool                  `json:"resumed,omitempty"`
	Recovery  *dto.RecoveryResponse `json:"recovery,omitempty"`
	Error     string                `json:"error,omitempty"`
}

func (g *WSGateway) Handle(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		g.log.Warn().Err(err).Str("remote", c.Request.RemoteAddr).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	ctx := g.log.WithContext(c.Request.Context())

	// Identity established by the join envelope; needed to report an
	// abrupt close as a disconnect.
	var (
		joined        bool
		sessionId     string
		groupId       string
		participantId string
	)

	for {
		var env wsEnvelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			status := websocket.CloseStatus(err)
			if joined && status != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				g.log.Info().Str("session", sessionId).Str("group", groupId).
					Str("participant", participantId).Msg("abrupt websocket close")
				g.svc.Disconnect(ctx, dto.DisconnectMessage{
					SessionId:     sessionId,
					GroupId:       groupId,
					ParticipantId: participantId,
					Reason:        "transport_closed",
				})
			}
			return
		}

		switch env.Type {
		case "join":
			if env.Join == nil {
				g.reply(ctx, conn, wsReply{Type: "error", Error: "missing join payload"})
				continue
			}
			sessionId = g.svc.Join(ctx, *env.Join)
			groupId = env.Join.GroupId
			participantId = env.Join.ParticipantId
			joined = true
			g.reply(ctx, conn, wsReply{Type: "joined", SessionId: sessionId})

		case "frame":
			if env.Frame == nil || !joined {
				continue
			}
			g.svc.AppendFrame(ctx, *env.Frame)

		case "heartbeat":
			if env.Heartbeat == nil {
				continue
			}
			g.svc.Heartbeat(ctx, *env.Heartbeat)

		case "recover":
			if env.Recover == nil {
				g.reply(ctx, conn, wsReply{Type: "error", Error: "missing recover payload"})
				continue
			}
			resp := g.rec.Recover(ctx, *env.Recover)
			g.reply(ctx, conn, wsReply{Type: "recovery", Recovery: &resp})

		case "confirm":
			if env.Confirm == nil {
				g.reply(ctx, conn, wsReply{Type: "error", Error: "missing confirm payload"})
				continue
			}
			resumed := g.svc.ConfirmReconnection(ctx, *env.Confirm)
			reply := wsReply{Type: "confirmed", Resumed: resumed}
			if resumed {
				sessionId = env.Confirm.NewSessionId
				groupId = env.Confirm.GroupId
				participantId = env.Confirm.ParticipantId
				joined = true
				reply.SessionId = sessionId
				// Resume without visible loss: ship the whole buffer.
				replay := g.rec.Replay(ctx, groupId, participantId)
				reply.Recovery = &replay
			}
			g.reply(ctx, conn, reply)

		case "leave":
			if env.Leave == nil {
				continue
			}
			g.svc.Leave(ctx, *env.Leave)
			joined = false
			conn.Close(websocket.StatusNormalClosure, "left")
			return

		default:
			g.reply(ctx, conn, wsReply{Type: "error", Error: "unknown message type"})
		}
	}
}

func (g *WSGateway) reply(ctx context.Context, conn *websocket.Conn, reply wsReply) {
	wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, conn, reply); err != nil {
		g.log.Debug().Err(err).Str("type", reply.Type).Msg("websocket reply failed")
	}
}
