package websocket

import (
	"context"
	"math"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	httpcmn "github.com/aukilabs/hagall-common/http"
	"github.com/aukilabs/sightline/engine"
	"github.com/aukilabs/sightline/pointset"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
	"golang.org/x/time/rate"
)

// InspectHandler answers sphere queries around a moving cursor. Only the
// latest cursor is kept: cursors received while queries are throttled are
// coalesced into a single query.
type InspectHandler struct {
	// The store queries are run against.
	Store *engine.Store

	// The radius of inspection spheres until the client changes it.
	Radius float64

	// The maximum number of queries per second. Zero or less means no limit.
	Rate float64

	// The time a client is idle before being disconnected.
	ClientIdleTimeout time.Duration

	conn     *websocket.Conn
	clientID string
	limiter  *rate.Limiter

	cursor    pointset.Vector3f
	hasCursor bool
	radius    float64
	pending   bool
}

func (h *InspectHandler) HandleConnect(conn *websocket.Conn) {
	h.conn = conn

	h.clientID = conn.Request().Header.Get(httpcmn.HeaderPosemeshClientID)
	if h.clientID == "" {
		h.clientID = uuid.NewString()
	}

	limit := rate.Inf
	if h.Rate > 0 {
		limit = rate.Limit(h.Rate)
	}
	h.limiter = rate.NewLimiter(limit, 1)
	h.radius = h.Radius
}

func (h *InspectHandler) HandleDisconnect(err error) {
	h.pending = false
}

func (h *InspectHandler) HandleCursor(ctx context.Context, respond ResponseSender, msg Msg) error {
	cursor, err := msg.Cursor()
	if err != nil {
		respond.Send(newErrorMsg(err))
		return nil
	}

	h.cursor = cursor
	h.hasCursor = true
	h.pending = true
	return nil
}

func (h *InspectHandler) HandleRadius(ctx context.Context, respond ResponseSender, msg Msg) error {
	if msg.Radius == nil ||
		*msg.Radius < 0 ||
		math.IsNaN(*msg.Radius) ||
		math.IsInf(*msg.Radius, 0) {
		respond.Send(newErrorMsg(errors.New("radius must be a finite non-negative number").
			WithType(ErrTypeInvalidRadius).
			WithTag("radius", msg.Radius)))
		return nil
	}

	h.radius = *msg.Radius
	h.pending = h.hasCursor
	return nil
}

func (h *InspectHandler) HandlePing(ctx context.Context, respond ResponseSender, msg Msg) error {
	respond.Send(Msg{Type: MsgTypePong})
	return nil
}

func (h *InspectHandler) Inspect(ctx context.Context, respond ResponseSender) (time.Duration, error) {
	if !h.pending {
		return 0, nil
	}

	r := h.limiter.Reserve()
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return delay, nil
	}
	h.pending = false

	s, err := h.Store.Snapshot()
	if err != nil {
		respond.Send(newErrorMsg(err))
		return 0, nil
	}

	res := s.QuerySphere(h.cursor, h.radius)
	respond.Send(Msg{
		Type:       MsgTypeSphereResult,
		Result:     &res,
		SnapshotID: s.ID,
	})
	return 0, nil
}

func (h *InspectHandler) Receiver() Receiver {
	return func() (Msg, int, error) {
		var data []byte
		if err := websocket.Message.Receive(h.conn, &data); err != nil {
			return Msg{}, 0, err
		}

		var msg Msg
		if err := json.Unmarshal(data, &msg); err != nil {
			return Msg{}, len(data), errors.New("decoding message failed").
				WithType(ErrTypeMalformedMsg).
				Wrap(err)
		}
		return msg, len(data), nil
	}
}

func (h *InspectHandler) Sender() Sender {
	return func(msg Msg) (int, error) {
		data, err := json.Marshal(msg)
		if err != nil {
			return 0, errors.New("encoding message failed").Wrap(err)
		}

		if err := websocket.Message.Send(h.conn, string(data)); err != nil {
			return 0, err
		}
		return len(data), nil
	}
}

func (h *InspectHandler) Close() {
}

func (h *InspectHandler) IdleTimeout() time.Duration {
	return h.ClientIdleTimeout
}

func (h *InspectHandler) GetClientID() string {
	return h.clientID
}
