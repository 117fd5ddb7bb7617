package websocket

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/sightline/pointset"
	"github.com/aukilabs/sightline/spatial"
)

const (
	MsgTypeCursor       = "cursor"
	MsgTypeRadius       = "radius"
	MsgTypePing         = "ping"
	MsgTypeSphereResult = "sphere_result"
	MsgTypePong         = "pong"
	MsgTypeError        = "error"

	ErrTypeMalformedMsg   = "malformed_message"
	ErrTypeUnknownMsgType = "unknown_message_type"
	ErrTypeInvalidCursor  = "invalid_cursor"
	ErrTypeInvalidRadius  = "invalid_radius"
)

// Msg is a JSON message exchanged over an inspection stream.
type Msg struct {
	Type string `json:"type"`

	// Set by cursor messages.
	Position *[3]float32 `json:"position,omitempty"`

	// Set by radius messages.
	Radius *float64 `json:"radius,omitempty"`

	// Set by sphere result messages.
	Result     *spatial.SphereResult `json:"result,omitempty"`
	SnapshotID string                `json:"snapshot_id,omitempty"`

	// Set by error messages.
	Error     string `json:"error,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
}

// Cursor returns the position carried by a cursor message.
func (m Msg) Cursor() (pointset.Vector3f, error) {
	if m.Position == nil {
		return pointset.Vector3f{}, errors.New("cursor message without position").
			WithType(ErrTypeInvalidCursor)
	}

	v := pointset.NewVector3f(m.Position[0], m.Position[1], m.Position[2])
	if !v.IsFinite() {
		return pointset.Vector3f{}, errors.New("cursor position is not finite").
			WithType(ErrTypeInvalidCursor).
			WithTag("position", m.Position)
	}
	return v, nil
}

func newErrorMsg(err error) Msg {
	return Msg{
		Type:      MsgTypeError,
		Error:     err.Error(),
		ErrorType: errors.Type(err),
	}
}
