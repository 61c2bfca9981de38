package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrBadPayload  = errors.New("bad payload")
)

// DecodeClient parses a raw frame from a client into its concrete
// message. Unknown types and structurally invalid payloads are
// rejected here so the call core only ever sees well-formed input.
func DecodeClient(data []byte) (ClientMessage, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	switch env.Type {
	case TypeJoinSession:
		var m JoinSession
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		return m, nil
	case TypeStart:
		var m Start
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		return m, nil
	case TypeJoin:
		var m Join
		return m, unmarshal(data, &m)
	case TypeLeave:
		var m Leave
		return m, unmarshal(data, &m)
	case TypeStop:
		var m Stop
		return m, unmarshal(data, &m)
	case TypeEnd:
		var m End
		return m, unmarshal(data, &m)
	case TypeLock:
		var m Lock
		return m, unmarshal(data, &m)
	case TypeUnlock:
		var m Unlock
		return m, unmarshal(data, &m)
	case TypeMuteAll:
		var m MuteAll
		return m, unmarshal(data, &m)
	case TypeKick:
		var m Kick
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.Target == "" {
			return nil, fmt.Errorf("%w: kick without target", ErrBadPayload)
		}
		return m, nil
	case TypeSpeaking:
		var m Speaking
		return m, unmarshal(data, &m)
	case TypePing:
		var m Ping
		return m, unmarshal(data, &m)
	case TypeOffer:
		var m Offer
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.To == "" || m.SDP == "" {
			return nil, fmt.Errorf("%w: offer missing to/sdp", ErrBadPayload)
		}
		return m, nil
	case TypeAnswer:
		var m Answer
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.To == "" || m.SDP == "" {
			return nil, fmt.Errorf("%w: answer missing to/sdp", ErrBadPayload)
		}
		return m, nil
	case TypeCandidate:
		var m Candidate
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.To == "" || m.Candidate.Candidate == "" {
			return nil, fmt.Errorf("%w: candidate missing to/candidate", ErrBadPayload)
		}
		return m, nil
	case TypeIceRestart:
		var m IceRestart
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.To == "" || m.SDP == "" {
			return nil, fmt.Errorf("%w: restart missing to/sdp", ErrBadPayload)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// DecodeServer parses a server frame on the client side.
func DecodeServer(data []byte) (ServerMessage, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	switch env.Type {
	case TypeResult:
		var m Result
		return m, unmarshal(data, &m)
	case TypeRoomStarted:
		var m RoomStarted
		return m, unmarshal(data, &m)
	case TypeRoomJoined:
		var m RoomJoined
		return m, unmarshal(data, &m)
	case TypeRoomLeft:
		var m RoomLeft
		return m, unmarshal(data, &m)
	case TypeRoomEnded:
		var m RoomEnded
		return m, unmarshal(data, &m)
	case TypeRoomState:
		var m RoomState
		return m, unmarshal(data, &m)
	case TypeSpeakingUpdate:
		var m SpeakingUpdate
		return m, unmarshal(data, &m)
	case TypeKicked:
		var m Kicked
		return m, unmarshal(data, &m)
	case TypeMembers:
		var m Members
		return m, unmarshal(data, &m)
	case TypePresence:
		var m Presence
		return m, unmarshal(data, &m)
	case TypePong:
		var m Pong
		return m, unmarshal(data, &m)
	case TypeOffer:
		var m RelayedOffer
		return m, unmarshal(data, &m)
	case TypeAnswer:
		var m RelayedAnswer
		return m, unmarshal(data, &m)
	case TypeCandidate:
		var m RelayedCandidate
		return m, unmarshal(data, &m)
	case TypeIceRestart:
		var m RelayedRestart
		return m, unmarshal(data, &m)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}
