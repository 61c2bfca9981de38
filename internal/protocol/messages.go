// Package protocol defines the closed set of signal messages exchanged
// between clients and the server. Payloads are validated here, at the
// transport boundary, before they reach the call core.
package protocol

// Client → server message types.
const (
	TypeJoinSession = "join-session"
	TypeStart       = "start"
	TypeJoin        = "join"
	TypeLeave       = "leave"
	TypeStop        = "stop"
	TypeEnd         = "end"
	TypeLock        = "lock"
	TypeUnlock      = "unlock"
	TypeMuteAll     = "mute-all"
	TypeKick        = "kick"
	TypeSpeaking    = "speaking"
	TypePing        = "ping"

	// Relay envelopes; the server forwards the payload verbatim and
	// never interprets SDP or candidate contents.
	TypeOffer      = "offer"
	TypeAnswer     = "answer"
	TypeCandidate  = "ice-candidate"
	TypeIceRestart = "ice-restart"
)

// Server → client message types.
const (
	TypeResult         = "result"
	TypeRoomStarted    = "room-started"
	TypeRoomJoined     = "room-joined"
	TypeRoomLeft       = "room-left"
	TypeRoomEnded      = "room-ended"
	TypeRoomState      = "room-state"
	TypeSpeakingUpdate = "speaking-update"
	TypeKicked         = "kicked"
	TypeMembers        = "members"
	TypePresence       = "presence"
	TypePong           = "pong"
)

// Precondition failure codes. Returned in Result.Error, never thrown.
const (
	ErrAlreadyActive = "already active"
	ErrNoActiveCall  = "no active call"
	ErrAlreadyInCall = "already in call"
	ErrNotInCall     = "not in call"
	ErrLocked        = "locked"
	ErrNotAuthorized = "not authorized"
	ErrNotRegistered = "not registered"
	ErrBanned        = "banned"
	ErrKickedOut     = "kicked"
	ErrNameTaken     = "name taken"
	ErrInvalidName   = "invalid name"
	ErrRateLimited   = "rate limited"
)

// ICECandidate mirrors the browser/pion candidate init shape. Opaque
// to the server.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFrag  *string `json:"usernameFragment,omitempty"`
}

// ---- client → server ----

type ClientMessage interface{ clientMessage() }

type JoinSession struct {
	Type  string `json:"type"`
	Seq   uint64 `json:"seq,omitempty"`
	Room  string `json:"room,omitempty"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

type Start struct {
	Type string `json:"type"`
	Seq  uint64 `json:"seq,omitempty"`
	Kind string `json:"kind,omitempty"`
}

type Join struct {
	Type string `json:"type"`
	Seq  uint64 `json:"seq,omitempty"`
}

type Leave struct {
	Type string `json:"type"`
	Seq  uint64 `json:"seq,omitempty"`
}

type Stop struct {
	Type string `json:"type"`
	Seq  uint64 `json:"seq,omitempty"`
}

type End struct {
	Type string `json:"type"`
	Seq  uint64 `json:"seq,omitempty"`
}

type Lock struct {
	Type string `json:"type"`
}

type Unlock struct {
	Type string `json:"type"`
}

type MuteAll struct {
	Type string `json:"type"`
}

type Kick struct {
	Type   string `json:"type"`
	Target string `json:"target"`
}

type Speaking struct {
	Type     string `json:"type"`
	Speaking bool   `json:"speaking"`
}

type Ping struct {
	Type string `json:"type"`
}

type Offer struct {
	Type string `json:"type"`
	To   string `json:"to"`
	SDP  string `json:"sdp"`
}

type Answer struct {
	Type string `json:"type"`
	To   string `json:"to"`
	SDP  string `json:"sdp"`
}

type Candidate struct {
	Type      string       `json:"type"`
	To        string       `json:"to"`
	Candidate ICECandidate `json:"candidate"`
}

type IceRestart struct {
	Type string `json:"type"`
	To   string `json:"to"`
	SDP  string `json:"sdp"`
}

func (JoinSession) clientMessage() {}
func (Start) clientMessage()       {}
func (Join) clientMessage()        {}
func (Leave) clientMessage()       {}
func (Stop) clientMessage()        {}
func (End) clientMessage()         {}
func (Lock) clientMessage()        {}
func (Unlock) clientMessage()      {}
func (MuteAll) clientMessage()     {}
func (Kick) clientMessage()        {}
func (Speaking) clientMessage()    {}
func (Ping) clientMessage()        {}
func (Offer) clientMessage()       {}
func (Answer) clientMessage()      {}
func (Candidate) clientMessage()   {}
func (IceRestart) clientMessage()  {}

// ---- server → client ----

type ServerMessage interface{ serverMessage() }

// ParticipantInfo is the public view of one call participant.
type ParticipantInfo struct {
	Conn     string `json:"conn"`
	Name     string `json:"name"`
	Speaking bool   `json:"speaking,omitempty"`
}

// Result answers a seq-carrying request. Optional fields are filled
// per operation; Error is a precondition code from the list above.
type Result struct {
	Type         string            `json:"type"`
	Seq          uint64            `json:"seq"`
	Success      bool              `json:"success"`
	Error        string            `json:"error,omitempty"`
	You          string            `json:"you,omitempty"`
	HostConn     string            `json:"hostConn,omitempty"`
	Participants []ParticipantInfo `json:"participants,omitempty"`
}

type RoomStarted struct {
	Type             string `json:"type"`
	Room             string `json:"room"`
	Kind             string `json:"kind"`
	HostConn         string `json:"hostConn"`
	HostName         string `json:"hostName"`
	ParticipantCount int    `json:"participantCount"`
}

type RoomJoined struct {
	Type string `json:"type"`
	Conn string `json:"conn"`
	Name string `json:"name"`
}

type RoomLeft struct {
	Type string `json:"type"`
	Conn string `json:"conn"`
	Name string `json:"name,omitempty"`
}

type RoomEnded struct {
	Type    string `json:"type"`
	Room    string `json:"room"`
	EndedAt int64  `json:"endedAt"`
}

// RoomState is the full snapshot sent on (re)connect and after every
// mutation.
type RoomState struct {
	Type             string            `json:"type"`
	Room             string            `json:"room"`
	Active           bool              `json:"active"`
	Kind             string            `json:"kind,omitempty"`
	HostConn         string            `json:"hostConn,omitempty"`
	ParticipantCount int               `json:"participantCount"`
	Participants     []ParticipantInfo `json:"participants,omitempty"`
	Locked           bool              `json:"locked"`
	MutedAll         bool              `json:"mutedAll"`
	HostReconnecting bool              `json:"hostReconnecting,omitempty"`
}

type SpeakingUpdate struct {
	Type     string `json:"type"`
	Conn     string `json:"conn"`
	Speaking bool   `json:"speaking"`
}

type Kicked struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
	Scope  string `json:"scope,omitempty"`
}

type MemberInfo struct {
	Name     string `json:"name"`
	Color    string `json:"color,omitempty"`
	Conn     string `json:"conn"`
	JoinedAt string `json:"joinedAt"`
}

type Members struct {
	Type    string       `json:"type"`
	Members []MemberInfo `json:"members"`
}

type Presence struct {
	Type  string   `json:"type"`
	Names []string `json:"names"`
}

type Pong struct {
	Type string `json:"type"`
}

// RelayedOffer and friends are what the relay delivers to the target:
// the sender's envelope plus from-connection and sender identity.
type RelayedOffer struct {
	Type     string `json:"type"`
	From     string `json:"from"`
	FromName string `json:"fromName"`
	SDP      string `json:"sdp"`
}

type RelayedAnswer struct {
	Type     string `json:"type"`
	From     string `json:"from"`
	FromName string `json:"fromName"`
	SDP      string `json:"sdp"`
}

type RelayedCandidate struct {
	Type      string       `json:"type"`
	From      string       `json:"from"`
	Candidate ICECandidate `json:"candidate"`
}

type RelayedRestart struct {
	Type     string `json:"type"`
	From     string `json:"from"`
	FromName string `json:"fromName"`
	SDP      string `json:"sdp"`
}

func (Result) serverMessage()           {}
func (RoomStarted) serverMessage()      {}
func (RoomJoined) serverMessage()       {}
func (RoomLeft) serverMessage()         {}
func (RoomEnded) serverMessage()        {}
func (RoomState) serverMessage()        {}
func (SpeakingUpdate) serverMessage()   {}
func (Kicked) serverMessage()           {}
func (Members) serverMessage()          {}
func (Presence) serverMessage()         {}
func (Pong) serverMessage()             {}
func (RelayedOffer) serverMessage()     {}
func (RelayedAnswer) serverMessage()    {}
func (RelayedCandidate) serverMessage() {}
func (RelayedRestart) serverMessage()   {}
