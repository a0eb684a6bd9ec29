package protocol

import "strings"

// Command 消息命令标签，顺序与旧版客户端保持一致
type Command uint8

const (
	PlayerUpdate Command = iota
	ServerUpdate
	Handshake
	PlayerInput
	InternalID
	OldClientsInfo
	NewClientsInfo
	Disconnected
)

var commandNames = [...]string{
	PlayerUpdate:   "PLAYER_UPDATE",
	ServerUpdate:   "SERVER_UPDATE",
	Handshake:      "HANDSHAKE",
	PlayerInput:    "PLAYER_INPUT",
	InternalID:     "INTERNAL_ID",
	OldClientsInfo: "OLD_CLIENTS_INFO",
	NewClientsInfo: "NEW_CLIENTS_INFO",
	Disconnected:   "DISCONNECTED",
}

func (c Command) String() string {
	if int(c) < len(commandNames) {
		return commandNames[c]
	}
	return "UNKNOWN"
}

// ParseCommand 按名称解析命令（大小写不敏感）
func ParseCommand(s string) (Command, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, name := range commandNames {
		if name == s {
			return Command(i), true
		}
	}
	return 0, false
}

// Vector3 三维坐标，JSON 编码为 [x,y,z]
type Vector3 [3]float64

// PlayerState 玩家的可同步状态
type PlayerState struct {
	ID       string  `json:"id"`
	Position Vector3 `json:"position"`
}

// Payload 消息载荷（标签联合的分支），只能由本包内类型实现
type Payload interface {
	accepts(Command) bool
}

// PlayerPayload 单个玩家：PLAYER_UPDATE / INTERNAL_ID / NEW_CLIENTS_INFO / HANDSHAKE
type PlayerPayload struct {
	Player PlayerState `json:"player"`
}

// SnapshotPayload 全量快照：SERVER_UPDATE / OLD_CLIENTS_INFO
type SnapshotPayload struct {
	Players []PlayerState `json:"players"`
}

// DisconnectPayload 断开的玩家 ID 批次
type DisconnectPayload struct {
	DeleteID []string `json:"deleteID"`
}

// InputPayload 客户端本地输入向量
type InputPayload struct {
	Input Vector3 `json:"input"`
}

func (PlayerPayload) accepts(c Command) bool {
	return c == PlayerUpdate || c == InternalID || c == NewClientsInfo || c == Handshake
}

func (SnapshotPayload) accepts(c Command) bool {
	return c == ServerUpdate || c == OldClientsInfo
}

func (DisconnectPayload) accepts(c Command) bool { return c == Disconnected }

func (InputPayload) accepts(c Command) bool { return c == PlayerInput }

// Message 信封：命令标签 + 对应载荷
type Message struct {
	Command Command
	Payload Payload
}

func NewPlayerUpdate(p PlayerState) Message {
	return Message{Command: PlayerUpdate, Payload: PlayerPayload{Player: p}}
}

func NewInternalID(id string) Message {
	return Message{Command: InternalID, Payload: PlayerPayload{Player: PlayerState{ID: id}}}
}

func NewNewClient(p PlayerState) Message {
	return Message{Command: NewClientsInfo, Payload: PlayerPayload{Player: p}}
}

func NewHandshake(id string) Message {
	return Message{Command: Handshake, Payload: PlayerPayload{Player: PlayerState{ID: id}}}
}

func NewPlayerInput(v Vector3) Message {
	return Message{Command: PlayerInput, Payload: InputPayload{Input: v}}
}

// NewSnapshot 构造全量快照消息；cmd 为 SERVER_UPDATE 或 OLD_CLIENTS_INFO
func NewSnapshot(cmd Command, players []PlayerState) Message {
	if players == nil {
		players = []PlayerState{}
	}
	return Message{Command: cmd, Payload: SnapshotPayload{Players: players}}
}

func NewDisconnected(ids []string) Message {
	if ids == nil {
		ids = []string{}
	}
	return Message{Command: Disconnected, Payload: DisconnectPayload{DeleteID: ids}}
}

// Player 取出单玩家载荷；类型不符时 ok=false
func (m Message) Player() (PlayerState, bool) {
	switch p := m.Payload.(type) {
	case PlayerPayload:
		return p.Player, true
	case *PlayerPayload:
		return p.Player, true
	}
	return PlayerState{}, false
}

// Players 取出快照载荷
func (m Message) Players() ([]PlayerState, bool) {
	switch p := m.Payload.(type) {
	case SnapshotPayload:
		return p.Players, true
	case *SnapshotPayload:
		return p.Players, true
	}
	return nil, false
}

// DeleteIDs 取出断开批次
func (m Message) DeleteIDs() ([]string, bool) {
	switch p := m.Payload.(type) {
	case DisconnectPayload:
		return p.DeleteID, true
	case *DisconnectPayload:
		return p.DeleteID, true
	}
	return nil, false
}

// Input 取出输入向量
func (m Message) Input() (Vector3, bool) {
	switch p := m.Payload.(type) {
	case InputPayload:
		return p.Input, true
	case *InputPayload:
		return p.Input, true
	}
	return Vector3{}, false
}
