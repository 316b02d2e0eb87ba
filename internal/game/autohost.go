package game

import (
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"strings"
)

// Autohost message type bytes, as emitted by the engine's UDP channel.
const (
	msgServerStarted      = 0
	msgServerQuit         = 1
	msgServerStartPlaying = 2
	msgServerGameOver     = 3
	msgServerMessage      = 4
	msgServerWarning      = 5
	msgPlayerJoined       = 10
	msgPlayerLeft         = 11
	msgPlayerReady        = 12
	msgPlayerChat         = 13
	msgPlayerDefeated     = 14
	msgGameTeamStat       = 60
)

// EventKind enumerates the translated autohost events.
type EventKind int

const (
	ServerStarted EventKind = iota
	ServerQuit
	ServerStartPlaying
	ServerGameOver
	ServerMessage
	ServerWarning
	PlayerJoined
	PlayerLeft
	PlayerReady
	PlayerChat
	PlayerDefeated
	GameTeamStat
)

// TeamStat is one GAME_TEAMSTAT frame.
type TeamStat struct {
	Team           int
	MetalProduced  float64
	EnergyProduced float64
	DamageDealt    float64
	DamageReceived float64
	UnitsProduced  int
	UnitsKilled    int
}

// Event is one decoded autohost datagram.
type Event struct {
	Kind    EventKind
	Player  int
	Text    string
	Dest    int   // PLAYER_CHAT destination
	Winners []int // SERVER_GAMEOVER winning allyteams (engine numbering)
	Stat    TeamStat
}

// ParseDatagram decodes one autohost UDP packet.
func ParseDatagram(data []byte) (Event, error) {
	if len(data) == 0 {
		return Event{}, fmt.Errorf("empty autohost datagram")
	}
	typ, rest := data[0], data[1:]
	switch typ {
	case msgServerStarted:
		return Event{Kind: ServerStarted}, nil
	case msgServerQuit:
		return Event{Kind: ServerQuit}, nil
	case msgServerStartPlaying:
		return Event{Kind: ServerStartPlaying}, nil
	case msgServerGameOver:
		if len(rest) < 1 {
			return Event{}, fmt.Errorf("short GAMEOVER datagram")
		}
		ev := Event{Kind: ServerGameOver, Player: int(rest[0])}
		for _, w := range rest[1:] {
			ev.Winners = append(ev.Winners, int(w))
		}
		return ev, nil
	case msgServerMessage:
		return Event{Kind: ServerMessage, Text: string(rest)}, nil
	case msgServerWarning:
		return Event{Kind: ServerWarning, Text: string(rest)}, nil
	case msgPlayerJoined:
		if len(rest) < 1 {
			return Event{}, fmt.Errorf("short PLAYER_JOINED datagram")
		}
		return Event{Kind: PlayerJoined, Player: int(rest[0]), Text: string(rest[1:])}, nil
	case msgPlayerLeft:
		if len(rest) < 2 {
			return Event{}, fmt.Errorf("short PLAYER_LEFT datagram")
		}
		return Event{Kind: PlayerLeft, Player: int(rest[0]), Dest: int(rest[1])}, nil
	case msgPlayerReady:
		if len(rest) < 2 {
			return Event{}, fmt.Errorf("short PLAYER_READY datagram")
		}
		return Event{Kind: PlayerReady, Player: int(rest[0]), Dest: int(rest[1])}, nil
	case msgPlayerChat:
		if len(rest) < 2 {
			return Event{}, fmt.Errorf("short PLAYER_CHAT datagram")
		}
		return Event{Kind: PlayerChat, Player: int(rest[0]), Dest: int(rest[1]), Text: string(rest[2:])}, nil
	case msgPlayerDefeated:
		if len(rest) < 1 {
			return Event{}, fmt.Errorf("short PLAYER_DEFEATED datagram")
		}
		return Event{Kind: PlayerDefeated, Player: int(rest[0])}, nil
	case msgGameTeamStat:
		return parseTeamStat(rest)
	default:
		return Event{}, fmt.Errorf("unknown autohost message type %d", typ)
	}
}

func parseTeamStat(rest []byte) (Event, error) {
	// team byte + 4 float32 + 2 uint32
	if len(rest) < 1+4*4+2*4 {
		return Event{}, fmt.Errorf("short GAME_TEAMSTAT datagram")
	}
	f := func(off int) float64 {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(rest[off:])))
	}
	u := func(off int) int {
		return int(binary.LittleEndian.Uint32(rest[off:]))
	}
	return Event{
		Kind: GameTeamStat,
		Stat: TeamStat{
			Team:           int(rest[0]),
			MetalProduced:  f(1),
			EnergyProduced: f(5),
			DamageDealt:    f(9),
			DamageReceived: f(13),
			UnitsProduced:  u(17),
			UnitsKilled:    u(21),
		},
	}, nil
}

// connEstablishedPrefix opens the SERVER_MESSAGE line reporting a
// client's in-game connection; the remote address follows.
const connEstablishedPrefix = "-> Connection established"

// ParseConnectionEstablished extracts the in-game IP from a
// SERVER_MESSAGE like "-> Connection established (given id 3) from
// 10.0.0.7:51234", returning ok=false for other messages.
func ParseConnectionEstablished(text string) (id int, ip string, ok bool) {
	if !strings.HasPrefix(text, connEstablishedPrefix) {
		return 0, "", false
	}
	var given int
	if _, err := fmt.Sscanf(text, "-> Connection established (given id %d)", &given); err != nil {
		return 0, "", false
	}
	if i := strings.LastIndex(text, "from "); i >= 0 {
		addr := strings.TrimSpace(text[i+5:])
		if host, _, err := net.SplitHostPort(addr); err == nil {
			return given, host, true
		}
		return given, addr, true
	}
	return given, "", true
}

// Channel is the UDP loopback listener for the spawned engine.
type Channel struct {
	conn *net.UDPConn
	// gameAddr is learned from the first inbound packet; outbound chat
	// commands go back to it.
	gameAddr *net.UDPAddr
}

// Listen binds the autohost UDP port on loopback.
func Listen(port int) (*Channel, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		return nil, fmt.Errorf("binding autohost port %d: %w", port, err)
	}
	return &Channel{conn: conn}, nil
}

// Receive blocks for the next event.
func (c *Channel) Receive(buf []byte) (Event, error) {
	n, addr, err := c.conn.ReadFromUDP(buf)
	if err != nil {
		return Event{}, fmt.Errorf("reading autohost datagram: %w", err)
	}
	c.gameAddr = addr
	return ParseDatagram(buf[:n])
}

// Send writes a plain chat/command line to the engine.
func (c *Channel) Send(line string) error {
	if c.gameAddr == nil {
		return fmt.Errorf("engine address unknown, no packet received yet")
	}
	if _, err := c.conn.WriteToUDP([]byte(line), c.gameAddr); err != nil {
		return fmt.Errorf("writing autohost command: %w", err)
	}
	return nil
}

// Close shuts the channel down.
func (c *Channel) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
