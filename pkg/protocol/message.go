package protocol

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Channel identifies one of the two independent streams of a session.
type Channel int

const (
	// ChannelText carries chat lines and the control frames.
	ChannelText Channel = iota
	// ChannelImage carries raw image bytes.
	ChannelImage
)

// String returns the string representation of Channel.
func (c Channel) String() string {
	switch c {
	case ChannelText:
		return "text"
	case ChannelImage:
		return "image"
	default:
		return "unknown"
	}
}

// Role names the side that authored a text line.
type Role string

const (
	// RoleClient stamps lines written by the client endpoint.
	RoleClient Role = "Client"
	// RoleServer stamps lines written by the server operator.
	RoleServer Role = "Server"
)

const (
	// WelcomeText is sent once to a connection right after it becomes the
	// active session. Clients open their image channel when they see it.
	WelcomeText = "Welcome to the chat room\n"

	queuePrefix = "You are number "
	queueSuffix = " in the waiting queue, please wait...\n"
)

// Welcome returns the welcome frame payload.
func Welcome() []byte {
	return []byte(WelcomeText)
}

// IsWelcome reports whether a text payload is the welcome frame.
func IsWelcome(payload []byte) bool {
	return string(payload) == WelcomeText
}

// QueuePosition returns the payload telling a waiting connection its
// 1-based position at enqueue time.
func QueuePosition(position int) []byte {
	return []byte(queuePrefix + strconv.Itoa(position) + queueSuffix)
}

// ParseQueuePosition extracts the position from a queue-position payload.
func ParseQueuePosition(payload []byte) (int, bool) {
	s := string(payload)
	if !strings.HasPrefix(s, queuePrefix) || !strings.HasSuffix(s, queueSuffix) {
		return 0, false
	}
	n, err := strconv.Atoi(s[len(queuePrefix) : len(s)-len(queueSuffix)])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// Line is a decoded chat text line.
type Line struct {
	Role Role
	IP   string
	Body string
}

// FormatLine renders a chat line as "<Role>(<ip>):<body>\n".
func FormatLine(role Role, ip, body string) []byte {
	return []byte(fmt.Sprintf("%s(%s):%s\n", role, ip, body))
}

// ParseLine splits a payload produced by FormatLine. Payloads that do not
// follow the convention return ok=false.
func ParseLine(payload []byte) (Line, bool) {
	s := strings.TrimSuffix(string(payload), "\n")
	open := strings.IndexByte(s, '(')
	if open <= 0 {
		return Line{}, false
	}
	end := strings.Index(s[open:], "):")
	if end < 0 {
		return Line{}, false
	}
	end += open

	role := Role(s[:open])
	if role != RoleClient && role != RoleServer {
		return Line{}, false
	}
	return Line{
		Role: role,
		IP:   s[open+1 : end],
		Body: s[end+2:],
	}, true
}

// LocalIP returns the address of the interface used for outbound traffic.
// No packet is sent; the UDP "connect" only selects a route.
func LocalIP() string {
	conn, err := net.Dial("udp", "10.255.255.255:1")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}
