// SPDX-License-Identifier: MPL-2.0

package event

// Event names spoken on the signaling channel.
const (
	EventRegister     = "register"
	EventConnectMedia = "connect_media"
	EventConnectLoops = "connect_loops"
)

// Event names spoken on the mixer channel.
const (
	EventMixerRegister  = "register"
	EventMixerConfigure = "configure"
	EventMixerAcquire   = "acquire"
	EventMixerJoin      = "join"
)

// Socket describes a transport endpoint inside message payloads.
type Socket struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Type string `json:"type,omitempty"`
}

// LoopEntry is one element of the connect_loops loop list.
type LoopEntry struct {
	Name string `json:"name"`
	SSRC uint32 `json:"ssrc"`
}

// Forward describes where a mixer shall send its mixed stream.
type Forward struct {
	Socket      Socket `json:"socket"`
	SSRC        uint32 `json:"ssrc"`
	PayloadType uint8  `json:"payload_type"`
}

// LoopData describes a multicast loop for a mixer join.
type LoopData struct {
	Name   string `json:"name"`
	Socket Socket `json:"socket"`
	Volume uint8  `json:"volume"`
}

// RegisterParams is the register request parameter.
type RegisterParams struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// ConnectMediaParams is the connect_media request parameter.
type ConnectMediaParams struct {
	Name  string `json:"name"`
	Codec string `json:"codec"`
	Host  string `json:"host"`
	Port  int    `json:"port"`
}

// ConnectMediaResponse is the connect_media success response body.
type ConnectMediaResponse struct {
	Name        string `json:"name"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Fingerprint string `json:"fingerprint"`
}

// ConnectLoopsBody is shared by the connect_loops parameter and response.
type ConnectLoopsBody struct {
	Loops []LoopEntry `json:"loops"`
}

// Register builds a register request.
func Register(name, password string) *Message {
	m := NewMessage(EventRegister, "")
	m.Parameter = map[string]any{
		"name":     name,
		"password": password,
	}
	return m
}

// ConnectMedia builds a connect_media request announcing the local
// media endpoint.
func ConnectMedia(name, codec, host string, port int) *Message {
	m := NewMessage(EventConnectMedia, "")
	m.Parameter = map[string]any{
		"name":  name,
		"codec": codec,
		"host":  host,
		"port":  port,
	}
	return m
}

// ConnectLoops builds an empty connect_loops request. The loop list is
// populated by the caller via SetLoops.
func ConnectLoops() *Message {
	return NewMessage(EventConnectLoops, "")
}

// SetLoops places a loop list into the message parameter.
func SetLoops(m *Message, loops []LoopEntry) {
	list := make([]any, len(loops))
	for i, l := range loops {
		list[i] = map[string]any{"name": l.Name, "ssrc": l.SSRC}
	}
	if m.Parameter == nil {
		m.Parameter = map[string]any{}
	}
	m.Parameter["loops"] = list
}

// MixerAcquire builds the acquire request reserving user on a mixer and
// pointing its egress at the forward descriptor.
func MixerAcquire(user string, forward Forward) *Message {
	m := NewMessage(EventMixerAcquire, "")
	m.Parameter = map[string]any{
		"user": user,
		"forward": map[string]any{
			"socket": map[string]any{
				"host": forward.Socket.Host,
				"port": forward.Socket.Port,
				"type": forward.Socket.Type,
			},
			"ssrc":         forward.SSRC,
			"payload_type": forward.PayloadType,
		},
	}
	return m
}

// MixerJoin builds the join request attaching a mixer to a loop's
// multicast group.
func MixerJoin(data LoopData) *Message {
	m := NewMessage(EventMixerJoin, "")
	m.Parameter = map[string]any{
		"loop": map[string]any{
			"name": data.Name,
			"socket": map[string]any{
				"host": data.Socket.Host,
				"port": data.Socket.Port,
			},
			"volume": data.Volume,
		},
	}
	return m
}

// MixerConfigure builds the configure push sent to a freshly registered
// mixer. The configuration block is passed through opaquely.
func MixerConfigure(config map[string]any) *Message {
	m := NewMessage(EventMixerConfigure, "")
	if config == nil {
		config = map[string]any{}
	}
	m.Parameter = config
	return m
}
