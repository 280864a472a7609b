package domain

type EventKind int

const (
	EventOther EventKind = iota
	EventHostChanged
	EventMatchCreated
	EventMatchDisbanded
	EventPlayerJoined
	EventPlayerKicked
	EventPlayerLeft
)

var eventKindWire = map[EventKind]string{
	EventOther:          "other",
	EventHostChanged:    "host-changed",
	EventMatchCreated:   "match-created",
	EventMatchDisbanded: "match-disbanded",
	EventPlayerJoined:   "player-joined",
	EventPlayerKicked:   "player-kicked",
	EventPlayerLeft:     "player-left",
}

var eventKindNames = map[EventKind]string{
	EventOther:          "Other",
	EventHostChanged:    "HostChanged",
	EventMatchCreated:   "MatchCreated",
	EventMatchDisbanded: "MatchDisbanded",
	EventPlayerJoined:   "PlayerJoined",
	EventPlayerKicked:   "PlayerKicked",
	EventPlayerLeft:     "PlayerLeft",
}

// ParseEventKind maps the API's detail.type; anything unrecognised is EventOther.
func ParseEventKind(wire string) EventKind {
	for kind, w := range eventKindWire {
		if w == wire {
			return kind
		}
	}
	return EventOther
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return eventKindNames[EventOther]
}

func (k EventKind) MarshalText() ([]byte, error) {
	if w, ok := eventKindWire[k]; ok {
		return []byte(w), nil
	}
	return []byte(eventKindWire[EventOther]), nil
}

func (k *EventKind) UnmarshalText(text []byte) error {
	*k = ParseEventKind(string(text))
	return nil
}
