package protocol

// Endpoint identifies one message type in the Pebble wire protocol.
type Endpoint uint16

// Endpoint identifiers from the watch firmware.
const (
	EndpointTime               Endpoint = 11
	EndpointVersion            Endpoint = 16
	EndpointPhoneVersion       Endpoint = 17
	EndpointSystemMessage      Endpoint = 18
	EndpointMusicControl       Endpoint = 32
	EndpointPhoneControl       Endpoint = 33
	EndpointApplicationMessage Endpoint = 48
	EndpointLauncher           Endpoint = 49
	EndpointLogs               Endpoint = 2000
	EndpointPing               Endpoint = 2001
	EndpointLogDump            Endpoint = 2002
	EndpointReset              Endpoint = 2003
	EndpointApp                Endpoint = 2004
	EndpointNotification       Endpoint = 3000
	EndpointResource           Endpoint = 4000
	EndpointAppManager         Endpoint = 6000
	EndpointPutBytes           Endpoint = 0xBEEF
)

var endpointNames = map[Endpoint]string{
	EndpointTime:               "TIME",
	EndpointVersion:            "VERSION",
	EndpointPhoneVersion:       "PHONE_VERSION",
	EndpointSystemMessage:      "SYSTEM_MESSAGE",
	EndpointMusicControl:       "MUSIC_CONTROL",
	EndpointPhoneControl:       "PHONE_CONTROL",
	EndpointApplicationMessage: "APPLICATION_MESSAGE",
	EndpointLauncher:           "LAUNCHER",
	EndpointLogs:               "LOGS",
	EndpointPing:               "PING",
	EndpointLogDump:            "LOG_DUMP",
	EndpointReset:              "RESET",
	EndpointApp:                "APP",
	EndpointNotification:       "NOTIFICATION",
	EndpointResource:           "RESOURCE",
	EndpointAppManager:         "APP_MANAGER",
	EndpointPutBytes:           "PUT_BYTES",
}

// Known reports whether e is part of the registered endpoint table.
func Known(e Endpoint) bool {
	_, ok := endpointNames[e]
	return ok
}

func (e Endpoint) String() string {
	if name, ok := endpointNames[e]; ok {
		return name
	}
	return "UNKNOWN"
}
