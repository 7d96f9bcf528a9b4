package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const (
	envICEServersJSON = "HALLWAY_ICE_SERVERS_JSON"

	envStunURLs       = "HALLWAY_STUN_URLS"
	envTurnURLs       = "HALLWAY_TURN_URLS"
	envTurnUsername   = "HALLWAY_TURN_USERNAME"
	envTurnCredential = "HALLWAY_TURN_CREDENTIAL"
)

// parseICEServersFromValues prefers the JSON form; the STUN/TURN convenience
// values are only consulted when it is unset.
func parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(iceServersJSON); raw != "" {
		servers, err := parseICEServersJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return servers, nil
	}

	var servers []webrtc.ICEServer
	if urls := splitCommaSeparated(stunURLs); len(urls) > 0 {
		s := webrtc.ICEServer{URLs: urls}
		if err := validateICEServer(s); err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		servers = append(servers, s)
	}
	if urls := splitCommaSeparated(turnURLs); len(urls) > 0 {
		user := strings.TrimSpace(turnUsername)
		cred := strings.TrimSpace(turnCredential)
		if user == "" || cred == "" {
			return nil, fmt.Errorf("%s and %s must both be set with %s", envTurnUsername, envTurnCredential, envTurnURLs)
		}
		s := webrtc.ICEServer{URLs: urls, Username: user, Credential: cred}
		if err := validateICEServer(s); err != nil {
			return nil, fmt.Errorf("%s: %w", envTurnURLs, err)
		}
		servers = append(servers, s)
	}
	return servers, nil
}

// iceServerJSON mirrors the browser RTCIceServer shape, where urls may be a
// single string or a list.
type iceServerJSON struct {
	URLs       urlList `json:"urls"`
	Username   string  `json:"username,omitempty"`
	Credential string  `json:"credential,omitempty"`
}

type urlList []string

func (l *urlList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*l = []string{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

func parseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	var entries []iceServerJSON
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, 0, len(entries))
	for i, e := range entries {
		s := webrtc.ICEServer{Username: strings.TrimSpace(e.Username)}
		for _, u := range e.URLs {
			if u = strings.TrimSpace(u); u != "" {
				s.URLs = append(s.URLs, u)
			}
		}
		if cred := strings.TrimSpace(e.Credential); cred != "" {
			s.Credential = cred
		}
		if err := validateICEServer(s); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func validateICEServer(s webrtc.ICEServer) error {
	if len(s.URLs) == 0 {
		return errors.New("missing urls")
	}
	turn := false
	for _, u := range s.URLs {
		switch {
		case strings.HasPrefix(u, "stun:"), strings.HasPrefix(u, "stuns:"):
		case strings.HasPrefix(u, "turn:"), strings.HasPrefix(u, "turns:"):
			turn = true
		default:
			return fmt.Errorf("unsupported url scheme: %q", u)
		}
	}
	if turn {
		if strings.TrimSpace(s.Username) == "" {
			return errors.New("turn urls require username")
		}
		cred, _ := s.Credential.(string)
		if strings.TrimSpace(cred) == "" {
			return errors.New("turn urls require credential")
		}
	}
	return nil
}

func splitCommaSeparated(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
