package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "relayctl", "harness":
		return harnessTemplate, nil
	case "relayd", "peer":
		return peerTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const harnessTemplate = `transport = "tcp"
addr = "127.0.0.1:9007"
socket_path = "/tmp/framerelay.sock"
connect_timeout = "2s"
read_timeout = ""
write_timeout = ""
max_payload_bytes = 16777216
connect_attempts = 3
backoff_initial = "250ms"
backoff_max = "5s"
spawn = false
`

const peerTemplate = `name = "relayd"
listen = "tcp://127.0.0.1:9007"
admin = ":9108"
cors_origins = ["http://localhost:3000"]
read_timeout = ""
write_timeout = ""
max_payload_bytes = 16777216
unavailable_status_code = 503
check_timeout = 60
`
