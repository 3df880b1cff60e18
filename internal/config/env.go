package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment override keys. Comma-separated id lists, e.g.
// `export NOTIFY_BOT_MAINTAINERS="123,456,789"`.
const (
	EnvToken       = "NOTIFY_BOT_TOKEN"
	EnvMaintainers = "NOTIFY_BOT_MAINTAINERS"
	EnvAdmins      = "NOTIFY_BOT_ADMINS"
	EnvGroups      = "NOTIFY_BOT_GROUPS"
)

// ApplyEnv overlays environment values onto cfg. Unset variables leave the
// file values untouched; set-but-invalid ones are an error, not a fallback.
func ApplyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv(EnvToken); ok && strings.TrimSpace(v) != "" {
		cfg.Telegram.Token = strings.TrimSpace(v)
	}

	for _, ov := range []struct {
		key string
		dst *[]int64
	}{
		{EnvMaintainers, &cfg.Whitelist.Maintainers},
		{EnvAdmins, &cfg.Whitelist.Admins},
		{EnvGroups, &cfg.Whitelist.Groups},
	} {
		v, ok := os.LookupEnv(ov.key)
		if !ok {
			continue
		}
		ids, err := parseIDList(v)
		if err != nil {
			return fmt.Errorf("%s: %w", ov.key, err)
		}
		*ov.dst = ids
	}
	return nil
}

func parseIDList(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a valid id", p)
		}
		out = append(out, id)
	}
	return out, nil
}
