package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FlexDuration is a duration field that also accepts a bare JSON number,
// interpreted as minutes. The original product config wrote
// "scraper.timeout: 10" and "healthCheck.interval: 5"; both spellings keep
// working. The value is stored in string form so the usual duration parsing
// applies downstream.
type FlexDuration string

func (d *FlexDuration) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		*d = ""
		return nil
	}
	if s[0] == '"' {
		var raw string
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		*d = FlexDuration(raw)
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("want a duration string or a number of minutes, got %s", s)
	}
	if n < 0 {
		return fmt.Errorf("duration must be >= 0, got %s", s)
	}
	*d = FlexDuration(strconv.FormatFloat(n, 'f', -1, 64) + "m")
	return nil
}

func (d FlexDuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(d))
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
