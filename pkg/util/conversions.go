package util

import (
	"bytes"
	"fmt"
	"strconv"
)

// Snowflake is a Discord entity ID. It travels as a decimal string in JSON
// because JavaScript clients cannot hold 64-bit integers.
type Snowflake uint64

// Uint64ToString converts uint64 to string
func Uint64ToString(n uint64) string {
	return strconv.FormatUint(n, 10)
}

// StringToUint64 converts string to uint64
func StringToUint64(s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse uint64: %w", err)
	}
	return n, nil
}

// ParseSnowflake parses a decimal snowflake. The empty string parses to zero.
func ParseSnowflake(s string) (Snowflake, error) {
	if s == "" {
		return 0, nil
	}
	n, err := StringToUint64(s)
	if err != nil {
		return 0, err
	}
	return Snowflake(n), nil
}

// MustSnowflake parses s and returns zero on malformed input. Gateway payloads
// are trusted to carry valid IDs.
func MustSnowflake(s string) Snowflake {
	id, _ := ParseSnowflake(s)
	return id
}

func (s Snowflake) String() string {
	return Uint64ToString(uint64(s))
}

func (s Snowflake) IsZero() bool {
	return s == 0
}

func (s Snowflake) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(s.String())), nil
}

// UnmarshalJSON accepts both "123" and 123.
func (s *Snowflake) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = 0
		return nil
	}
	raw := string(data)
	if len(data) >= 2 && data[0] == '"' {
		unq, err := strconv.Unquote(raw)
		if err != nil {
			return fmt.Errorf("snowflake: %w", err)
		}
		raw = unq
	}
	id, err := ParseSnowflake(raw)
	if err != nil {
		return err
	}
	*s = id
	return nil
}
