// Package bytesize parses and prints capacities used in pool configuration,
// such as location sizes and cache thresholds.
package bytesize

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// ByteSize is a capacity in bytes. It decodes from plain integers ("5000")
// or from strings with SI ("5KB") or IEC ("64Ki", "64KiB") suffixes.
type ByteSize uint64

const (
	B  ByteSize = 1
	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB
	TB ByteSize = 1000 * GB

	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
	GiB ByteSize = 1024 * MiB
	TiB ByteSize = 1024 * GiB
)

// exactUnits is searched in order by String; IEC first so that powers of two
// print in the form operators usually write them.
var exactUnits = []struct {
	size   ByteSize
	suffix string
}{
	{TiB, "TiB"}, {GiB, "GiB"}, {MiB, "MiB"}, {KiB, "KiB"},
	{TB, "TB"}, {GB, "GB"}, {MB, "MB"}, {KB, "KB"},
}

// Parse converts a human-readable capacity into a ByteSize.
func Parse(s string) (ByteSize, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("empty byte size string")
	}
	if strings.HasPrefix(trimmed, "-") {
		return 0, fmt.Errorf("negative byte size: %q", s)
	}

	n, err := humanize.ParseBytes(trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return ByteSize(n), nil
}

// MustParse is like Parse but panics on error. Intended for constants in tests
// and defaults.
func MustParse(s string) ByteSize {
	b, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return b
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := Parse(string(text))
	if err != nil {
		return err
	}
	*b = size
	return nil
}

// MarshalText implements encoding.TextMarshaler. The output parses back to the
// same value.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// String returns the shortest exact representation, e.g. "64KiB", "5KB", "1000".
func (b ByteSize) String() string {
	if b == 0 {
		return "0"
	}
	for _, u := range exactUnits {
		if b >= u.size && b%u.size == 0 {
			return fmt.Sprintf("%d%s", uint64(b/u.size), u.suffix)
		}
	}
	return fmt.Sprintf("%d", uint64(b))
}

// Human returns a rounded, display-only representation such as "1.5 MiB".
func (b ByteSize) Human() string {
	return humanize.IBytes(uint64(b))
}

// Uint64 returns the size as a uint64.
func (b ByteSize) Uint64() uint64 {
	return uint64(b)
}
