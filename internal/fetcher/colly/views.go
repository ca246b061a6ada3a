package collyfetcher

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/JakeFAU/channel-appraiser/internal/appraiser"
)

var viewToken = regexp.MustCompile(`^(\d+(?:\.\d+)?)([KkMm]?)$`)

// ParseViewCount parses counters such as "900", "1.2K" or "3M". Spaces and
// non-breaking spaces are ignored. Anything else is ErrMalformedData.
func ParseViewCount(raw string) (int64, error) {
	token := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)

	m := viewToken.FindStringSubmatch(token)
	if m == nil {
		return 0, fmt.Errorf("view count %q: %w", raw, appraiser.ErrMalformedData)
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("view count %q: %w", raw, appraiser.ErrMalformedData)
	}
	switch m[2] {
	case "K", "k":
		n *= 1_000
	case "M", "m":
		n *= 1_000_000
	}
	return int64(math.Round(n)), nil
}
