package reportutils

// Helpers that keep number, duration and size formatting consistent
// across progress lines, per-collection reports and the final summary.

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mongodb-labs/digest-verifier/internal/types"
	"github.com/mongodb-labs/digest-verifier/internal/util"
	"golang.org/x/exp/constraints"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const decimalPrecision = 2

var realNumFmtPattern = "%." + strconv.Itoa(decimalPrecision) + "f"

var printer = message.NewPrinter(language.AmericanEnglish)

// num16Plus is like realNum, but it excludes 8-bit int/uint.
type num16Plus interface {
	constraints.Float |
		~uint | ~uint16 | ~uint32 | ~uint64 |
		~int | ~int16 | ~int32 | ~int64
}

type realNum interface {
	constraints.Float | constraints.Integer
}

// DataUnit signifies some unit of data.
type DataUnit string

const (
	Bytes DataUnit = "bytes"
	KiB   DataUnit = "KiB"
	MiB   DataUnit = "MiB"
	GiB   DataUnit = "GiB"
	TiB   DataUnit = "TiB"
)

// Ordered largest first so FindBestUnit can stop at the first fit.
var unitSizes = []struct {
	unit DataUnit
	size uint64
}{
	{TiB, humanize.TiByte},
	{GiB, humanize.GiByte},
	{MiB, humanize.MiByte},
	{KiB, humanize.KiByte},
}

// DurationToHMS stringifies `duration` as, e.g., "1h 22m 3.23s".
// The lowest unit shown is always the second.
func DurationToHMS(duration time.Duration) string {
	hours := int(math.Floor(duration.Hours()))
	minutes := int(math.Floor(duration.Minutes())) % 60

	secs := math.Mod(duration.Seconds(), 60)

	str := FmtReal(secs) + "s"

	if hours > 0 {
		str = fmt.Sprintf("%dh %dm %s", hours, minutes, str)
	} else if minutes > 0 {
		str = fmt.Sprintf("%dm %s", minutes, str)
	}

	return str
}

// FmtReal provides a standard formatting of real numbers, with a consistent
// precision and trailing decimal zeros removed.
func FmtReal[T types.RealNumber](num T) string {
	return printer.Sprintf(realNumFmtPattern, num)
}

// FmtCount renders an integer count with thousands separators.
func FmtCount[T constraints.Integer](count T) string {
	return humanize.Comma(int64(count))
}

// FmtPercent returns a stringified percentage without a trailing `%`.
// Anything short of 100% never rounds up to "100".
func FmtPercent[T, U realNum](numerator T, denominator U) string {
	if denominator == 0 {
		return "0"
	}

	str := FmtReal(100 * util.Divide(numerator, denominator))

	if str == "100" && U(numerator) < denominator {
		return "99." + strings.Repeat("9", decimalPrecision)
	}

	return str
}

// FmtRate renders a per-second rate, e.g., "1,234.5/s".
func FmtRate[T realNum](count T, elapsed time.Duration) string {
	if elapsed <= 0 {
		return "0/s"
	}

	return FmtReal(util.Divide(count, elapsed.Seconds())) + "/s"
}

// FindBestUnit gives the largest DataUnit in which `count` is at least 1.
func FindBestUnit[T num16Plus](count T) DataUnit {
	for _, us := range unitSizes {
		if float64(count) >= float64(us.size) {
			return us.unit
		}
	}

	return Bytes
}

// BytesToUnit returns a stringified number that represents `count`
// in the given `unit`. For example, count=1024 and unit=KiB gives "1".
func BytesToUnit[T num16Plus](count T, unit DataUnit) string {
	if unit == Bytes {
		return FmtReal(count)
	}

	for _, us := range unitSizes {
		if us.unit == unit {
			return FmtReal(float64(count) / float64(us.size))
		}
	}

	panic(fmt.Sprintf("unknown data unit: %s", unit))
}

// FmtBytes combines BytesToUnit with FindBestUnit.
func FmtBytes[T num16Plus](count T) string {
	unit := FindBestUnit(count)
	return BytesToUnit(count, unit) + " " + string(unit)
}
