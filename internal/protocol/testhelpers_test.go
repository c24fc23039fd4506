package protocol

import (
	"strconv"
	"strings"
)

func itoa[T ~uint32](v T) string   { return strconv.FormatUint(uint64(v), 10) }
func utoa[T ~uint64](v T) string   { return strconv.FormatUint(uint64(v), 10) }
func joinMoves(pv []string) string { return strings.Join(pv, " ") }

func scoreTag(s Score) string {
	if s.Mate {
		return "mate " + strconv.FormatInt(int64(s.Value), 10)
	}
	return "cp " + strconv.FormatInt(int64(s.Value), 10)
}
