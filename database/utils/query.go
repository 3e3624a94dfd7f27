package utils

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DateLayout is the layout used for every DATE column.
const DateLayout = "2006-01-02"

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DateParam formats t the way DATE columns are compared in queries.
func DateParam(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// AddressParam matches the lowercase hex stored by the bytes serializer.
func AddressParam(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

func HashParam(h common.Hash) string {
	return strings.ToLower(h.Hex())
}
