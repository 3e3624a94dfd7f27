package service

import (
	"errors"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wjorgensen/StreamDroplets/database/utils"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

type Validator struct{}

func (v *Validator) ParseValidateAddress(addr string) (common.Address, error) {
	if !common.IsHexAddress(addr) {
		return common.Address{}, errors.New("address must be represented as a valid hexadecimal string")
	}
	parsed := common.HexToAddress(addr)
	if parsed == (common.Address{}) {
		return common.Address{}, errors.New("address cannot be the zero address")
	}
	return parsed, nil
}

func (v *Validator) ParseValidateDate(s string) (time.Time, error) {
	t, err := time.Parse(utils.DateLayout, s)
	if err != nil {
		return time.Time{}, errors.New("date must be formatted as YYYY-MM-DD")
	}
	return utils.Day(t), nil
}

func (v *Validator) ValidateLimit(s string) (int, error) {
	if s == "" {
		return defaultEventLimit, nil
	}
	limit, err := strconv.Atoi(s)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}
	return limit, nil
}
