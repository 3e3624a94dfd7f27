package serializers

import (
	"context"
	"fmt"
	"math/big"
	"reflect"

	"gorm.io/gorm/schema"
)

var (
	errNegative = fmt.Errorf("u256 serializer: negative value")
	maxUint256  = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	minInt256   = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 255))
	maxInt256   = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(1))
)

// U256Serializer stores a *big.Int in a NUMERIC column and rejects values
// outside [0, 2^256).
type U256Serializer struct{}

// Int256Serializer is U256Serializer for signed deltas in [-2^255, 2^255).
type Int256Serializer struct{}

func init() {
	schema.RegisterSerializer("u256", U256Serializer{})
	schema.RegisterSerializer("int256", Int256Serializer{})
}

func (U256Serializer) Scan(ctx context.Context, field *schema.Field, dst reflect.Value, dbValue interface{}) error {
	return scanBigInt(ctx, field, dst, dbValue)
}

func (U256Serializer) Value(_ context.Context, _ *schema.Field, _ reflect.Value, fieldValue interface{}) (interface{}, error) {
	n, err := asBigInt(fieldValue)
	if err != nil || n == nil {
		return nil, err
	}
	if n.Sign() < 0 {
		return nil, errNegative
	}
	if n.Cmp(maxUint256) > 0 {
		return nil, fmt.Errorf("u256 serializer: value overflows 256 bits")
	}
	return n.String(), nil
}

func (Int256Serializer) Scan(ctx context.Context, field *schema.Field, dst reflect.Value, dbValue interface{}) error {
	return scanBigInt(ctx, field, dst, dbValue)
}

func (Int256Serializer) Value(_ context.Context, _ *schema.Field, _ reflect.Value, fieldValue interface{}) (interface{}, error) {
	n, err := asBigInt(fieldValue)
	if err != nil || n == nil {
		return nil, err
	}
	if n.Cmp(minInt256) < 0 || n.Cmp(maxInt256) > 0 {
		return nil, fmt.Errorf("int256 serializer: value overflows 256 bits")
	}
	return n.String(), nil
}

func asBigInt(fieldValue interface{}) (*big.Int, error) {
	if fieldValue == nil {
		return nil, nil
	}
	n, ok := fieldValue.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("expected *big.Int, got %T", fieldValue)
	}
	return n, nil
}

func scanBigInt(ctx context.Context, field *schema.Field, dst reflect.Value, dbValue interface{}) error {
	if dbValue == nil {
		return nil
	}
	var s string
	switch v := dbValue.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	case int64:
		field.ReflectValueOf(ctx, dst).Set(reflect.ValueOf(big.NewInt(v)))
		return nil
	default:
		return fmt.Errorf("unexpected numeric database value: %T", dbValue)
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("failed to parse numeric %q", s)
	}
	field.ReflectValueOf(ctx, dst).Set(reflect.ValueOf(n))
	return nil
}
