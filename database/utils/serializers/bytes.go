package serializers

import (
	"context"
	"fmt"
	"reflect"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"gorm.io/gorm/schema"
)

// BytesInterface is satisfied by common.Address, common.Hash and friends.
type BytesInterface interface{ Bytes() []byte }

// SetBytesInterface is satisfied by pointers to common.Address, common.Hash and friends.
type SetBytesInterface interface{ SetBytes([]byte) }

// BytesSerializer stores fixed or variable length byte values as a
// lowercase 0x-prefixed hex string.
type BytesSerializer struct{}

func init() {
	schema.RegisterSerializer("bytes", BytesSerializer{})
}

func (BytesSerializer) Scan(ctx context.Context, field *schema.Field, dst reflect.Value, dbValue interface{}) error {
	if dbValue == nil {
		return nil
	}

	var hexStr string
	switch v := dbValue.(type) {
	case string:
		hexStr = v
	case []byte:
		hexStr = string(v)
	default:
		return fmt.Errorf("expected hex string as the database value: %T", dbValue)
	}

	b, err := hexutil.Decode(hexStr)
	if err != nil {
		return fmt.Errorf("failed to decode database value: %w", err)
	}

	fieldValue := reflect.New(field.FieldType)
	fieldInterface := fieldValue.Interface()

	// for pointer fields, fieldValue is a **T. Allocate the inner value
	if field.FieldType.Kind() == reflect.Pointer {
		nestedField := fieldValue.Elem()
		nestedField.Set(reflect.New(nestedField.Type().Elem()))
		fieldInterface = nestedField.Interface()
	}

	switch target := fieldInterface.(type) {
	case SetBytesInterface:
		target.SetBytes(b)
	case *[]byte:
		*target = b
	default:
		return fmt.Errorf("field does not satisfy the SetBytes([]byte) interface: %T", fieldInterface)
	}

	field.ReflectValueOf(ctx, dst).Set(fieldValue.Elem())
	return nil
}

func (BytesSerializer) Value(ctx context.Context, field *schema.Field, dst reflect.Value, fieldValue interface{}) (interface{}, error) {
	if fieldValue == nil || (field.FieldType.Kind() == reflect.Pointer && reflect.ValueOf(fieldValue).IsNil()) {
		return nil, nil
	}

	switch v := fieldValue.(type) {
	case BytesInterface:
		return hexutil.Encode(v.Bytes()), nil
	case []byte:
		return hexutil.Encode(v), nil
	default:
		return nil, fmt.Errorf("field does not satisfy the Bytes() interface: %T", fieldValue)
	}
}
