package serializers

import (
	"context"
	"math/big"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

var reflectZero = reflect.Value{}

func TestU256Serializer_RejectsNegative(t *testing.T) {
	_, err := U256Serializer{}.Value(context.Background(), nil, reflectZero, big.NewInt(-1))
	require.ErrorIs(t, err, errNegative)
}

func TestU256Serializer_Overflow(t *testing.T) {
	v := new(big.Int).Lsh(big.NewInt(1), 256)
	_, err := U256Serializer{}.Value(context.Background(), nil, reflectZero, v)
	require.Error(t, err)
}

func TestInt256Serializer_AllowsNegative(t *testing.T) {
	v, err := Int256Serializer{}.Value(context.Background(), nil, reflectZero, big.NewInt(-952380))
	require.NoError(t, err)
	require.Equal(t, "-952380", v)
}

func TestU256Serializer_NilIsNull(t *testing.T) {
	var n *big.Int
	v, err := U256Serializer{}.Value(context.Background(), nil, reflectZero, n)
	require.NoError(t, err)
	require.Nil(t, v)
}
