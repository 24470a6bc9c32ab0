package mock

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filecoin-project/custody-actors/actors/runtime"
)

// Checks that every method exported by an actor has the signature the ledger dispatches to:
// a runtime and a pointer to CBOR-unmarshalable params, returning a single CBOR-marshalable value.
func CheckActorExports(t *testing.T, act runtime.VMActor) {
	exports := act.Exports()
	require.NotEmpty(t, exports, "actor exports no methods")
	for i, m := range exports {
		if m == nil {
			continue
		}
		meth := reflect.ValueOf(m)
		typ := meth.Type()
		if !assert.Equal(t, reflect.Func, typ.Kind(), "export %d is not a function", i) {
			continue
		}
		if !assert.Equal(t, 2, typ.NumIn(), "export %d must take two parameters", i) {
			continue
		}
		assert.Equal(t, typeOfRuntimeInterface, typ.In(0), "export %d first parameter must be runtime", i)
		assert.Equal(t, reflect.Ptr, typ.In(1).Kind(), "export %d params must be a pointer", i)
		assert.True(t, typ.In(1).Implements(typeOfCborUnmarshaler), "export %d params must be CBOR-unmarshalable", i)
		if assert.Equal(t, 1, typ.NumOut(), "export %d must return a single value", i) {
			assert.True(t, typ.Out(0).Implements(typeOfCborMarshaler), "export %d return must be CBOR-marshalable", i)
		}
	}
}
