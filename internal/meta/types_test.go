package meta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringType_Equality(t *testing.T) {
	st := StringType{}

	assert.True(t, st.IsEqual("a", "a"))
	assert.False(t, st.IsEqual("a", "b"))
	assert.True(t, st.IsEqual(nil, nil))
	assert.False(t, st.IsEqual("a", nil))
	assert.False(t, st.IsEqual(nil, "a"))
}

func TestInt64Type_Equality(t *testing.T) {
	it := Int64Type{}

	assert.True(t, it.IsEqual(int64(7), int64(7)))
	assert.False(t, it.IsEqual(int64(7), int64(8)))

	// int and int64 never compare equal - vectors must be normalized
	// to int64 before comparison.
	assert.False(t, it.IsEqual(7, int64(7)))
}

func TestTimeType_IgnoresLocation(t *testing.T) {
	tt := TimeType{}

	utc := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	other := utc.In(time.FixedZone("X", 3600))

	assert.True(t, tt.IsEqual(utc, other))
	assert.False(t, tt.IsEqual(utc, utc.Add(time.Second)))
}

func TestBytesType_CopiesOnDeepCopy(t *testing.T) {
	bt := BytesType{}

	orig := []byte{1, 2, 3}
	cp := bt.DeepCopy(orig).([]byte)
	orig[0] = 9

	assert.Equal(t, []byte{1, 2, 3}, cp, "snapshot must not alias the live slice")
	assert.True(t, bt.IsEqual([]byte{1, 2}, []byte{1, 2}))
	assert.False(t, bt.IsEqual([]byte{1, 2}, []byte{2, 1}))
}

func TestEntityType_IdentityEquality(t *testing.T) {
	et := EntityType{AssociatedEntity: "Order"}

	a := &struct{ id int64 }{1}
	b := &struct{ id int64 }{1}

	assert.True(t, et.IsEqual(a, a))
	assert.False(t, et.IsEqual(a, b), "distinct instances are never equal")
	assert.True(t, et.IsEqual(nil, nil))
}

func TestTypeByName(t *testing.T) {
	for _, name := range []string{"string", "int64", "bool", "time", "bytes"} {
		typ, ok := TypeByName(name)
		require.True(t, ok, name)
		assert.Equal(t, name, typ.Name())
	}

	_, ok := TypeByName("decimal")
	assert.False(t, ok)
}

func TestCounterVersion_Next(t *testing.T) {
	vt := CounterVersionType{}

	assert.Equal(t, int64(1), vt.Seed())
	assert.Equal(t, int64(2), vt.Next(int64(1)))
	assert.Equal(t, int64(1), vt.Next(nil), "missing version restarts the counter")
	assert.False(t, vt.IsEqual(int64(1), vt.Next(int64(1))))
}

func TestTimestampVersion_NextAlwaysAdvances(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	vt := TimestampVersionType{Now: func() time.Time { return fixed }}

	cur := vt.Seed().(time.Time)
	next := vt.Next(cur).(time.Time)

	assert.True(t, next.After(cur), "next version must differ even with a frozen clock")
}

func TestVersionTypeByName(t *testing.T) {
	_, ok := VersionTypeByName("counter")
	assert.True(t, ok)
	_, ok = VersionTypeByName("timestamp")
	assert.True(t, ok)
	_, ok = VersionTypeByName("uuid")
	assert.False(t, ok)
}
