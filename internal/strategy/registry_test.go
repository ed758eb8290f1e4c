package strategy

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopStrategy struct{ params Params }

func (noopStrategy) Initialize() error { return nil }
func (noopStrategy) OnBar() error      { return nil }

func testDefinition() Definition {
	return Definition{
		Name: "noop",
		Schema: `{
			"type": "object",
			"properties": {"window": {"type": "integer", "minimum": 1}},
			"required": ["window"]
		}`,
		Defaults: Params{"window": 5},
		Check: func(p Params) error {
			if p.Int("window", 0) == 13 {
				return errors.New("unlucky")
			}
			return nil
		},
		Factory: func(_ Env, p Params) (Strategy, error) { return noopStrategy{params: p}, nil },
	}
}

func TestRegisterRejectsDuplicatesAndBadSchema(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(testDefinition()))
	assert.Error(t, reg.Register(testDefinition()))

	bad := testDefinition()
	bad.Name = "bad"
	bad.Schema = `{"type": 12}`
	assert.Error(t, reg.Register(bad))

	noFactory := testDefinition()
	noFactory.Name = "nofactory"
	noFactory.Factory = nil
	assert.Error(t, reg.Register(noFactory))

	assert.Equal(t, []string{"noop"}, reg.Names())
}

func TestResolveMergesDefaultsAndValidates(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(testDefinition()))

	p, err := reg.Resolve("noop", nil)
	require.NoError(t, err)
	assert.Equal(t, 5, p.Int("window", 0))

	p, err = reg.Resolve("noop", Params{"window": "8"})
	require.NoError(t, err)
	assert.Equal(t, 8, p.Int("window", 0))

	_, err = reg.Resolve("noop", Params{"window": 0})
	assert.ErrorIs(t, err, ErrInvalidParams)
	_, err = reg.Resolve("noop", Params{"window": 2.5})
	assert.ErrorIs(t, err, ErrInvalidParams)
	err = reg.Validate("noop", Params{"window": 13})
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = reg.Resolve("missing", nil)
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestBuildPassesIndependentParams(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(testDefinition()))

	shared := Params{"window": 3}
	s1, err := reg.Build("noop", Env{}, shared)
	require.NoError(t, err)
	shared["window"] = 9
	s2, err := reg.Build("noop", Env{}, shared)
	require.NoError(t, err)

	assert.Equal(t, 3, s1.(noopStrategy).params.Int("window", 0))
	assert.Equal(t, 9, s2.(noopStrategy).params.Int("window", 0))
}

func TestParamsAccessors(t *testing.T) {
	p := Params{
		"i":   7,
		"i64": int64(8),
		"f":   2.5,
		"num": json.Number("11"),
		"s":   " 4 ",
		"str": "abc",
	}
	assert.Equal(t, 7, p.Int("i", 0))
	assert.Equal(t, 8, p.Int("i64", 0))
	assert.Equal(t, 2, p.Int("f", 0))
	assert.Equal(t, 11, p.Int("num", 0))
	assert.Equal(t, 4, p.Int("s", 0))
	assert.Equal(t, -1, p.Int("str", -1))
	assert.Equal(t, -1, p.Int("absent", -1))
	assert.Equal(t, 2.5, p.Float("f", 0))
	assert.Equal(t, 11.0, p.Float("num", 0))
	assert.Equal(t, "abc", p.String("str", ""))
	assert.Equal(t, "7", p.String("i", ""))

	assert.Equal(t, "a=1,b=2", Params{"b": 2, "a": 1}.Key())
	merged := Params{"a": 1}.Merge(Params{"a": 2, "b": 3})
	assert.Equal(t, Params{"a": 2, "b": 3}, merged)
}

func TestSizeByCash(t *testing.T) {
	assert.Equal(t, 863.0, SizeByCash(100000, 0.95, 110))
	assert.Zero(t, SizeByCash(100000, 0.95, 0))
	assert.Zero(t, SizeByCash(-1, 0.95, 10))
}
