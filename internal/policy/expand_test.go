package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const testNow = int64(1_700_000_000)

func TestParseSpec(t *testing.T) {
	spec, err := ParseSpec("1, 2,3,4,5,6,7,*,30,*,365,?")
	require.NoError(t, err)
	require.Len(t, spec, 12)
	assert.Equal(t, Entry{Days: 7}, spec[6])
	assert.Equal(t, Entry{Marker: MarkerRepeat}, spec[7])
	assert.Equal(t, Entry{Marker: MarkerRepeatIfExists}, spec[11])
	assert.Equal(t, "1,2,3,4,5,6,7,*,30,*,365,?", spec.String())
}

func TestParseSpecInvalid(t *testing.T) {
	tests := map[string]string{
		"empty":          "",
		"leading marker": "*,7",
		"zero":           "0,7",
		"not increasing": "7,7",
		"decreasing":     "30,7",
		"garbage":        "1,x",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSpec(input)
			assert.ErrorIs(t, err, ErrInvalidSpec)
		})
	}
}

func TestSpecYAML(t *testing.T) {
	var doc struct {
		Policy Spec `yaml:"policy"`
	}
	err := yaml.Unmarshal([]byte(`policy: [1, 7, "*", 30, "?"]`), &doc)
	require.NoError(t, err)
	assert.Equal(t, Spec{{Days: 1}, {Days: 7}, {Marker: '*'}, {Days: 30}, {Marker: '?'}}, doc.Policy)

	out, err := yaml.Marshal(doc)
	require.NoError(t, err)
	var back struct {
		Policy Spec `yaml:"policy"`
	}
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, doc.Policy, back.Policy)

	err = yaml.Unmarshal([]byte(`policy: "1,2,*,30,?"`), &doc)
	require.NoError(t, err)
	assert.Equal(t, "1,2,*,30,?", doc.Policy.String())

	err = yaml.Unmarshal([]byte(`policy: "*,1"`), &doc)
	assert.ErrorIs(t, err, ErrInvalidSpec)
}

func TestExpandLiterals(t *testing.T) {
	windows := Expand(MustParseSpec("1,2,3"), 0, testNow)

	require.Len(t, windows, 3)
	for i, w := range windows {
		assert.Equal(t, i+1, w.Days)
		assert.Equal(t, testNow-int64(i+1)*SecondsPerDay, w.Cutoff)
		assert.False(t, w.MustExist)
	}
	assert.Equal(t, "2", windows[1].Reason)
}

func TestExpandRepeatBoundedByLiteral(t *testing.T) {
	windows := Expand(MustParseSpec("7,*,30"), 0, testNow)

	var reasons []string
	for _, w := range windows {
		reasons = append(reasons, w.Reason)
	}
	assert.Equal(t, []string{"7", "7x2*", "7x4*", "30"}, reasons)
	assert.Equal(t, 28, windows[2].Days)
}

func TestExpandRepeatEqualToNextLiteral(t *testing.T) {
	windows := Expand(MustParseSpec("7,*,28"), 0, testNow)

	var days []int
	for _, w := range windows {
		days = append(days, w.Days)
	}
	assert.Equal(t, []int{7, 14, 28}, days)
	assert.Equal(t, "28", windows[2].Reason)
}

func TestExpandTrailingRepeatBoundedByAge(t *testing.T) {
	// 100 days old: after = 100 + 1 + 30 = 131, so 60 and 120 fit.
	windows := Expand(MustParseSpec("30,*"), 100*SecondsPerDay, testNow)

	require.Len(t, windows, 3)
	assert.Equal(t, "30x2*", windows[1].Reason)
	assert.Equal(t, "30x4*", windows[2].Reason)
	assert.Equal(t, 120, windows[2].Days)

	// Young data produces no repeat windows at all.
	windows = Expand(MustParseSpec("30,*"), 0, testNow)
	assert.Len(t, windows, 1)
}

func TestExpandDefaultSpec(t *testing.T) {
	spec := MustParseSpec("1,2,3,4,5,6,7,*,30,*,365,?")
	windows := Expand(spec, 3650*SecondsPerDay, testNow)

	var days []int
	for _, w := range windows {
		days = append(days, w.Days)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 14, 28, 30, 60, 120, 240, 365, 730, 1460, 2920}, days)

	for i := 1; i < len(windows); i++ {
		assert.Greater(t, windows[i].Days, windows[i-1].Days)
		assert.Less(t, windows[i].Cutoff, windows[i-1].Cutoff)
	}

	bases := map[string]int{"*": 0, "?": 0}
	for _, w := range windows {
		if w.Days == 14 || w.Days == 28 {
			assert.Zero(t, w.Days%7)
			assert.True(t, isPowerOfTwo(w.Days/7), "days %d", w.Days)
		}
		if w.Days > 30 && w.Days < 365 {
			assert.True(t, isPowerOfTwo(w.Days/30), "days %d", w.Days)
		}
		if w.Days > 365 {
			assert.True(t, w.MustExist, "window %s", w.Reason)
			assert.True(t, isPowerOfTwo(w.Days/365), "days %d", w.Days)
			bases["?"]++
		} else {
			assert.False(t, w.MustExist, "window %s", w.Reason)
		}
	}
	assert.Equal(t, 3, bases["?"])
}

func TestExpandDeterministic(t *testing.T) {
	spec := MustParseSpec("1,7,*,30,*,365,?")
	a := Expand(spec, 2000*SecondsPerDay, testNow)
	b := Expand(spec, 2000*SecondsPerDay, testNow)
	assert.Equal(t, a, b)
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
