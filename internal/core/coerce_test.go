package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerceQuantity(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want int64
		kind Kind
	}{
		{"int", 10, 10, ""},
		{"float from json", float64(3), 3, ""},
		{"numeric string", " 7 ", 7, ""},
		{"json number", json.Number("12"), 12, ""},
		{"json number past float precision", json.Number("9007199254740993"), 9007199254740993, ""},
		{"decimal string with zero fraction", "4.0", 4, ""},
		{"missing", nil, 0, KindValidation},
		{"blank", "  ", 0, KindValidation},
		{"not a number", "ten", 0, KindValidation},
		{"fractional", 2.5, 0, KindValidation},
		{"zero", 0, 0, KindValidation},
		{"negative", "-3", 0, KindValidation},
		{"too large", "99999999999999999999", 0, KindNumeric},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := coerceQuantity("Widget", tc.in)
			if tc.kind != "" {
				require.Error(t, err)
				assert.Equal(t, tc.kind, KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCoercePrice(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want string
		kind Kind
	}{
		{"missing is zero", nil, "0", ""},
		{"blank is zero", "", "0", ""},
		{"float", 5.25, "5.25", ""},
		{"string", "7.10", "7.1", ""},
		{"json number keeps every digit", json.Number("19.999999999999999999"), "19.999999999999999999", ""},
		{"int", 20, "20", ""},
		{"garbage", "cheap", "", KindValidation},
		{"negative", -1, "", KindValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := coercePrice("Widget", tc.in)
			if tc.kind != "" {
				require.Error(t, err)
				assert.Equal(t, tc.kind, KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Truef(t, dec(tc.want).Equal(got), "want %s, got %s", tc.want, got)
		})
	}
}
