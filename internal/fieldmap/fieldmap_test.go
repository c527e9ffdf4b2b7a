package fieldmap

import (
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/life2you_mini/bridgesync/internal/model"
	"github.com/life2you_mini/bridgesync/internal/views"
)

func TestBuildRejectsNonBijectiveTable(t *testing.T) {
	_, _, err := build([]Field{{"a", "x"}, {"b", "x"}})
	assert.Error(t, err)

	_, _, err = build([]Field{{"a", "x"}, {"a", "y"}})
	assert.Error(t, err)

	_, _, err = build([]Field{{"a", ""}})
	assert.Error(t, err)
}

func TestEveryCanonicalFieldIsMapped(t *testing.T) {
	for _, typ := range []reflect.Type{
		reflect.TypeOf(model.AccountSnapshot{}),
		reflect.TypeOf(model.Deal{}),
		reflect.TypeOf(views.FundPortfolio{}),
		reflect.TypeOf(views.FundRow{}),
		reflect.TypeOf(views.ManagerView{}),
		reflect.TypeOf(views.ManagerRow{}),
		reflect.TypeOf(views.CashFlow{}),
		reflect.TypeOf(views.CashFlowRow{}),
		reflect.TypeOf(views.CashFlowTotals{}),
		reflect.TypeOf(views.TradingAnalytics{}),
		reflect.TypeOf(views.AccountTrading{}),
	} {
		for _, tag := range jsonTags(typ) {
			_, ok := toExternal[tag]
			assert.True(t, ok, "%s.%s 未在映射表中", typ.Name(), tag)
		}
	}
}

// jsonTags 收集结构体的 json 键名，展开匿名嵌入字段
func jsonTags(typ reflect.Type) []string {
	var tags []string
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := strings.Split(f.Tag.Get("json"), ",")[0]
		if f.Anonymous && tag == "" {
			tags = append(tags, jsonTags(f.Type)...)
			continue
		}
		if tag == "" || tag == "-" {
			continue
		}
		tags = append(tags, tag)
	}
	return tags
}

func TestRoundTrip(t *testing.T) {
	for _, f := range Fields() {
		assert.Equal(t, f.Internal, InternalName(ExternalName(f.Internal)))
		assert.Equal(t, f.External, ExternalName(InternalName(f.External)))
	}

	record := map[string]interface{}{
		"account":             float64(1001),
		"free_margin":         12.5,
		"last_sync_timestamp": "2024-01-01T00:00:00Z",
		"custom_key":          "kept",
		"accounts": []interface{}{
			map[string]interface{}{"fund_type": "FX", "total_equity": "10"},
		},
	}

	external := ToExternal(record).(map[string]interface{})
	assert.Contains(t, external, "accountNumber")
	assert.Contains(t, external, "freeMargin")
	assert.Contains(t, external, "custom_key")
	nested := external["accounts"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "FX", nested["fundType"])

	require.Equal(t, record, ToInternal(external))
}

func TestUnknownKeysPassThrough(t *testing.T) {
	assert.Equal(t, "somethingElse", ExternalName("somethingElse"))
	assert.Equal(t, "some_thing", InternalName("some_thing"))
	assert.Equal(t, 42, ToExternal(42))
}

func TestSymbolKeysAreNotRenamed(t *testing.T) {
	record := map[string]interface{}{
		"net_profit": "12.5",
		"volume_by_symbol": map[string]interface{}{
			"time":   "1.5",
			"type":   "2",
			"EURUSD": "3",
		},
	}

	external := ToExternal(record).(map[string]interface{})
	volumes := external["volumeBySymbol"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"time": "1.5", "type": "2", "EURUSD": "3"}, volumes)
	assert.Equal(t, "12.5", external["netProfit"])

	require.Equal(t, record, ToInternal(external))
}
