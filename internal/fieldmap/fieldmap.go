// Package fieldmap 内部 snake_case 字段与对外 camelCase 字段的唯一映射表
package fieldmap

import "fmt"

// Field 一条字段映射
type Field struct {
	Internal string
	External string
}

// fields 映射表，内部名和外部名都必须唯一
var fields = []Field{
	// 账户
	{"account", "accountNumber"},
	{"bridge_id", "bridgeId"},
	{"broker", "broker"},
	{"platform", "platform"},
	{"server", "server"},
	{"currency", "currency"},
	{"balance", "balance"},
	{"equity", "equity"},
	{"margin", "margin"},
	{"free_margin", "freeMargin"},
	{"positions_count", "positionsCount"},
	{"status", "status"},
	{"fund_type", "fundType"},
	{"manager_name", "managerName"},
	{"initial_allocation", "initialAllocation"},
	{"last_sync_timestamp", "lastSyncTimestamp"},

	// 成交
	{"ticket", "ticket"},
	{"time", "time"},
	{"type", "type"},
	{"entry", "entry"},
	{"symbol", "symbol"},
	{"volume", "volume"},
	{"price", "price"},
	{"profit", "profit"},
	{"commission", "commission"},
	{"swap", "swap"},
	{"fee", "fee"},
	{"position_id", "positionId"},
	{"time_msc", "timeMsc"},
	{"synced_at", "syncedAt"},

	// 视图
	{"stale", "stale"},
	{"stale_bridges", "staleBridges"},
	{"generated_at", "generatedAt"},
	{"warnings", "warnings"},
	{"funds", "funds"},
	{"managers", "managers"},
	{"accounts", "accounts"},
	{"account_count", "accountCount"},
	{"total_balance", "totalBalance"},
	{"total_equity", "totalEquity"},
	{"client_obligation", "clientObligation"},
	{"pnl", "pnl"},
	{"profile_url", "profileUrl"},
	{"fee_rate", "feeRate"},
	{"deposits", "deposits"},
	{"withdrawals", "withdrawals"},
	{"net_withdrawals", "netWithdrawals"},
	{"true_pnl", "truePnl"},
	{"totals", "totals"},
	{"trade_count", "tradeCount"},
	{"wins", "wins"},
	{"losses", "losses"},
	{"win_rate", "winRate"},
	{"gross_profit", "grossProfit"},
	{"gross_loss", "grossLoss"},
	{"net_profit", "netProfit"},
	{"volume_by_symbol", "volumeBySymbol"},
}

// valueKeyed 值是以数据为键的映射（如交易对），其键名不做转换
var valueKeyed = map[string]bool{
	"volume_by_symbol": true,
	"volumeBySymbol":   true,
}

var (
	toExternal map[string]string
	toInternal map[string]string
)

func init() {
	var err error
	toExternal, toInternal, err = build(fields)
	if err != nil {
		panic(err)
	}
}

// build 构建双向索引，映射不是双射时返回错误
func build(table []Field) (map[string]string, map[string]string, error) {
	ext := make(map[string]string, len(table))
	in := make(map[string]string, len(table))
	for _, f := range table {
		if f.Internal == "" || f.External == "" {
			return nil, nil, fmt.Errorf("字段映射存在空名称: %+v", f)
		}
		if prev, ok := ext[f.Internal]; ok {
			return nil, nil, fmt.Errorf("内部字段 %s 重复映射: %s, %s", f.Internal, prev, f.External)
		}
		if prev, ok := in[f.External]; ok {
			return nil, nil, fmt.Errorf("外部字段 %s 重复映射: %s, %s", f.External, prev, f.Internal)
		}
		ext[f.Internal] = f.External
		in[f.External] = f.Internal
	}
	return ext, in, nil
}

// Fields 返回映射表副本
func Fields() []Field {
	out := make([]Field, len(fields))
	copy(out, fields)
	return out
}

// ExternalName 内部名转外部名，未知字段原样返回
func ExternalName(internal string) string {
	if v, ok := toExternal[internal]; ok {
		return v
	}
	return internal
}

// InternalName 外部名转内部名，未知字段原样返回
func InternalName(external string) string {
	if v, ok := toInternal[external]; ok {
		return v
	}
	return external
}

// ToExternal 递归转换记录中的键名
func ToExternal(v interface{}) interface{} {
	return rename(v, ExternalName)
}

// ToInternal 递归转换记录中的键名
func ToInternal(v interface{}) interface{} {
	return rename(v, InternalName)
}

func rename(v interface{}, name func(string) string) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			if inner, ok := val.(map[string]interface{}); ok && valueKeyed[k] {
				out[name(k)] = keepKeys(inner, name)
				continue
			}
			out[name(k)] = rename(val, name)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = rename(val, name)
		}
		return out
	default:
		return v
	}
}

// keepKeys 保留数据键，只转换其值
func keepKeys(m map[string]interface{}, name func(string) string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, val := range m {
		out[k] = rename(val, name)
	}
	return out
}
