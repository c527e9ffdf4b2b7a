package terminal

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// 单次 FetchMyTrades 请求的条数上限
const defaultTradePageLimit int64 = 100

// ccxtAccountAPI 用到的ccxt只读接口
type ccxtAccountAPI interface {
	FetchBalance(params ...interface{}) (ccxt.Balances, error)
	FetchMyTrades(options ...ccxt.FetchMyTradesOptions) ([]ccxt.Trade, error)
}

// CCXTCredentials 单个账号的API凭证
type CCXTCredentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

// CCXTOptions 加密货币经纪商终端参数
type CCXTOptions struct {
	Name          string
	Exchange      string
	QuoteCurrency string
	Symbols       []string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	Accounts      map[int64]CCXTCredentials
}

// CCXTClient 通过ccxt读取加密货币账户，每个账号一组API凭证
type CCXTClient struct {
	name      string
	quote     string
	symbols   []string
	timeout   time.Duration
	accounts  map[int64]ccxtAccountAPI
	pageLimit int64
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// NewCCXTClient 创建ccxt客户端
func NewCCXTClient(opts CCXTOptions, logger *zap.Logger) (*CCXTClient, error) {
	accounts := make(map[int64]ccxtAccountAPI, len(opts.Accounts))
	for login, creds := range opts.Accounts {
		api, err := newCCXTExchange(opts.Exchange, creds, opts.Timeout)
		if err != nil {
			return nil, err
		}
		accounts[login] = api
	}
	return newCCXTClient(opts, accounts, logger), nil
}

func newCCXTClient(opts CCXTOptions, accounts map[int64]ccxtAccountAPI, logger *zap.Logger) *CCXTClient {
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &CCXTClient{
		name:      opts.Name,
		quote:     strings.ToUpper(opts.QuoteCurrency),
		symbols:   opts.Symbols,
		timeout:   opts.Timeout,
		accounts:  accounts,
		pageLimit: defaultTradePageLimit,
		limiter:   rate.NewLimiter(limit, burst),
		logger:    logger.With(zap.String("terminal", opts.Name)),
	}
}

// newCCXTExchange 创建ccxt交易所实例
func newCCXTExchange(id string, creds CCXTCredentials, timeout time.Duration) (ccxtAccountAPI, error) {
	userConfig := map[string]interface{}{
		"apiKey":          creds.APIKey,
		"secret":          creds.APISecret,
		"enableRateLimit": true,
	}
	if creds.Passphrase != "" {
		userConfig["password"] = creds.Passphrase
	}
	if timeout > 0 {
		userConfig["timeout"] = timeout.Milliseconds()
	}

	switch strings.ToLower(id) {
	case "binance":
		return ccxt.NewBinance(userConfig), nil
	case "bybit":
		return ccxt.NewBybit(userConfig), nil
	default:
		return nil, fmt.Errorf("不支持的ccxt交易所: %s", id)
	}
}

// Name 终端名称
func (c *CCXTClient) Name() string {
	return c.name
}

func (c *CCXTClient) account(login int64) (ccxtAccountAPI, error) {
	api, ok := c.accounts[login]
	if !ok {
		return nil, fmt.Errorf("账号 %d 未配置API凭证", login)
	}
	return api, nil
}

// call 在超时内执行同步的ccxt调用
func (c *CCXTClient) call(ctx context.Context, op string, fn func() error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return Transient("等待限流", err)
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%s: ccxt panic: %v", op, r)
			}
		}()
		done <- fn()
	}()

	select {
	case err := <-done:
		if err != nil {
			return Transient(op, err)
		}
		return nil
	case <-ctx.Done():
		return Transient(op, ctx.Err())
	}
}

// FetchAccount 获取账户余额
func (c *CCXTClient) FetchAccount(ctx context.Context, login int64) (RawRecord, error) {
	api, err := c.account(login)
	if err != nil {
		return nil, err
	}

	var balances ccxt.Balances
	if err := c.call(ctx, "获取余额", func() error {
		var ferr error
		balances, ferr = api.FetchBalance()
		return ferr
	}); err != nil {
		return nil, err
	}

	return balanceRecord(login, c.quote, balanceTotals{
		Free:  derefMap(balances.Free),
		Used:  derefMap(balances.Used),
		Total: derefMap(balances.Total),
	}), nil
}

// FetchDeals 获取配置交易对上的成交
func (c *CCXTClient) FetchDeals(ctx context.Context, login int64, since time.Time) ([]RawRecord, error) {
	api, err := c.account(login)
	if err != nil {
		return nil, err
	}

	var fills []tradeFill
	for _, symbol := range c.symbols {
		trades, err := c.fetchSymbolTrades(ctx, api, symbol, since)
		if err != nil {
			return nil, err
		}
		for _, t := range trades {
			fills = append(fills, fillFromTrade(t))
		}
	}

	sort.Slice(fills, func(i, j int) bool { return fills[i].TimestampMs < fills[j].TimestampMs })

	records := make([]RawRecord, 0, len(fills))
	for _, f := range fills {
		records = append(records, dealRecord(login, f))
	}
	return records, nil
}

// fetchSymbolTrades 逐页拉取单个交易对的成交，直到返回不足一页
func (c *CCXTClient) fetchSymbolTrades(ctx context.Context, api ccxtAccountAPI, symbol string, since time.Time) ([]ccxt.Trade, error) {
	cursor := since.UnixMilli()
	seen := make(map[string]bool)
	var out []ccxt.Trade
	for page := 1; ; page++ {
		var trades []ccxt.Trade
		from := cursor
		if err := c.call(ctx, "获取成交", func() error {
			var ferr error
			trades, ferr = api.FetchMyTrades(
				ccxt.WithFetchMyTradesSymbol(symbol),
				ccxt.WithFetchMyTradesSince(from),
				ccxt.WithFetchMyTradesLimit(c.pageLimit),
			)
			return ferr
		}); err != nil {
			return nil, err
		}

		last, added := cursor, 0
		for _, t := range trades {
			if id := derefString(t.Id); id != "" {
				if seen[id] {
					continue
				}
				seen[id] = true
			}
			out = append(out, t)
			added++
			if t.Timestamp != nil && *t.Timestamp > last {
				last = *t.Timestamp
			}
		}

		if int64(len(trades)) < c.pageLimit || added == 0 {
			return out, nil
		}
		// 同一毫秒的成交可能跨页，游标停在最后时间点，靠ID去重
		if last <= cursor {
			last = cursor + 1
		}
		cursor = last
		c.logger.Debug("成交分页", zap.String("symbol", symbol), zap.Int("page", page), zap.Int64("cursor", cursor))
	}
}

// balanceTotals ccxt余额的解引用形式
type balanceTotals struct {
	Free  map[string]float64
	Used  map[string]float64
	Total map[string]float64
}

// tradeFill ccxt成交的解引用形式
type tradeFill struct {
	ID          string
	TimestampMs int64
	Symbol      string
	Side        string
	Price       float64
	Amount      float64
	FeeCost     *float64
}

func fillFromTrade(t ccxt.Trade) tradeFill {
	f := tradeFill{
		ID:     derefString(t.Id),
		Symbol: derefString(t.Symbol),
		Side:   derefString(t.Side),
	}
	if t.Timestamp != nil {
		f.TimestampMs = *t.Timestamp
	}
	if t.Price != nil {
		f.Price = *t.Price
	}
	if t.Amount != nil {
		f.Amount = *t.Amount
	}
	if t.Fee.Cost != nil {
		cost := *t.Fee.Cost
		f.FeeCost = &cost
	}
	return f
}

// balanceRecord 余额转换为账户记录，现货账户权益等于总额
func balanceRecord(login int64, quote string, b balanceTotals) RawRecord {
	return RawRecord{
		"login":           login,
		"currency":        quote,
		"balance":         b.Total[quote],
		"equity":          b.Total[quote],
		"margin":          b.Used[quote],
		"free_margin":     b.Free[quote],
		"positions_count": countHoldings(b.Total, quote),
	}
}

func countHoldings(total map[string]float64, quote string) int {
	n := 0
	for asset, v := range total {
		if asset != quote && v > 0 {
			n++
		}
	}
	return n
}

// dealRecord 成交转换为终端成交记录，买入为开仓，卖出为平仓
func dealRecord(login int64, f tradeFill) RawRecord {
	dealType, entry := 0, 0
	if strings.EqualFold(f.Side, "sell") {
		dealType, entry = 1, 1
	}
	rec := RawRecord{
		"ticket":   tradeTicket(f.ID),
		"login":    login,
		"time_msc": f.TimestampMs,
		"type":     dealType,
		"entry":    entry,
		"symbol":   f.Symbol,
		"volume":   f.Amount,
		"price":    f.Price,
		"profit":   0.0,
	}
	if f.FeeCost != nil {
		rec["fee"] = -*f.FeeCost
	}
	return rec
}

// tradeTicket 成交ID转为数字票据，非数字ID取FNV哈希
func tradeTicket(id string) int64 {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil && n > 0 {
		return n
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return int64(h.Sum64() & 0x7fffffffffffffff)
}

func derefMap(m map[string]*float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		if v != nil {
			out[k] = *v
		}
	}
	return out
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
