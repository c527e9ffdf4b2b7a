package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/life2you_mini/bridgesync/internal/model"
)

// Redis 键常量，实际键名带配置的前缀
const (
	// 账户相关
	keyAccountPrefix  = "accounts:"
	keyAccountIndex   = "accounts:index"
	keyBridgeAccounts = "bridge:%s:accounts"

	// 成交相关
	keyDealPrefix     = "deals:"
	keyDealTimeSuffix = ":by_time"

	// 告警相关
	keyAlertHistory = "alerts:history"
	keyAlertData    = "alerts:data"
)

// RedisStorage Redis存储实现
type RedisStorage struct {
	client    *redis.Client
	prefix    string
	opTimeout time.Duration
	logger    *zap.Logger
}

// NewRedisStorage 创建Redis存储
func NewRedisStorage(client *redis.Client, prefix string, opTimeout time.Duration, logger *zap.Logger) *RedisStorage {
	return &RedisStorage{
		client:    client,
		prefix:    prefix,
		opTimeout: opTimeout,
		logger:    logger.With(zap.String("component", "redis_storage")),
	}
}

// Initialize 初始化Redis存储
func (s *RedisStorage) Initialize(ctx context.Context) error {
	// 测试连接
	if err := s.Health(ctx); err != nil {
		s.logger.Error("Redis连接失败", zap.Error(err))
		return fmt.Errorf("redis连接失败: %w", err)
	}

	s.logger.Info("Redis存储初始化成功")
	return nil
}

// Close 关闭Redis连接
func (s *RedisStorage) Close(ctx context.Context) error {
	if err := s.client.Close(); err != nil {
		s.logger.Error("关闭Redis连接失败", zap.Error(err))
		return fmt.Errorf("关闭Redis连接失败: %w", err)
	}

	s.logger.Info("Redis连接已关闭")
	return nil
}

// Health 检查Redis健康状态
func (s *RedisStorage) Health(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

func (s *RedisStorage) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *RedisStorage) key(k string) string {
	return s.prefix + k
}

func (s *RedisStorage) accountKey(account int64) string {
	return s.key(keyAccountPrefix + strconv.FormatInt(account, 10))
}

func (s *RedisStorage) bridgeKey(bridgeID string) string {
	return s.key(fmt.Sprintf(keyBridgeAccounts, bridgeID))
}

func (s *RedisStorage) dealKey(account int64) string {
	return s.key(keyDealPrefix + strconv.FormatInt(account, 10))
}

func (s *RedisStorage) dealTimeKey(account int64) string {
	return s.dealKey(account) + keyDealTimeSuffix
}

// UpsertAccount 写入账户运营字段，分类字段保持不变
func (s *RedisStorage) UpsertAccount(ctx context.Context, snapshot *model.AccountSnapshot) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	key := s.accountKey(snapshot.Account)

	// 账号换桥时需要从旧索引中移除
	prevBridge, err := s.client.HGet(ctx, key, model.FieldBridgeID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("读取账户 %d 失败: %w", snapshot.Account, err)
	}

	fields := make(map[string]interface{}, 12)
	for k, v := range snapshot.OperationalFields() {
		if model.IsClassificationField(k) {
			continue
		}
		fields[k] = encodeHashValue(v)
	}
	fields[model.FieldAccount] = snapshot.Account

	// 使用事务保证账户数据与同步时间同一次写入
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.SAdd(ctx, s.key(keyAccountIndex), snapshot.Account)
	pipe.SAdd(ctx, s.bridgeKey(snapshot.BridgeID), snapshot.Account)
	if prevBridge != "" && prevBridge != snapshot.BridgeID {
		pipe.SRem(ctx, s.bridgeKey(prevBridge), snapshot.Account)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("写入账户 %d 失败: %w", snapshot.Account, err)
	}
	return nil
}

// GetAccount 获取单个账户
func (s *RedisStorage) GetAccount(ctx context.Context, account int64) (*model.AccountSnapshot, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	values, err := s.client.HGetAll(ctx, s.accountKey(account)).Result()
	if err != nil {
		return nil, fmt.Errorf("获取账户 %d 失败: %w", account, err)
	}
	if len(values) == 0 {
		return nil, ErrNotFound
	}
	return decodeAccount(values)
}

// ListAccounts 获取全部账户，按账号排序
func (s *RedisStorage) ListAccounts(ctx context.Context) ([]*model.AccountSnapshot, error) {
	return s.listAccountsFromSet(ctx, s.key(keyAccountIndex))
}

// ListAccountsByBridge 获取桥接下的账户
func (s *RedisStorage) ListAccountsByBridge(ctx context.Context, bridgeID string) ([]*model.AccountSnapshot, error) {
	return s.listAccountsFromSet(ctx, s.bridgeKey(bridgeID))
}

func (s *RedisStorage) listAccountsFromSet(ctx context.Context, setKey string) ([]*model.AccountSnapshot, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	members, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("获取账户索引失败: %w", err)
	}
	if len(members) == 0 {
		return []*model.AccountSnapshot{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, 0, len(members))
	for _, m := range members {
		cmds = append(cmds, pipe.HGetAll(ctx, s.key(keyAccountPrefix+m)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("批量获取账户失败: %w", err)
	}

	accounts := make([]*model.AccountSnapshot, 0, len(cmds))
	for i, cmd := range cmds {
		values := cmd.Val()
		if len(values) == 0 {
			continue
		}
		acc, err := decodeAccount(values)
		if err != nil {
			s.logger.Warn("解析账户数据失败", zap.String("account", members[i]), zap.Error(err))
			continue
		}
		accounts = append(accounts, acc)
	}

	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Account < accounts[j].Account })
	return accounts, nil
}

// CountAccountsByBridge 统计桥接下的账户数
func (s *RedisStorage) CountAccountsByBridge(ctx context.Context, bridgeID string) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.client.SCard(ctx, s.bridgeKey(bridgeID)).Result()
	if err != nil {
		return 0, fmt.Errorf("统计桥接 %s 账户数失败: %w", bridgeID, err)
	}
	return int(n), nil
}

// LastSyncByBridge 桥接下最近一次同步时间
func (s *RedisStorage) LastSyncByBridge(ctx context.Context, bridgeID string) (time.Time, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	members, err := s.client.SMembers(ctx, s.bridgeKey(bridgeID)).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("获取桥接 %s 账户索引失败: %w", bridgeID, err)
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, 0, len(members))
	for _, m := range members {
		cmds = append(cmds, pipe.HGet(ctx, s.key(keyAccountPrefix+m), model.FieldLastSyncTimestamp))
	}
	if len(cmds) > 0 {
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return time.Time{}, fmt.Errorf("获取桥接 %s 同步时间失败: %w", bridgeID, err)
		}
	}

	var latest time.Time
	for _, cmd := range cmds {
		raw, err := cmd.Result()
		if err != nil {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			s.logger.Warn("解析同步时间失败", zap.String("bridge_id", bridgeID), zap.String("value", raw))
			continue
		}
		if ts.After(latest) {
			latest = ts
		}
	}
	return latest, nil
}

// InsertDeals 不存在才写入成交记录
func (s *RedisStorage) InsertDeals(ctx context.Context, deals []*model.Deal) (int, error) {
	if len(deals) == 0 {
		return 0, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	pipe := s.client.TxPipeline()
	cmds := make([]*redis.BoolCmd, 0, len(deals))
	for _, d := range deals {
		data, err := json.Marshal(d)
		if err != nil {
			return 0, fmt.Errorf("序列化成交 %s 失败: %w", d.Key(), err)
		}
		ticket := strconv.FormatInt(d.Ticket, 10)
		cmds = append(cmds, pipe.HSetNX(ctx, s.dealKey(d.Account), ticket, data))
		pipe.ZAddNX(ctx, s.dealTimeKey(d.Account), redis.Z{
			Score:  float64(d.Time.UnixMilli()),
			Member: ticket,
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("写入成交记录失败: %w", err)
	}

	inserted := 0
	for _, cmd := range cmds {
		if cmd.Val() {
			inserted++
		}
	}
	return inserted, nil
}

// LatestDealTime 账号最新成交时间
func (s *RedisStorage) LatestDealTime(ctx context.Context, account int64) (time.Time, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tickets, err := s.client.ZRevRange(ctx, s.dealTimeKey(account), 0, 0).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("获取账户 %d 最新成交失败: %w", account, err)
	}
	if len(tickets) == 0 {
		return time.Time{}, nil
	}

	raw, err := s.client.HGet(ctx, s.dealKey(account), tickets[0]).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("获取成交 %s 失败: %w", tickets[0], err)
	}
	var d model.Deal
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return time.Time{}, fmt.Errorf("解析成交 %s 失败: %w", tickets[0], err)
	}
	return d.Time, nil
}

// ListDeals 按时间升序返回成交
func (s *RedisStorage) ListDeals(ctx context.Context, account int64, since time.Time) ([]*model.Deal, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	minScore := "-inf"
	if !since.IsZero() {
		minScore = strconv.FormatInt(since.UnixMilli(), 10)
	}
	tickets, err := s.client.ZRangeByScore(ctx, s.dealTimeKey(account), &redis.ZRangeBy{
		Min: minScore,
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("获取账户 %d 成交索引失败: %w", account, err)
	}
	if len(tickets) == 0 {
		return []*model.Deal{}, nil
	}

	values, err := s.client.HMGet(ctx, s.dealKey(account), tickets...).Result()
	if err != nil {
		return nil, fmt.Errorf("获取账户 %d 成交失败: %w", account, err)
	}

	deals := make([]*model.Deal, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			s.logger.Warn("成交索引存在但数据缺失", zap.Int64("account", account), zap.String("ticket", tickets[i]))
			continue
		}
		var d model.Deal
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			s.logger.Warn("解析成交数据失败", zap.Error(err), zap.String("data", raw))
			continue
		}
		if d.Time.Before(since) {
			continue
		}
		deals = append(deals, &d)
	}
	return deals, nil
}

// AppendAlert 追加告警（使用有序集合，按时间排序）
func (s *RedisStorage) AppendAlert(ctx context.Context, alert *model.Alert) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("序列化告警失败: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSetNX(ctx, s.key(keyAlertData), alert.ID, data)
	pipe.ZAddNX(ctx, s.key(keyAlertHistory), redis.Z{
		Score:  float64(alert.Timestamp.UnixMilli()),
		Member: alert.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("写入告警失败: %w", err)
	}
	return nil
}

// ListAlerts 查询告警历史，按时间倒序
func (s *RedisStorage) ListAlerts(ctx context.Context, query AlertQuery) ([]*model.Alert, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	minScore := "-inf"
	if !query.Since.IsZero() {
		minScore = strconv.FormatInt(query.Since.UnixMilli(), 10)
	}
	ids, err := s.client.ZRevRangeByScore(ctx, s.key(keyAlertHistory), &redis.ZRangeBy{
		Min: minScore,
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("获取告警历史失败: %w", err)
	}
	if len(ids) == 0 {
		return []*model.Alert{}, nil
	}

	values, err := s.client.HMGet(ctx, s.key(keyAlertData), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("获取告警数据失败: %w", err)
	}

	alerts := make([]*model.Alert, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var a model.Alert
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			s.logger.Warn("解析告警数据失败", zap.Error(err), zap.String("data", raw))
			continue
		}
		if query.BridgeID != "" && a.BridgeID != query.BridgeID {
			continue
		}
		alerts = append(alerts, &a)
	}
	return alerts, nil
}

// AcknowledgeAlert 确认告警
func (s *RedisStorage) AcknowledgeAlert(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	raw, err := s.client.HGet(ctx, s.key(keyAlertData), id).Result()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("获取告警 %s 失败: %w", id, err)
	}

	var a model.Alert
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return fmt.Errorf("解析告警 %s 失败: %w", id, err)
	}
	a.Acknowledged = true

	data, err := json.Marshal(&a)
	if err != nil {
		return fmt.Errorf("序列化告警失败: %w", err)
	}
	return s.client.HSet(ctx, s.key(keyAlertData), id, data).Err()
}

// PruneAlerts 删除 before 之前的告警
func (s *RedisStorage) PruneAlerts(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	maxScore := "(" + strconv.FormatInt(before.UnixMilli(), 10)
	ids, err := s.client.ZRangeByScore(ctx, s.key(keyAlertHistory), &redis.ZRangeBy{
		Min: "-inf",
		Max: maxScore,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("获取过期告警失败: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, s.key(keyAlertHistory), "-inf", maxScore)
	pipe.HDel(ctx, s.key(keyAlertData), ids...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("清理过期告警失败: %w", err)
	}
	return int64(len(ids)), nil
}

// encodeHashValue 统一哈希字段编码，时间使用 RFC3339Nano（UTC）
func encodeHashValue(v interface{}) interface{} {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return t
	}
}

// decodeAccount 解析账户哈希
func decodeAccount(values map[string]string) (*model.AccountSnapshot, error) {
	acc := &model.AccountSnapshot{
		BridgeID:    values[model.FieldBridgeID],
		Broker:      values[model.FieldBroker],
		Platform:    values[model.FieldPlatform],
		Server:      values[model.FieldServer],
		Currency:    values[model.FieldCurrency],
		Status:      values[model.FieldStatus],
		FundType:    values[model.FieldFundType],
		ManagerName: values[model.FieldManagerName],
	}

	var err error
	if acc.Account, err = strconv.ParseInt(values[model.FieldAccount], 10, 64); err != nil {
		return nil, fmt.Errorf("无效账号 %q: %w", values[model.FieldAccount], err)
	}

	floats := map[string]*float64{
		model.FieldBalance:    &acc.Balance,
		model.FieldEquity:     &acc.Equity,
		model.FieldMargin:     &acc.Margin,
		model.FieldFreeMargin: &acc.FreeMargin,
	}
	for field, dst := range floats {
		raw, ok := values[field]
		if !ok || raw == "" {
			continue
		}
		if *dst, err = strconv.ParseFloat(raw, 64); err != nil {
			return nil, fmt.Errorf("字段 %s 无效: %w", field, err)
		}
	}

	if raw, ok := values[model.FieldPositionsCount]; ok && raw != "" {
		if acc.PositionsCount, err = strconv.Atoi(raw); err != nil {
			return nil, fmt.Errorf("字段 %s 无效: %w", model.FieldPositionsCount, err)
		}
	}

	if raw, ok := values[model.FieldInitialAllocation]; ok && raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("字段 %s 无效: %w", model.FieldInitialAllocation, err)
		}
		acc.InitialAllocation = &v
	}

	if raw, ok := values[model.FieldLastSyncTimestamp]; ok && raw != "" {
		if acc.LastSyncTimestamp, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return nil, fmt.Errorf("字段 %s 无效: %w", model.FieldLastSyncTimestamp, err)
		}
	}

	return acc, nil
}
