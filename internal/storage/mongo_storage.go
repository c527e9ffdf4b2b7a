package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/life2you_mini/bridgesync/internal/config"
	"github.com/life2you_mini/bridgesync/internal/model"
)

// 集合名称
const (
	collectionAccounts = "accounts"
	collectionDeals    = "deals"
	collectionAlerts   = "alerts"
)

// duplicateKeyCode MongoDB唯一索引冲突错误码
const duplicateKeyCode = 11000

// MongoStorage MongoDB存储实现
type MongoStorage struct {
	client    *mongo.Client
	accounts  *mongo.Collection
	deals     *mongo.Collection
	alerts    *mongo.Collection
	opTimeout time.Duration
	logger    *zap.Logger
}

// NewMongoStorage 连接MongoDB
func NewMongoStorage(ctx context.Context, cfg config.MongoConfig, opTimeout time.Duration, logger *zap.Logger) (*MongoStorage, error) {
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(connectTimeout).
		SetServerSelectionTimeout(connectTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("连接MongoDB失败: %w", err)
	}

	return newMongoStorage(client, client.Database(cfg.Database), opTimeout, logger), nil
}

func newMongoStorage(client *mongo.Client, db *mongo.Database, opTimeout time.Duration, logger *zap.Logger) *MongoStorage {
	return &MongoStorage{
		client:    client,
		accounts:  db.Collection(collectionAccounts),
		deals:     db.Collection(collectionDeals),
		alerts:    db.Collection(collectionAlerts),
		opTimeout: opTimeout,
		logger:    logger.With(zap.String("component", "mongo_storage")),
	}
}

// Initialize 测试连接并创建索引
func (s *MongoStorage) Initialize(ctx context.Context) error {
	if err := s.Health(ctx); err != nil {
		s.logger.Error("MongoDB连接失败", zap.Error(err))
		return fmt.Errorf("mongodb连接失败: %w", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	indexes := map[*mongo.Collection][]mongo.IndexModel{
		s.accounts: {
			{Keys: bson.D{{Key: "account", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "bridge_id", Value: 1}, {Key: "last_sync_timestamp", Value: -1}}},
		},
		s.deals: {
			{Keys: bson.D{{Key: "account", Value: 1}, {Key: "ticket", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "account", Value: 1}, {Key: "time", Value: -1}}},
		},
		s.alerts: {
			{Keys: bson.D{{Key: "timestamp", Value: -1}}},
			{Keys: bson.D{{Key: "bridge_id", Value: 1}, {Key: "timestamp", Value: -1}}},
		},
	}
	for coll, models := range indexes {
		if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("创建集合 %s 索引失败: %w", coll.Name(), err)
		}
	}

	s.logger.Info("MongoDB存储初始化成功")
	return nil
}

// Close 关闭连接
func (s *MongoStorage) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		s.logger.Error("关闭MongoDB连接失败", zap.Error(err))
		return fmt.Errorf("关闭MongoDB连接失败: %w", err)
	}
	s.logger.Info("MongoDB连接已关闭")
	return nil
}

// Health 检查MongoDB健康状态
func (s *MongoStorage) Health(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.Ping(ctx, nil)
}

func (s *MongoStorage) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// accountUpsert 构造账户更新文档，$set 中只有运营字段
func accountUpsert(snapshot *model.AccountSnapshot) (bson.M, bson.M) {
	filter := bson.M{model.FieldAccount: snapshot.Account}
	set := bson.M{}
	for k, v := range snapshot.OperationalFields() {
		if model.IsClassificationField(k) {
			continue
		}
		if t, ok := v.(time.Time); ok {
			v = t.UTC()
		}
		set[k] = v
	}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{model.FieldAccount: snapshot.Account},
	}
	return filter, update
}

// UpsertAccount 按账号幂等写入
func (s *MongoStorage) UpsertAccount(ctx context.Context, snapshot *model.AccountSnapshot) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter, update := accountUpsert(snapshot)
	if _, err := s.accounts.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("写入账户 %d 失败: %w", snapshot.Account, err)
	}
	return nil
}

// GetAccount 获取单个账户
func (s *MongoStorage) GetAccount(ctx context.Context, account int64) (*model.AccountSnapshot, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var acc model.AccountSnapshot
	err := s.accounts.FindOne(ctx, bson.M{model.FieldAccount: account}).Decode(&acc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("获取账户 %d 失败: %w", account, err)
	}
	return &acc, nil
}

// ListAccounts 获取全部账户
func (s *MongoStorage) ListAccounts(ctx context.Context) ([]*model.AccountSnapshot, error) {
	return s.findAccounts(ctx, bson.M{})
}

// ListAccountsByBridge 获取桥接下的账户
func (s *MongoStorage) ListAccountsByBridge(ctx context.Context, bridgeID string) ([]*model.AccountSnapshot, error) {
	return s.findAccounts(ctx, bson.M{model.FieldBridgeID: bridgeID})
}

func (s *MongoStorage) findAccounts(ctx context.Context, filter bson.M) ([]*model.AccountSnapshot, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cursor, err := s.accounts.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: model.FieldAccount, Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("查询账户失败: %w", err)
	}
	accounts := []*model.AccountSnapshot{}
	if err := cursor.All(ctx, &accounts); err != nil {
		return nil, fmt.Errorf("解析账户失败: %w", err)
	}
	return accounts, nil
}

// CountAccountsByBridge 统计桥接下的账户数
func (s *MongoStorage) CountAccountsByBridge(ctx context.Context, bridgeID string) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.accounts.CountDocuments(ctx, bson.M{model.FieldBridgeID: bridgeID})
	if err != nil {
		return 0, fmt.Errorf("统计桥接 %s 账户数失败: %w", bridgeID, err)
	}
	return int(n), nil
}

// LastSyncByBridge 桥接下最近一次同步时间
func (s *MongoStorage) LastSyncByBridge(ctx context.Context, bridgeID string) (time.Time, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc struct {
		LastSync time.Time `bson:"last_sync_timestamp"`
	}
	opts := options.FindOne().
		SetSort(bson.D{{Key: model.FieldLastSyncTimestamp, Value: -1}}).
		SetProjection(bson.M{model.FieldLastSyncTimestamp: 1})
	err := s.accounts.FindOne(ctx, bson.M{model.FieldBridgeID: bridgeID}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("获取桥接 %s 同步时间失败: %w", bridgeID, err)
	}
	return doc.LastSync, nil
}

// InsertDeals 无序批量写入，忽略唯一索引冲突
func (s *MongoStorage) InsertDeals(ctx context.Context, deals []*model.Deal) (int, error) {
	if len(deals) == 0 {
		return 0, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	docs := make([]interface{}, 0, len(deals))
	for _, d := range deals {
		docs = append(docs, d)
	}

	_, err := s.deals.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	duplicates, err := countDuplicates(err)
	if err != nil {
		return 0, fmt.Errorf("写入成交记录失败: %w", err)
	}
	return len(deals) - duplicates, nil
}

// countDuplicates 统计批量写入中的重复键错误，存在其他错误时原样返回
func countDuplicates(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var bulkErr mongo.BulkWriteException
	if !errors.As(err, &bulkErr) {
		return 0, err
	}
	if bulkErr.WriteConcernError != nil {
		return 0, err
	}
	duplicates := 0
	for _, we := range bulkErr.WriteErrors {
		if we.Code != duplicateKeyCode {
			return 0, err
		}
		duplicates++
	}
	return duplicates, nil
}

// LatestDealTime 账号最新成交时间
func (s *MongoStorage) LatestDealTime(ctx context.Context, account int64) (time.Time, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var d model.Deal
	opts := options.FindOne().SetSort(bson.D{{Key: "time", Value: -1}})
	err := s.deals.FindOne(ctx, bson.M{"account": account}, opts).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("获取账户 %d 最新成交失败: %w", account, err)
	}
	return d.Time, nil
}

// ListDeals 按时间升序返回成交
func (s *MongoStorage) ListDeals(ctx context.Context, account int64, since time.Time) ([]*model.Deal, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"account": account}
	if !since.IsZero() {
		filter["time"] = bson.M{"$gte": since.UTC()}
	}
	cursor, err := s.deals.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "time", Value: 1}, {Key: "ticket", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("查询账户 %d 成交失败: %w", account, err)
	}
	deals := []*model.Deal{}
	if err := cursor.All(ctx, &deals); err != nil {
		return nil, fmt.Errorf("解析成交失败: %w", err)
	}
	return deals, nil
}

// AppendAlert 追加告警
func (s *MongoStorage) AppendAlert(ctx context.Context, alert *model.Alert) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.alerts.InsertOne(ctx, alert); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("写入告警失败: %w", err)
	}
	return nil
}

// ListAlerts 查询告警历史，按时间倒序
func (s *MongoStorage) ListAlerts(ctx context.Context, query AlertQuery) ([]*model.Alert, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{}
	if !query.Since.IsZero() {
		filter["timestamp"] = bson.M{"$gte": query.Since.UTC()}
	}
	if query.BridgeID != "" {
		filter["bridge_id"] = query.BridgeID
	}

	cursor, err := s.alerts.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("查询告警历史失败: %w", err)
	}
	alerts := []*model.Alert{}
	if err := cursor.All(ctx, &alerts); err != nil {
		return nil, fmt.Errorf("解析告警失败: %w", err)
	}
	return alerts, nil
}

// AcknowledgeAlert 确认告警
func (s *MongoStorage) AcknowledgeAlert(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.alerts.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"acknowledged": true}})
	if err != nil {
		return fmt.Errorf("确认告警 %s 失败: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// PruneAlerts 删除 before 之前的告警
func (s *MongoStorage) PruneAlerts(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.alerts.DeleteMany(ctx, bson.M{"timestamp": bson.M{"$lt": before.UTC()}})
	if err != nil {
		return 0, fmt.Errorf("清理过期告警失败: %w", err)
	}
	return res.DeletedCount, nil
}
