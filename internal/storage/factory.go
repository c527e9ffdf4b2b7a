package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/life2you_mini/bridgesync/internal/config"
	redisclient "github.com/life2you_mini/bridgesync/internal/redis"
)

// Open 按配置的驱动创建并初始化存储
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Storage, error) {
	var (
		store Storage
		err   error
	)

	switch cfg.Driver {
	case StorageTypeMongo:
		store, err = NewMongoStorage(ctx, cfg.Mongo, cfg.OpTimeout, logger)
	case StorageTypeRedis:
		client, cerr := redisclient.NewRedisClient(redisclient.ClientOptions{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if cerr != nil {
			return nil, fmt.Errorf("连接Redis失败: %w", cerr)
		}
		store = NewRedisStorage(client, cfg.Redis.KeyPrefix, cfg.OpTimeout, logger)
	default:
		return nil, fmt.Errorf("不支持的存储驱动: %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := store.Initialize(ctx); err != nil {
		_ = store.Close(ctx)
		return nil, err
	}

	logger.Info("同步存储已就绪", zap.String("driver", cfg.Driver))
	return store, nil
}
