package utils

import (
	"context"
	"encoding/json"
	"os"
	"reflect"
	"strconv"
	"time"

	"bitbucket.org/mediaflowhq/publisher_backend/config"
	"github.com/redis/go-redis/v9"
)

func GetCacheLifespan() time.Duration {
	lifespan, err := strconv.Atoi(os.Getenv("CACHE_MINUTE_LIFESPAN"))
	if err != nil {
		return 15 * time.Minute
	}
	return time.Duration(lifespan) * time.Minute
}

func GetTypeName[T any]() string {
	var v T
	t := reflect.TypeOf(v)
	if t == nil {
		return "unknown"
	}
	return t.Name()
}

// StoreRedis caches an object under its type name and id.
func StoreRedis[T any](ctx context.Context, id string, obj *T) error {
	rdb := config.GetRedisDB()
	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	key := GetTypeName[T]() + ":" + id
	return rdb.Set(ctx, key, data, GetCacheLifespan()).Err()
}

// RetrieveRedis returns the cached object or ErrorRecordNotFound on a miss.
func RetrieveRedis[T any](ctx context.Context, id string) (*T, error) {
	rdb := config.GetRedisDB()
	key := GetTypeName[T]() + ":" + id
	data, err := rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrorRecordNotFound
	} else if err != nil {
		return nil, err
	}

	var obj T
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

func RemoveRedisItem[T any](ctx context.Context, id string) error {
	rdb := config.GetRedisDB()
	key := GetTypeName[T]() + ":" + id
	return rdb.Del(ctx, key).Err()
}
