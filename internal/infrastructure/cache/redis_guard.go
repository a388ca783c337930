package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisConfig conexión a Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient abre la conexión y la verifica con PING.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: conectar a Redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// RedisGuard candado distribuido con SET NX + TTL; la liberación compara el token
// en un script para no borrar un candado ajeno ya expirado y retomado.
type RedisGuard struct {
	client *redis.Client
	prefix string
	script *redis.Script
}

// NewRedisGuard prefix por defecto "cfdi:stamp:".
func NewRedisGuard(client *redis.Client, prefix string) *RedisGuard {
	if prefix == "" {
		prefix = "cfdi:stamp:"
	}
	return &RedisGuard{client: client, prefix: prefix, script: redis.NewScript(releaseScript)}
}

func (g *RedisGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if key == "" || ttl <= 0 {
		return "", fmt.Errorf("cache: clave vacía o ttl no positivo")
	}
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, g.prefix+key, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("cache: adquirir candado: %w", err)
	}
	if !ok {
		return "", inFlight(key)
	}
	return token, nil
}

func (g *RedisGuard) Release(ctx context.Context, key, token string) error {
	if key == "" || token == "" {
		return nil
	}
	if err := g.script.Run(ctx, g.client, []string{g.prefix + key}, token).Err(); err != nil {
		return fmt.Errorf("cache: liberar candado: %w", err)
	}
	return nil
}

var (
	_ StampGuard = (*RedisGuard)(nil)
	_ StampGuard = (*MemoryGuard)(nil)
)
