package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"seat-gateway/allocation/domain"
)

// availabilityScript só avança o hash se a sequência for maior que a gravada,
// então eventos duplicados ou atrasados não regridem o cache.
var availabilityScript = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], 'sequence') or '0')
local seq = tonumber(ARGV[1])
if seq <= cur then
	return 0
end
redis.call('HSET', KEYS[1], 'sequence', ARGV[1], 'remaining', ARGV[2], 'capacity', ARGV[3])
redis.call('PUBLISH', KEYS[2], ARGV[4])
return 1
`)

// Availability é o que fica no cache.
type Availability struct {
	Remaining int    `json:"remaining"`
	Capacity  int    `json:"capacity"`
	Sequence  uint64 `json:"sequence"`
}

// RedisAvailabilityCache é um assinante do Emitter: mantém o restante num hash
// e republica o evento num canal pub/sub. Nunca é fonte da verdade.
type RedisAvailabilityCache struct {
	rdb     *redis.Client
	key     string
	channel string
}

// PoolKeyPrefix monta o prefixo das chaves Redis de um pool: "<prefix>:<pool>".
// Pools diferentes no mesmo Redis nunca compartilham chaves.
func PoolKeyPrefix(prefix, poolName string) string {
	prefix = strings.Trim(prefix, ":")
	if prefix == "" {
		prefix = "seats"
	}
	poolName = strings.Trim(strings.TrimSpace(poolName), ":")
	if poolName == "" {
		poolName = "default"
	}
	return prefix + ":" + poolName
}

// NewRedisAvailabilityCache usa "<prefix>:<pool>:availability" e o canal "<prefix>:<pool>:events".
func NewRedisAvailabilityCache(rdb *redis.Client, prefix, poolName string) *RedisAvailabilityCache {
	base := PoolKeyPrefix(prefix, poolName)
	return &RedisAvailabilityCache{
		rdb:     rdb,
		key:     base + ":availability",
		channel: base + ":events",
	}
}

func (c *RedisAvailabilityCache) Key() string     { return c.key }
func (c *RedisAvailabilityCache) Channel() string { return c.channel }

// Handle implementa domain.Subscriber.
func (c *RedisAvailabilityCache) Handle(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = availabilityScript.Run(ctx, c.rdb,
		[]string{c.key, c.channel},
		ev.Sequence, ev.Remaining, ev.Capacity, payload,
	).Int()
	return err
}

// Read retorna o último valor em cache. ok=false se ainda não há nada.
func (c *RedisAvailabilityCache) Read(ctx context.Context) (Availability, bool, error) {
	raw, err := c.rdb.HGetAll(ctx, c.key).Result()
	if err != nil {
		return Availability{}, false, err
	}
	if len(raw) == 0 {
		return Availability{}, false, nil
	}

	var a Availability
	if a.Remaining, err = strconv.Atoi(raw["remaining"]); err != nil {
		return Availability{}, false, fmt.Errorf("cached remaining: %w", err)
	}
	if a.Capacity, err = strconv.Atoi(raw["capacity"]); err != nil {
		return Availability{}, false, fmt.Errorf("cached capacity: %w", err)
	}
	if a.Sequence, err = strconv.ParseUint(raw["sequence"], 10, 64); err != nil {
		return Availability{}, false, fmt.Errorf("cached sequence: %w", err)
	}
	return a, true, nil
}
