package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Alexander0x1307376/ultra-chateg/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	channelsKey = "channels"
	namesKey    = "channel_names"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Redis keeps channels in a hash keyed by id (JSON values) and a second
// hash mapping name to id for uniqueness.
type Redis struct {
	announcer
	client *redis.Client
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &Redis{client: client}, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) List(ctx context.Context) ([]domain.ChannelInfo, error) {
	raw, err := r.client.HGetAll(ctx, channelsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	out := make([]domain.ChannelInfo, 0, len(raw))
	for id, v := range raw {
		var info domain.ChannelInfo
		if err := json.Unmarshal([]byte(v), &info); err != nil {
			log.Error().Err(err).Str("module", "directory.redis").Str("channel", id).Msg("skip corrupt entry")
			continue
		}
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b domain.ChannelInfo) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (r *Redis) Get(ctx context.Context, id domain.ChannelID) (domain.ChannelInfo, error) {
	v, err := r.client.HGet(ctx, channelsKey, string(id)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.ChannelInfo{}, ErrChannelNotFound
	}
	if err != nil {
		return domain.ChannelInfo{}, fmt.Errorf("get channel: %w", err)
	}
	var info domain.ChannelInfo
	if err := json.Unmarshal([]byte(v), &info); err != nil {
		return domain.ChannelInfo{}, fmt.Errorf("decode channel %s: %w", id, err)
	}
	return info, nil
}

func (r *Redis) put(ctx context.Context, info domain.ChannelInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return r.client.HSet(ctx, channelsKey, string(info.ID), data).Err()
}

func (r *Redis) Create(ctx context.Context, name string, owner domain.UserID) (domain.ChannelInfo, error) {
	name, err := normalizeName(name)
	if err != nil {
		return domain.ChannelInfo{}, err
	}
	info := domain.ChannelInfo{ID: domain.ChannelID(uuid.NewString()), Name: name, OwnerID: owner}

	ok, err := r.client.HSetNX(ctx, namesKey, name, string(info.ID)).Result()
	if err != nil {
		return domain.ChannelInfo{}, fmt.Errorf("reserve name: %w", err)
	}
	if !ok {
		return domain.ChannelInfo{}, ErrNameTaken
	}
	if err := r.put(ctx, info); err != nil {
		r.client.HDel(ctx, namesKey, name)
		return domain.ChannelInfo{}, fmt.Errorf("store channel: %w", err)
	}

	log.Info().Str("module", "directory.redis").Str("channel", string(info.ID)).Str("name", name).Msg("channel created")
	r.announce(info)
	return info, nil
}

func (r *Redis) Rename(ctx context.Context, id domain.ChannelID, name string, requester domain.UserID) (domain.ChannelInfo, error) {
	name, err := normalizeName(name)
	if err != nil {
		return domain.ChannelInfo{}, err
	}
	info, err := r.Get(ctx, id)
	if err != nil {
		return domain.ChannelInfo{}, err
	}
	if info.OwnerID != requester {
		return domain.ChannelInfo{}, ErrNotOwner
	}
	if info.Name == name {
		return info, nil
	}
	ok, err := r.client.HSetNX(ctx, namesKey, name, string(id)).Result()
	if err != nil {
		return domain.ChannelInfo{}, fmt.Errorf("reserve name: %w", err)
	}
	if !ok {
		return domain.ChannelInfo{}, ErrNameTaken
	}
	old := info.Name
	info.Name = name
	if err := r.put(ctx, info); err != nil {
		r.client.HDel(ctx, namesKey, name)
		return domain.ChannelInfo{}, fmt.Errorf("store channel: %w", err)
	}
	r.client.HDel(ctx, namesKey, old)

	r.announce(info)
	return info, nil
}

func (r *Redis) Remove(ctx context.Context, id domain.ChannelID, requester domain.UserID) error {
	info, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if info.OwnerID != requester {
		return ErrNotOwner
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HDel(ctx, channelsKey, string(id))
		p.HDel(ctx, namesKey, info.Name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove channel: %w", err)
	}

	log.Info().Str("module", "directory.redis").Str("channel", string(id)).Msg("channel removed")
	r.withdraw(id)
	return nil
}

// Watch registers l and announces every stored channel to it.
func (r *Redis) Watch(ctx context.Context, l Listener) error {
	r.add(l)
	existing, err := r.List(ctx)
	if err != nil {
		return err
	}
	for _, info := range existing {
		l.ChannelAnnounced(info)
	}
	return nil
}
