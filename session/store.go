package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when no live session exists at the requested jti.
var ErrNotFound = errors.New("session not found")

// ErrExpired is returned when the session at the requested jti is past its expiry.
var ErrExpired = errors.New("session expired")

// ErrConflict is returned when a session already exists at the jti being created.
var ErrConflict = errors.New("session already exists")

// ErrHashMismatch is returned when the presented refresh hash does not match
// the stored one. The rotation engine treats this as tampering.
var ErrHashMismatch = errors.New("refresh hash mismatch")

// ErrFamilyMismatch is returned when the presented family id does not match
// the stored session's lineage.
var ErrFamilyMismatch = errors.New("token family mismatch")

// ErrCorrupt is returned when a stored session blob cannot be decoded.
var ErrCorrupt = errors.New("session blob corrupt")

// ErrRedisUnavailable wraps any Redis transport or scripting failure. The
// gateway fails closed on it.
var ErrRedisUnavailable = errors.New("redis unavailable")

const (
	rotateStatusNotFound       int64 = 0
	rotateStatusExpired        int64 = 1
	rotateStatusFamilyMismatch int64 = 2
	rotateStatusHashMismatch   int64 = 3
	rotateStatusRotated        int64 = 4
)

// rotateScript consumes the parent session and installs the child in one
// atomic step. The child blob is the parent blob with the refresh hash and
// timestamps spliced at their fixed offsets, so the lineage fields carry
// over byte-for-byte. Exactly one of N concurrent callers presenting the
// same parent can observe status 4.
const rotateScript = `
local function read_be64(s, i)
  local v = 0
  for off = 0, 7 do
    local b = string.byte(s, i + off)
    if not b then
      return nil
    end
    v = v * 256 + b
  end
  return v
end

local old_key = KEYS[1]
local new_key = KEYS[2]
local user_key = KEYS[3]
local family_key = KEYS[4]

local old_id = ARGV[1]
local new_id = ARGV[2]
local family_id = ARGV[3]
local provided_hash = ARGV[4]
local next_hash = ARGV[5]
local created_be64 = ARGV[6]
local expires_be64 = ARGV[7]
local ttl_ms = tonumber(ARGV[8])
local now_unix = tonumber(ARGV[9])

local data = redis.call("GET", old_key)
if not data then
  return {0}
end

local stored_hash = string.sub(data, 2, 33)
local expires_at = read_be64(data, 42)
local fid_len = string.byte(data, 50)
if not expires_at or not fid_len then
  return {0}
end
local stored_fid = string.sub(data, 51, 50 + fid_len)

local function purge()
  redis.call("DEL", old_key)
  redis.call("SREM", user_key, old_id)
  redis.call("SREM", family_key, old_id)
end

if stored_fid ~= family_id then
  purge()
  return {2}
end

if expires_at <= now_unix then
  purge()
  return {1}
end

if stored_hash ~= provided_hash then
  purge()
  return {3}
end

local updated = string.char(1) .. next_hash .. created_be64 .. expires_be64 .. string.sub(data, 50)

redis.call("DEL", old_key)
redis.call("SET", new_key, updated, "PX", ttl_ms)
redis.call("SREM", user_key, old_id)
redis.call("SADD", user_key, new_id)
redis.call("PEXPIRE", user_key, ttl_ms)
redis.call("SREM", family_key, old_id)
redis.call("SADD", family_key, new_id)
redis.call("PEXPIRE", family_key, ttl_ms)

return {4, updated}
`

var rotateLua = redis.NewScript(rotateScript)

const deleteScript = `
local existed = redis.call("EXISTS", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
redis.call("SREM", KEYS[3], ARGV[1])
if existed == 1 then
  redis.call("DEL", KEYS[1])
end
return existed
`

var deleteLua = redis.NewScript(deleteScript)

// Store is a Redis-backed session store handling persistence, expiry, and
// atomic refresh rotation for all actor types. Keys are partitioned by
// actor type so admin and teacher sessions never collide.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a session [Store] backed by the given Redis client.
// prefix sets the Redis key namespace.
func NewStore(redisClient redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "es"
	}
	return &Store{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *Store) key(actorType, id string) string {
	return s.prefix + ":" + actorType + ":" + id
}

func (s *Store) userKey(actorType, userID string) string {
	return s.prefix + ":u:" + actorType + ":" + userID
}

func (s *Store) familyKey(actorType, familyID string) string {
	return s.prefix + ":f:" + actorType + ":" + familyID
}

// Save inserts a session with the given TTL. Fails with [ErrConflict] if a
// session already exists at the same jti.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	created, err := s.redis.SetNX(ctx, s.key(sess.ActorType, sess.ID), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if !created {
		return ErrConflict
	}

	userKey := s.userKey(sess.ActorType, sess.UserID)
	familyKey := s.familyKey(sess.ActorType, sess.FamilyID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, userKey, sess.ID)
		pipe.PExpire(ctx, userKey, ttl)
		pipe.SAdd(ctx, familyKey, sess.ID)
		pipe.PExpire(ctx, familyKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Get retrieves a session by actor type and jti. An expired record is
// deleted and reported as [ErrNotFound].
func (s *Store) Get(ctx context.Context, actorType, id string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(actorType, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, errors.Join(ErrCorrupt, err)
	}
	sess.ID = id

	if time.Now().Unix() >= sess.ExpiresAt {
		if err := s.Delete(ctx, actorType, id); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	return sess, nil
}

// Rotate atomically consumes the session at oldID and installs its child at
// newID under the same family. The child inherits every lineage field of
// the parent; only the refresh hash and timestamps change.
//
// Returns the child session on success, or [ErrNotFound] / [ErrExpired] /
// [ErrFamilyMismatch] / [ErrHashMismatch] when the compare step fails. A
// caller losing a concurrent race observes [ErrNotFound].
func (s *Store) Rotate(
	ctx context.Context,
	actorType, oldID, newID, familyID, userID string,
	providedHash, nextHash [32]byte,
	createdAt, expiresAt int64,
	ttl time.Duration,
) (*Session, error) {
	var created, expires [8]byte
	binary.BigEndian.PutUint64(created[:], uint64(createdAt))
	binary.BigEndian.PutUint64(expires[:], uint64(expiresAt))

	result, err := rotateLua.Run(
		ctx,
		s.redis,
		[]string{
			s.key(actorType, oldID),
			s.key(actorType, newID),
			s.userKey(actorType, userID),
			s.familyKey(actorType, familyID),
		},
		oldID,
		newID,
		familyID,
		providedHash[:],
		nextHash[:],
		created[:],
		expires[:],
		ttl.Milliseconds(),
		time.Now().Unix(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid rotate script response", ErrRedisUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid rotate script status", ErrRedisUnavailable)
	}

	switch code {
	case rotateStatusNotFound:
		return nil, ErrNotFound
	case rotateStatusExpired:
		return nil, ErrExpired
	case rotateStatusFamilyMismatch:
		return nil, ErrFamilyMismatch
	case rotateStatusHashMismatch:
		return nil, ErrHashMismatch
	case rotateStatusRotated:
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: missing rotated session payload", ErrRedisUnavailable)
		}
		var blob []byte
		switch v := parts[1].(type) {
		case string:
			blob = []byte(v)
		case []byte:
			blob = v
		default:
			return nil, fmt.Errorf("%w: invalid rotated session payload", ErrRedisUnavailable)
		}

		sess, decErr := Decode(blob)
		if decErr != nil {
			return nil, errors.Join(ErrCorrupt, decErr)
		}
		sess.ID = newID
		return sess, nil
	default:
		return nil, fmt.Errorf("%w: unknown rotate script status %d", ErrRedisUnavailable, code)
	}
}

// Delete removes a session and its index entries. Deleting an absent jti is
// a no-op.
func (s *Store) Delete(ctx context.Context, actorType, id string) error {
	data, err := s.redis.Get(ctx, s.key(actorType, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		// Index membership is unknown for a corrupt blob; drop the key alone.
		if delErr := s.redis.Del(ctx, s.key(actorType, id)).Err(); delErr != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, delErr)
		}
		return nil
	}

	_, err = deleteLua.Run(
		ctx,
		s.redis,
		[]string{
			s.key(actorType, id),
			s.userKey(actorType, sess.UserID),
			s.familyKey(actorType, sess.FamilyID),
		},
		id,
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// DeleteAllForUser removes every live session of a user within an actor
// type and returns how many session records were deleted.
//
// ATOMICITY NOTE: the read of the user's session set and the deletion run
// as separate steps. A session created between them is not captured by this
// call; it expires naturally or is caught by the next invocation. Family
// sets are left to their TTL, and stale members are tolerated by readers.
func (s *Store) DeleteAllForUser(ctx context.Context, actorType, userID string) (int, error) {
	userKey := s.userKey(actorType, userID)

	ids, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.key(actorType, id))
	}

	var deleted *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			deleted = pipe.Del(ctx, keys...)
		}
		pipe.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if deleted == nil {
		return 0, nil
	}
	return int(deleted.Val()), nil
}

// DeleteFamily removes every live session of a token family and returns how
// many session records were deleted. userID prunes the user index in the
// same transaction.
func (s *Store) DeleteFamily(ctx context.Context, actorType, familyID, userID string) (int, error) {
	familyKey := s.familyKey(actorType, familyID)

	ids, err := s.redis.SMembers(ctx, familyKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	keys := make([]string, 0, len(ids))
	members := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.key(actorType, id))
		members = append(members, id)
	}

	var deleted *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			deleted = pipe.Del(ctx, keys...)
			pipe.SRem(ctx, s.userKey(actorType, userID), members...)
		}
		pipe.Del(ctx, familyKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if deleted == nil {
		return 0, nil
	}
	return int(deleted.Val()), nil
}

// ActiveSessionIDs returns the tracked jtis for a user. Membership may
// include entries whose session key has just expired; callers needing
// certainty must Get each id.
func (s *Store) ActiveSessionIDs(ctx context.Context, actorType, userID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(actorType, userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
