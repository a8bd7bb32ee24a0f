package broker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Yybrook/stamping-inspection-cameras-ctrl/internal/pressmodel"
)

// This file layers the press/shuttle domain vocabulary over the generic
// primitives in broker.go. Each function owns exactly one key from
// keys.go.

// --- press:programId ----------------------------------------------------

func (b *Broker) PublishProgramID(ctx context.Context, line pressmodel.Line, id pressmodel.ProgramID) error {
	_, err := b.AppendStream(ctx, ProgramIDKey(line), map[string]interface{}{"program_id": uint16(id)}, 0)
	return err
}

func (b *Broker) LatestProgramID(ctx context.Context, line pressmodel.Line) (int64, pressmodel.ProgramID, error) {
	ev, err := b.LatestStream(ctx, ProgramIDKey(line))
	if err != nil {
		return 0, 0, err
	}
	id, ts, err := parseUintField(ev, "program_id")
	return ts, pressmodel.ProgramID(id), err
}

// FollowProgramID returns a Follower yielding (timestamp_ms, ProgramID)
// pairs. A nil error with ok=true and an empty event ID means "no new
// message this poll" -- callers loop and re-check their stop signal.
func (b *Broker) FollowProgramID(line pressmodel.Line, blockMs int64, includeLast bool) *Follower {
	return b.FollowStream(ProgramIDKey(line), blockMs, includeLast)
}

// --- press:runningStatus -------------------------------------------------

func (b *Broker) PublishRunningStatus(ctx context.Context, line pressmodel.Line, running bool) error {
	_, err := b.AppendStream(ctx, RunningStatusKey(line), map[string]interface{}{"running_status": boolToInt(running)}, 0)
	return err
}

func (b *Broker) LatestRunningStatus(ctx context.Context, line pressmodel.Line) (int64, bool, error) {
	ev, err := b.LatestStream(ctx, RunningStatusKey(line))
	if err != nil {
		return 0, false, err
	}
	v, ts, err := parseUintField(ev, "running_status")
	return ts, v != 0, err
}

func (b *Broker) FollowRunningStatus(line pressmodel.Line, blockMs int64, includeLast bool) *Follower {
	return b.FollowStream(RunningStatusKey(line), blockMs, includeLast)
}

// --- press:partCounter ----------------------------------------------------

func (b *Broker) PublishPartCounter(ctx context.Context, line pressmodel.Line, count pressmodel.PartCounter) error {
	_, err := b.AppendStream(ctx, PartCounterKey(line), map[string]interface{}{"part_counter": uint32(count)}, 0)
	return err
}

func (b *Broker) LatestPartCounter(ctx context.Context, line pressmodel.Line) (int64, pressmodel.PartCounter, error) {
	ev, err := b.LatestStream(ctx, PartCounterKey(line))
	if err != nil {
		return 0, 0, err
	}
	v, ts, err := parseUintField(ev, "part_counter")
	return ts, pressmodel.PartCounter(v), err
}

func (b *Broker) FollowPartCounter(line pressmodel.Line, blockMs int64, includeLast bool) *Follower {
	return b.FollowStream(PartCounterKey(line), blockMs, includeLast)
}

// --- shuttle:runningCamera -------------------------------------------------

func (b *Broker) AddRunningCamera(ctx context.Context, line pressmodel.Line, ip string) error {
	return b.SAdd(ctx, RunningCameraKey(line), ip)
}

// RemoveRunningCamera removes ip from the running set, and deletes the
// key outright once no members remain.
func (b *Broker) RemoveRunningCamera(ctx context.Context, line pressmodel.Line, ip string) error {
	if err := b.SRem(ctx, RunningCameraKey(line), ip); err != nil {
		return err
	}
	n, err := b.RunningCameraCount(ctx, line)
	if err != nil {
		return err
	}
	if n == 0 {
		return b.ClearFlag(ctx, RunningCameraKey(line))
	}
	return nil
}

func (b *Broker) RunningCameraCount(ctx context.Context, line pressmodel.Line) (int64, error) {
	return b.SCard(ctx, RunningCameraKey(line))
}

func (b *Broker) IsCameraRunning(ctx context.Context, line pressmodel.Line, ip string) (bool, error) {
	return b.SIsMember(ctx, RunningCameraKey(line), ip)
}

func (b *Broker) RunningCameras(ctx context.Context, line pressmodel.Line) ([]string, error) {
	return b.SMembers(ctx, RunningCameraKey(line))
}

// --- shuttle:matrix / meta / photographed -----------------------------------

// PutFrame writes a frame's pixel bytes, its metadata hash, and its
// photographed-set membership in a single non-transactional pipeline, all
// sharing ttl. Readers tolerate partial visibility by retrying until
// photographed-set membership is observed.
func (b *Broker) PutFrame(ctx context.Context, line pressmodel.Line, program pressmodel.ProgramID, count pressmodel.PartCounter, ip string, data []byte, meta map[string]interface{}, ttl time.Duration) error {
	pipe := b.rdb.Pipeline()
	pipe.Set(ctx, MatrixKey(line, program, count, ip), data, ttl)
	pipe.HSet(ctx, MetaKey(line, program, count, ip), meta)
	pipe.PExpire(ctx, MetaKey(line, program, count, ip), ttl)
	pipe.SAdd(ctx, PhotographedKey(line, program, count), ip)
	pipe.PExpire(ctx, PhotographedKey(line, program, count), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("broker: put frame %s/%d/%d/%s: %w", line, program, count, ip, err)
	}
	return nil
}

func (b *Broker) PhotographedIPs(ctx context.Context, line pressmodel.Line, program pressmodel.ProgramID, count pressmodel.PartCounter) ([]string, error) {
	return b.SMembers(ctx, PhotographedKey(line, program, count))
}

// UnphotographedIPs returns runningCamera(line) minus photographed(line,
// program, count): the cameras the collector is still waiting on.
func (b *Broker) UnphotographedIPs(ctx context.Context, line pressmodel.Line, program pressmodel.ProgramID, count pressmodel.PartCounter) ([]string, error) {
	return b.SDiff(ctx, RunningCameraKey(line), PhotographedKey(line, program, count))
}

// GetFrame fetches one camera's raw frame bytes and metadata hash in a
// single pipeline.
func (b *Broker) GetFrame(ctx context.Context, line pressmodel.Line, program pressmodel.ProgramID, count pressmodel.PartCounter, ip string) ([]byte, map[string]string, error) {
	pipe := b.rdb.Pipeline()
	blobCmd := pipe.Get(ctx, MatrixKey(line, program, count, ip))
	hashCmd := pipe.HGetAll(ctx, MetaKey(line, program, count, ip))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, nil, fmt.Errorf("broker: get frame %s/%d/%d/%s: %w", line, program, count, ip, err)
	}
	data, err := blobCmd.Bytes()
	if err != nil {
		return nil, nil, fmt.Errorf("broker: get frame blob %s/%d/%d/%s: %w", line, program, count, ip, err)
	}
	meta, err := hashCmd.Result()
	if err != nil {
		return nil, nil, fmt.Errorf("broker: get frame meta %s/%d/%d/%s: %w", line, program, count, ip, err)
	}
	return data, meta, nil
}

// BatchGetFrames fetches every ip's frame blob and metadata hash in a
// single pipeline. Per-IP failures (e.g. a key that expired between the
// photographed-set check and this fetch) are returned alongside successes
// rather than aborting the whole batch.
type FrameResult struct {
	IP   string
	Data []byte
	Meta map[string]string
	Err  error
}

func (b *Broker) BatchGetFrames(ctx context.Context, line pressmodel.Line, program pressmodel.ProgramID, count pressmodel.PartCounter, ips []string) []FrameResult {
	if len(ips) == 0 {
		return nil
	}
	pipe := b.rdb.Pipeline()
	blobCmds := make([]*redis.StringCmd, len(ips))
	hashCmds := make([]*redis.MapStringStringCmd, len(ips))
	for i, ip := range ips {
		blobCmds[i] = pipe.Get(ctx, MatrixKey(line, program, count, ip))
		hashCmds[i] = pipe.HGetAll(ctx, MetaKey(line, program, count, ip))
	}
	_, _ = pipe.Exec(ctx) // per-command errors are surfaced below; a pipeline-level error here is redundant with them

	out := make([]FrameResult, len(ips))
	for i, ip := range ips {
		out[i].IP = ip
		data, err := blobCmds[i].Bytes()
		if err != nil {
			out[i].Err = fmt.Errorf("broker: get frame blob %s/%d/%d/%s: %w", line, program, count, ip, err)
			continue
		}
		meta, err := hashCmds[i].Result()
		if err != nil {
			out[i].Err = fmt.Errorf("broker: get frame meta %s/%d/%d/%s: %w", line, program, count, ip, err)
			continue
		}
		out[i].Data, out[i].Meta = data, meta
	}
	return out
}

// --- shuttle:lightEnable -------------------------------------------------

// SetLampEnable creates the lamp-enable flag. With ttl<=0 it clears any
// pending expiry if the key already exists (idempotent: re-applying
// enable-forever never re-arms a timer). With ttl>0 it (re)arms the flag's
// own expiry directly.
func (b *Broker) SetLampEnable(ctx context.Context, line pressmodel.Line, ttl time.Duration) error {
	key := LightEnableKey(line)
	exists, err := b.Exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		if ttl <= 0 {
			if err := b.rdb.Persist(ctx, key).Err(); err != nil {
				return fmt.Errorf("broker: persist lamp flag %q: %w", key, err)
			}
			return nil
		}
		if err := b.rdb.Expire(ctx, key, ttl).Err(); err != nil {
			return fmt.Errorf("broker: expire lamp flag %q: %w", key, err)
		}
		return nil
	}
	return b.SetFlag(ctx, key, ttl)
}

// ArmLampAutoOff sets the lamp flag to expire in `after`, but only if it
// doesn't already have a pending TTL -- re-arming is a no-op, so it never
// shortens a TTL already counting down.
func (b *Broker) ArmLampAutoOff(ctx context.Context, line pressmodel.Line, after time.Duration) error {
	key := LightEnableKey(line)
	_, hasTTL, err := b.TTL(ctx, key)
	if err != nil {
		return err
	}
	if hasTTL {
		return nil
	}
	exists, err := b.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	if err := b.rdb.Expire(ctx, key, after).Err(); err != nil {
		return fmt.Errorf("broker: arm lamp auto-off %q: %w", key, err)
	}
	return nil
}

// LampEnabled reports whether the lamp flag currently exists.
func (b *Broker) LampEnabled(ctx context.Context, line pressmodel.Line) (bool, error) {
	return b.Exists(ctx, LightEnableKey(line))
}

// --- helpers --------------------------------------------------------------

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseUintField(ev StreamEvent, field string) (uint64, int64, error) {
	raw, ok := ev.Fields[field]
	if !ok {
		return 0, 0, fmt.Errorf("broker: stream entry %q missing field %q", ev.ID, field)
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("broker: parsing field %q of %q: %w", field, ev.ID, err)
	}
	ts, err := streamMsgTimestamp(ev.ID)
	if err != nil {
		return 0, 0, err
	}
	return v, ts, nil
}

// streamMsgTimestamp extracts the millisecond timestamp prefix of a Redis
// stream entry ID ("<ms>-<seq>").
func streamMsgTimestamp(id string) (int64, error) {
	for i := 0; i < len(id); i++ {
		if id[i] == '-' {
			ms, err := strconv.ParseInt(id[:i], 10, 64)
			if err != nil {
				return 0, fmt.Errorf("broker: parsing stream id %q: %w", id, err)
			}
			return ms, nil
		}
	}
	ms, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("broker: parsing stream id %q: %w", id, err)
	}
	return ms, nil
}
