package worker

import (
	"fmt"
	"strconv"
	"strings"
)

// parseParams reads an operator's Params string as "key=value,key=value",
// the same convention internal/decomposition uses for its bridge
// operators' "channel=%d,to=%d" encoding.
func parseParams(s string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

func paramUint64(m map[string]string, key string) (uint64, error) {
	v, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("worker: missing param %q", key)
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("worker: param %q: %w", key, err)
	}
	return n, nil
}

func paramInt64(m map[string]string, key string) (int64, error) {
	v, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("worker: missing param %q", key)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("worker: param %q: %w", key, err)
	}
	return n, nil
}

func paramInt(m map[string]string, key string) (int, error) {
	n, err := paramInt64(m, key)
	return int(n), err
}

func paramString(m map[string]string, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", fmt.Errorf("worker: missing param %q", key)
	}
	return v, nil
}

// netBridgeParams is the decoded form of an OpNetSink/OpNetSource
// operator's Params string, e.g. "channel=7,to=3" or "channel=7,from=2".
type netBridgeParams struct {
	channel uint64
	peer    uint32
}

func parseNetSinkParams(raw string) (netBridgeParams, error) {
	m := parseParams(raw)
	channel, err := paramUint64(m, "channel")
	if err != nil {
		return netBridgeParams{}, err
	}
	to, err := paramUint64(m, "to")
	if err != nil {
		return netBridgeParams{}, err
	}
	return netBridgeParams{channel: channel, peer: uint32(to)}, nil
}

func parseNetSourceParams(raw string) (netBridgeParams, error) {
	m := parseParams(raw)
	channel, err := paramUint64(m, "channel")
	if err != nil {
		return netBridgeParams{}, err
	}
	from, err := paramUint64(m, "from")
	if err != nil {
		return netBridgeParams{}, err
	}
	return netBridgeParams{channel: channel, peer: uint32(from)}, nil
}

// windowParams is the decoded form of an OpWindow operator's Params
// string: "size=1000,slide=1000,allowedLateness=0,timeField=0,keyField=1,
// valueField=2,agg=SUM".
type windowParams struct {
	size, slide, allowedLateness int64
	timeField, keyField, valueField int
	agg string
}

func parseWindowParams(raw string) (windowParams, error) {
	m := parseParams(raw)
	var p windowParams
	var err error
	if p.size, err = paramInt64(m, "size"); err != nil {
		return p, err
	}
	if p.slide, err = paramInt64(m, "slide"); err != nil {
		return p, err
	}
	if p.allowedLateness, err = paramInt64(m, "allowedLateness"); err != nil {
		return p, err
	}
	if p.timeField, err = paramInt(m, "timeField"); err != nil {
		return p, err
	}
	if p.keyField, err = paramInt(m, "keyField"); err != nil {
		return p, err
	}
	if p.valueField, err = paramInt(m, "valueField"); err != nil {
		return p, err
	}
	if p.agg, err = paramString(m, "agg"); err != nil {
		return p, err
	}
	return p, nil
}

// joinParams is the decoded form of an OpJoin operator's Params string:
// "size=1000,slide=1000,allowedLateness=0,leftKey=0,rightKey=0".
type joinParams struct {
	size, slide, allowedLateness int64
	leftKey, rightKey             int
}

func parseJoinParams(raw string) (joinParams, error) {
	m := parseParams(raw)
	var p joinParams
	var err error
	if p.size, err = paramInt64(m, "size"); err != nil {
		return p, err
	}
	if p.slide, err = paramInt64(m, "slide"); err != nil {
		return p, err
	}
	if p.allowedLateness, err = paramInt64(m, "allowedLateness"); err != nil {
		return p, err
	}
	if p.leftKey, err = paramInt(m, "leftKey"); err != nil {
		return p, err
	}
	if p.rightKey, err = paramInt(m, "rightKey"); err != nil {
		return p, err
	}
	return p, nil
}
