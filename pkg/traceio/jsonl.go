package traceio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"

	lferrors "github.com/logflow/tracemine/pkg/errors"
	"github.com/logflow/tracemine/pkg/event"
	"github.com/logflow/tracemine/pkg/tracegraph"
)

// JSONLLoader reads one event object per line:
//
//	{"trace":"t1","type":"open","host":"p0","time":[1,0],"id":"a","links":[{"relation":"rpc","from":"b"}]}
//
// time is optional and may also be a "1,0" string. A link adds an edge of
// the named relation from the event with id "from" (same trace) to this one.
type JSONLLoader struct{}

type jsonEvent struct {
	Trace string          `json:"trace"`
	Type  string          `json:"type"`
	Host  string          `json:"host"`
	Time  json.RawMessage `json:"time"`
	ID    string          `json:"id"`
	Links []jsonLink      `json:"links"`
}

type jsonLink struct {
	Relation string `json:"relation"`
	From     string `json:"from"`
}

// Load implements Loader.
func (l *JSONLLoader) Load(ctx context.Context, r io.Reader, source string) ([]tracegraph.Trace, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)

	c := newCollector(source)
	lineNum := 0
	for scanner.Scan() {
		if err := canceled(ctx, source); err != nil {
			return nil, err
		}
		lineNum++

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var je jsonEvent
		if err := json.Unmarshal(line, &je); err != nil {
			return nil, lferrors.Wrap(err, lferrors.CodeInvalidFormat, "invalid JSON line").
				WithContext("source", source).
				WithContext("line", lineNum)
		}
		if je.Type == "" {
			return nil, lferrors.MalformedTrace(je.Trace, "event has no type").
				WithContext("source", source).
				WithContext("line", lineNum)
		}

		vt, err := decodeTime(je.Time)
		if err != nil {
			return nil, lferrors.Wrap(err, lferrors.CodeMalformedTrace, "invalid vector time").
				WithContext("trace", je.Trace).
				WithContext("source", source).
				WithContext("line", lineNum)
		}

		e := event.New(newType(je.Type, je.Host))
		e.Time = vt
		e.Line = lineNum
		pos := c.add(je.Trace, e)

		p := c.trace(je.Trace)
		if je.ID != "" {
			if _, dup := p.ids[je.ID]; dup {
				return nil, lferrors.MalformedTrace(je.Trace, "duplicate event id").
					WithContext("id", je.ID).
					WithContext("line", lineNum)
			}
			p.ids[je.ID] = pos
		}
		for _, jl := range je.Links {
			p.links = append(p.links, pendingLink{
				relation: jl.Relation,
				from:     jl.From,
				to:       pos,
				line:     lineNum,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeInvalidFormat, "failed to read input").
			WithContext("source", source)
	}
	return c.finish()
}

func decodeTime(raw json.RawMessage) (event.VectorTime, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		return event.ParseVectorTime(s)
	}
	var vt []int
	if err := json.Unmarshal(raw, &vt); err != nil {
		return nil, err
	}
	if len(vt) == 0 {
		return nil, nil
	}
	return event.VectorTime(vt), nil
}
