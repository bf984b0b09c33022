package provider

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"

	"eidolon/model"
)

// parseGoroutineDump turns runtime.Stack(all=true) output into ThreadInfo
// records. A goroutine is named after its entry function: the last frame
// above the "created by" line, or the last frame when there is none.
func parseGoroutineDump(dump []byte) []ThreadInfo {
	var (
		out     []ThreadInfo
		cur     *ThreadInfo
		lastFn  string
		created bool
	)
	finish := func() {
		if cur == nil {
			return
		}
		cur.Name = lastFn
		out = append(out, *cur)
		cur = nil
		lastFn = ""
		created = false
	}

	sc := bufio.NewScanner(bytes.NewReader(dump))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "goroutine "):
			finish()
			info, ok := parseGoroutineHeader(line)
			if !ok {
				continue
			}
			cur = &info
		case cur == nil, line == "", strings.HasPrefix(line, "\t"):
			// file:line rows and separators
		case strings.HasPrefix(line, "created by "):
			created = true
		case strings.HasPrefix(line, "...additional frames elided..."):
		default:
			if !created {
				lastFn = frameFunction(line)
			}
		}
	}
	finish()
	return out
}

// parseGoroutineHeader handles "goroutine 7 [chan receive, 3 minutes]:" and the
// GOTRACEBACK=system form "goroutine 7 gp=0x... m=nil [running]:".
func parseGoroutineHeader(line string) (ThreadInfo, bool) {
	rest := strings.TrimPrefix(line, "goroutine ")
	sp := strings.IndexByte(rest, ' ')
	if sp <= 0 {
		return ThreadInfo{}, false
	}
	id, err := strconv.ParseInt(rest[:sp], 10, 64)
	if err != nil {
		return ThreadInfo{}, false
	}
	open := strings.IndexByte(rest, '[')
	end := strings.LastIndexByte(rest, ']')
	if open < 0 || end <= open {
		return ThreadInfo{}, false
	}
	reason := rest[open+1 : end]
	return ThreadInfo{
		ID:         id,
		State:      model.ClassifyWaitReason(reason),
		WaitReason: reason,
	}, true
}

func frameFunction(line string) string {
	line = strings.TrimSpace(line)
	if idx := strings.LastIndexByte(line, '('); idx > 0 {
		return line[:idx]
	}
	return line
}
