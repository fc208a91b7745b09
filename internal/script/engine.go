// Package script runs Lua scripts against a central. The global "ble"
// table exposes scanning, connecting and the blocking device operations;
// print output is captured and delivered as OutputRecord values.
package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattc/internal/central"
	"github.com/srg/gattc/internal/radio"
	"github.com/srg/gattc/internal/ringchan"
)

// DefaultOutputBuffer is the capacity of the output ring.
const DefaultOutputBuffer = 256

// OutputRecord is one line written by the script.
type OutputRecord struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"` // "stdout" or "stderr"
}

// Error is a Lua failure with the location Lua reported.
type Error struct {
	Type    string // "syntax", "runtime", "api"
	Message string
	Line    int
	Source  string
}

func (e *Error) Error() string {
	parts := []string{}
	if e.Source != "" {
		parts = append(parts, fmt.Sprintf("in %s", e.Source))
	}
	if e.Line > 0 {
		parts = append(parts, fmt.Sprintf("line %d", e.Line))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Lua %s error: %s", e.Type, e.Message)
	}
	return fmt.Sprintf("Lua %s error (%s): %s", e.Type, strings.Join(parts, ", "), e.Message)
}

// Is matches another *Error of the same Type.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Type == other.Type
	}
	return false
}

// Options configures an Engine.
type Options struct {
	Logger           *logrus.Logger
	AddrType         radio.AddrType
	ScanDuration     time.Duration
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
	OutputBuffer     int
}

// Engine owns one Lua state bound to a central. It runs one script at a time.
type Engine struct {
	central *central.Central
	opts    Options
	logger  *logrus.Logger

	mu    sync.Mutex
	state *lua.State
	ctx   context.Context
	out   *ringchan.Ring[OutputRecord]
}

// New creates an engine with a fresh Lua state.
func New(c *central.Central, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.OutputBuffer <= 0 {
		opts.OutputBuffer = DefaultOutputBuffer
	}
	if opts.ScanDuration <= 0 {
		opts.ScanDuration = 5 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = time.Second
	}

	e := &Engine{
		central: c,
		opts:    opts,
		logger:  opts.Logger,
		ctx:     context.Background(),
		out:     ringchan.New[OutputRecord](opts.OutputBuffer),
	}
	e.reset()
	return e
}

func (e *Engine) reset() {
	if e.state != nil {
		e.state.Close()
	}
	e.state = lua.NewState()
	e.state.OpenLibs()
	e.registerPrint()
	e.registerAPI()
}

// Output returns the channel captured script output is delivered on.
func (e *Engine) Output() <-chan OutputRecord {
	return e.out.C()
}

func (e *Engine) emit(source, content string) {
	if dropped := e.out.Send(OutputRecord{Content: content, Timestamp: time.Now(), Source: source}); dropped {
		e.logger.Debug("Script output buffer full, dropped oldest record")
	}
}

// registerPrint replaces print so output goes to the ring instead of stdout.
func (e *Engine) registerPrint() {
	L := e.state
	L.PushGoFunction(func(L *lua.State) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			switch L.Type(i) {
			case lua.LUA_TNIL:
				parts = append(parts, "nil")
			case lua.LUA_TBOOLEAN:
				parts = append(parts, fmt.Sprintf("%t", L.ToBoolean(i)))
			case lua.LUA_TNUMBER:
				parts = append(parts, formatNumber(L.ToNumber(i)))
			case lua.LUA_TSTRING:
				parts = append(parts, L.ToString(i))
			default:
				// For tables, functions, threads, userdata: call Lua tostring()
				L.GetGlobal("tostring")
				L.PushValue(i)
				_ = L.Call(1, 1)
				parts = append(parts, L.ToString(-1))
				L.Pop(1)
			}
		}
		e.emit("stdout", strings.Join(parts, "\t")+"\n")
		return 0
	})
	L.SetGlobal("print")
}

func formatNumber(n float64) string {
	if n == float64(int64(n)) {
		return fmt.Sprintf("%d", int64(n))
	}
	return fmt.Sprintf("%g", n)
}

// parseError pops the error message off the stack and extracts the line.
func (e *Engine) parseError(errType, source string) *Error {
	L := e.state
	if L.GetTop() == 0 {
		return &Error{Type: errType, Message: "unknown Lua error", Source: source}
	}
	msg := "non-string error object"
	if L.IsString(-1) {
		msg = L.ToString(-1)
	}
	L.Pop(1)
	return parseMessage(errType, source, msg)
}

// parseMessage splits `chunk:line: message` as produced by Lua.
func parseMessage(errType, source, msg string) *Error {
	line := 0
	message := msg
	parts := strings.SplitN(msg, ":", 3)
	if len(parts) == 3 {
		if n, err := fmt.Sscanf(strings.TrimSpace(parts[1]), "%d", &line); err == nil && n == 1 {
			message = strings.TrimSpace(parts[2])
		}
	}
	return &Error{Type: errType, Message: message, Line: line, Source: source}
}

// Run executes script with the given arguments in the arg[] table. Device
// operations issued by the script are bound to ctx.
func (e *Engine) Run(ctx context.Context, script, name string, args map[string]string) error {
	if strings.TrimSpace(script) == "" {
		return &Error{Type: "api", Message: "empty script", Source: name}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return &Error{Type: "api", Message: "engine closed", Source: name}
	}
	e.ctx = ctx
	defer func() { e.ctx = context.Background() }()

	e.setArgs(args)

	L := e.state
	if status := L.LoadString(script); status != 0 {
		luaErr := e.parseError("syntax", name)
		e.emit("stderr", fmt.Sprintf("Lua syntax error: %s", luaErr.Message))
		return luaErr
	}

	e.logger.WithFields(logrus.Fields{
		"script":      name,
		"script_size": len(script),
	}).Debug("Starting Lua script execution")

	if err := L.Call(0, 0); err != nil {
		luaErr := parseMessage("runtime", name, err.Error())
		e.emit("stderr", fmt.Sprintf("Lua runtime error: %s", luaErr.Message))
		return luaErr
	}

	e.logger.WithField("script", name).Debug("Lua script execution completed")
	return nil
}

// RunFile reads and runs a script file.
func (e *Engine) RunFile(ctx context.Context, path string, args map[string]string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read script %s: %w", path, err)
	}
	return e.Run(ctx, string(content), path, args)
}

func (e *Engine) setArgs(args map[string]string) {
	L := e.state
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	L.NewTable()
	for _, k := range keys {
		L.PushString(k)
		L.PushString(args[k])
		L.SetTable(-3)
	}
	L.SetGlobal("arg")
}

// Close releases the Lua state and closes the output channel.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != nil {
		e.state.Close()
		e.state = nil
	}
	e.out.Close()
}
