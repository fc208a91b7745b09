package script_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/srg/gattc/internal/central"
	"github.com/srg/gattc/internal/profile"
	"github.com/srg/gattc/internal/radio"
	"github.com/srg/gattc/internal/script"
	"github.com/srg/gattc/internal/testutils"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

const testConn uint16 = 7

type EngineTestSuite struct {
	suite.Suite

	helper *testutils.TestHelper
	tr     *testutils.MockTransport
	c      *central.Central
	engine *script.Engine
	flower radio.PeerIdentity
}

func (s *EngineTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.tr = testutils.NewMockTransport()
	s.c = central.New(s.tr, central.Options{Logger: s.helper.Logger})
	s.engine = script.New(s.c, script.Options{
		Logger:           s.helper.Logger,
		ConnectTimeout:   time.Second,
		OperationTimeout: time.Second,
	})
	s.flower = radio.PeerIdentity{AddrType: radio.AddrPublic, Addr: radio.MustParseAddress("C4:7C:8D:6A:3A:27")}
}

func (s *EngineTestSuite) TearDownTest() {
	s.engine.Close()
	s.tr.Wait()
	s.tr.AssertExpectations(s.T())
}

// output drains the captured records into one string per source.
func (s *EngineTestSuite) output() (stdout, stderr string) {
	var out, errOut strings.Builder
	for {
		select {
		case rec := <-s.engine.Output():
			if rec.Source == "stderr" {
				errOut.WriteString(rec.Content)
			} else {
				out.WriteString(rec.Content)
			}
		default:
			return out.String(), errOut.String()
		}
	}
}

func (s *EngineTestSuite) expectConnect() {
	s.tr.On("Connect", s.flower).Run(func(mock.Arguments) {
		s.tr.EmitAsync(radio.PeripheralConnect{Conn: testConn, Peer: s.flower})
	}).Return(nil).Once()
}

func (s *EngineTestSuite) expectReads(values map[uint16][]byte) {
	s.tr.On("Read", testConn, mock.Anything).Run(func(args mock.Arguments) {
		h := args.Get(1).(uint16)
		s.tr.EmitAsync(
			radio.ReadResult{Conn: testConn, ValueHandle: h, Data: values[h]},
			radio.ReadDone{Conn: testConn, ValueHandle: h},
		)
	}).Return(nil)
}

func (s *EngineTestSuite) TestPrintCaptureAndArgs() {
	// GOAL: Verify print output is captured with Lua formatting and arg[] is populated
	//
	// TEST SCENARIO: print mixed values → one stdout record with tab separated values
	err := s.engine.Run(context.Background(), `print("hello", arg.name, 42, 1.5, true, nil)`, "print.lua",
		map[string]string{"name": "world"})
	s.Require().NoError(err)

	stdout, stderr := s.output()
	s.Equal("hello\tworld\t42\t1.5\ttrue\tnil\n", stdout)
	s.Empty(stderr)
}

func (s *EngineTestSuite) TestSyntaxError() {
	// GOAL: Verify syntax errors are typed and echoed on stderr
	//
	// TEST SCENARIO: unterminated function → *script.Error{Type: syntax}
	err := s.engine.Run(context.Background(), "local function broken(\n", "broken.lua", nil)

	s.Require().Error(err)
	s.ErrorIs(err, &script.Error{Type: "syntax"})
	_, stderr := s.output()
	s.Contains(stderr, "Lua syntax error")
}

func (s *EngineTestSuite) TestRuntimeErrorReportsLine() {
	// GOAL: Verify runtime errors carry the failing line
	//
	// TEST SCENARIO: error() on line 2 → *script.Error{Type: runtime, Line: 2}
	err := s.engine.Run(context.Background(), "local x = 1\nerror(\"boom\")\n", "boom.lua", nil)

	var luaErr *script.Error
	s.Require().ErrorAs(err, &luaErr)
	s.Equal("runtime", luaErr.Type)
	s.Equal(2, luaErr.Line)
	s.Equal("boom", luaErr.Message)
	s.Equal("boom.lua", luaErr.Source)
}

func (s *EngineTestSuite) TestEmptyScript() {
	err := s.engine.Run(context.Background(), "  \n", "empty.lua", nil)
	s.ErrorIs(err, &script.Error{Type: "api"})
}

func (s *EngineTestSuite) TestConnectAndSensorRead() {
	// GOAL: Verify the blocking device API drives the radio from a script
	//
	// TEST SCENARIO: connect → state/is_busy → sensor() reads 0x03, 0x38, 0x38, 0x41 → read_handle + hexdump
	s.expectConnect()
	s.expectReads(map[uint16][]byte{
		profile.HandleDeviceName:         []byte("Flower care"),
		profile.HandleFirmwareAndBattery: {0x64, 0x2b, '3', '.', '2', '.', '1'},
		profile.HandleDeviceTime:         {0x10, 0x27, 0x00, 0x00},
	})

	err := s.engine.Run(context.Background(), `
local dev = assert(ble.connect("C4:7C:8D:6A:3A:27"))
print(dev:state(), dev:is_busy(), dev.address)
local r = assert(dev:sensor())
print(r.name, r.firmware, r.battery, #r.time)
local raw = assert(dev.read_handle(0x38))
print(#raw)
print(ble.hexdump(raw))
print(dev:read("battery"))
`, "sensor.lua", nil)
	s.Require().NoError(err)

	stdout, _ := s.output()
	lines := strings.Split(stdout, "\n")
	s.Require().GreaterOrEqual(len(lines), 5)
	s.Equal("connected\tfalse\tC4:7C:8D:6A:3A:27", lines[0])
	s.Equal("Flower care\t3.2.1\t100\t4", lines[1])
	s.Equal("7", lines[2])
	s.Contains(stdout, "64 2b 33 2e 32 2e 31")
	s.Contains(stdout, "\n100\n")
}

func (s *EngineTestSuite) TestConnectFailureReturnsError() {
	// GOAL: Verify operation failures come back as nil, message instead of raising
	//
	// TEST SCENARIO: connect fails → script sees nil and a message mentioning the failure
	s.tr.On("Connect", s.flower).Run(func(mock.Arguments) {
		s.tr.EmitAsync(radio.PeripheralDisconnect{Conn: radio.InvalidConn, Peer: s.flower})
	}).Return(nil).Once()

	err := s.engine.Run(context.Background(), `
local dev, err = ble.connect("C4:7C:8D:6A:3A:27", "public")
print(dev, err)
`, "fail.lua", nil)
	s.Require().NoError(err)

	stdout, _ := s.output()
	s.True(strings.HasPrefix(stdout, "nil\t"))
	s.Contains(stdout, "connect_failed")
}

func (s *EngineTestSuite) TestBadArgumentsRaise() {
	// GOAL: Verify misuse of the API raises a Lua error
	//
	// TEST SCENARIO: ble.connect(42) → runtime error naming the argument
	err := s.engine.Run(context.Background(), `ble.connect(42)`, "bad.lua", nil)

	s.Require().Error(err)
	s.ErrorIs(err, &script.Error{Type: "runtime"})
	s.Contains(err.Error(), "argument #1 must be a string")
}

func (s *EngineTestSuite) TestScan() {
	// GOAL: Verify ble.scan returns the devices seen as Lua tables
	//
	// TEST SCENARIO: scan(1) → one named advertiser → address/name/rssi printed
	s.tr.On("Scan", time.Second).Run(func(mock.Arguments) {
		s.tr.EmitAsync(
			radio.ScanResult{Peer: s.flower, AdvType: radio.AdvInd, RSSI: -61, Data: []byte{0x05, 0x09, 'F', 'l', 'o', 'w'}},
			radio.ScanDone{},
		)
	}).Return(nil).Once()

	err := s.engine.Run(context.Background(), `
for _, d in ipairs(ble.scan(1)) do
  print(d.address, d.addr_type, d.name, d.rssi)
end
`, "scan.lua", nil)
	s.Require().NoError(err)

	stdout, _ := s.output()
	s.Equal("C4:7C:8D:6A:3A:27\tpublic\tFlow\t-61\n", stdout)
}

func (s *EngineTestSuite) TestSleepHonorsCancellation() {
	// GOAL: Verify a cancelled context stops a sleeping script
	//
	// TEST SCENARIO: context cancelled → ble.sleep raises → runtime error
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.engine.Run(ctx, `ble.sleep(5000)`, "sleep.lua", nil)
	s.Require().Error(err)
	s.Contains(err.Error(), "context canceled")
}

func (s *EngineTestSuite) TestRunWithOutput() {
	var stdout, stderr bytes.Buffer

	err := s.engine.RunWithOutput(context.Background(), "print('a')\nprint('b')\nerror('c')", "out.lua", nil, &stdout, &stderr)

	s.Require().Error(err)
	s.Equal("a\nb\n", stdout.String())
	s.Contains(stderr.String(), "Lua runtime error")
}

func (s *EngineTestSuite) TestRunFile() {
	path := filepath.Join(s.T().TempDir(), "hello.lua")
	s.Require().NoError(os.WriteFile(path, []byte(`print("from", arg.who)`), 0o600))

	s.Require().NoError(s.engine.RunFile(context.Background(), path, map[string]string{"who": "file"}))
	stdout, _ := s.output()
	s.Equal("from\tfile\n", stdout)

	err := s.engine.RunFile(context.Background(), filepath.Join(s.T().TempDir(), "missing.lua"), nil)
	s.Require().ErrorIs(err, os.ErrNotExist)
}

func TestEngineTestSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}
